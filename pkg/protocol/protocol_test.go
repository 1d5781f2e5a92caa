package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBytesAsNumberArray(t *testing.T) { // A
	raw, err := Bytes{0, 12, 255}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[0,12,255]", string(raw))

	raw, err = Bytes(nil).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	var b Bytes
	require.NoError(t, b.UnmarshalJSON([]byte("[1,2,3]")))
	assert.Equal(t, Bytes{1, 2, 3}, b)

	require.ErrorIs(t, b.UnmarshalJSON([]byte("[256]")), ErrInvalidPayload)
	require.ErrorIs(t, b.UnmarshalJSON([]byte("[-1]")), ErrInvalidPayload)
	require.ErrorIs(t, b.UnmarshalJSON([]byte(`"AAEC"`)), ErrInvalidPayload)
}

func TestClientEventsRoundTrip(t *testing.T) { // A
	rapid.Check(t, func(rt *rapid.T) {
		room := rapid.StringMatching(`[a-z0-9-]{1,36}`).Draw(rt, "room")
		events := []ClientEvent{
			Join{RoomID: room, Username: rapid.StringMatching(`[a-z]{1,16}`).Draw(rt, "user")},
			RequestHistory{RoomID: room},
			SendMessage{
				RoomID: room,
				IV:     rapid.SliceOfN(rapid.Byte(), IVSize, IVSize).Draw(rt, "iv"),
				Data:   rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "data"),
			},
			DeleteRoom{RoomID: room},
		}
		for _, ev := range events {
			raw, err := EncodeClient(ev)
			if err != nil {
				rt.Fatalf("encode %s: %v", ev.Name(), err)
			}
			got, err := DecodeClient(raw)
			if err != nil {
				rt.Fatalf("decode %s: %v", ev.Name(), err)
			}
			assert.Equal(rt, ev, got)
		}
	})
}

func TestWireShape(t *testing.T) { // A
	raw, err := EncodeClient(RequestHistory{RoomID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"request_history","data":"r1"}`, string(raw))

	raw, err = EncodeClient(SendMessage{RoomID: "r1", IV: make(Bytes, IVSize), Data: Bytes{7}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message","data":{"roomId":"r1","iv":[0,0,0,0,0,0,0,0,0,0,0,0],"data":[7]}}`, string(raw))

	raw, err = EncodeServer(RoomDeleted{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"room_deleted"}`, string(raw))

	raw, err = EncodeServer(Error{Message: "Room not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"message":"Room not found"}}`, string(raw))
}

func TestServerEventsRoundTrip(t *testing.T) { // A
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	env := MessageEnvelope{IV: make(Bytes, IVSize), Data: Bytes{1, 2}, ID: "m1", Timestamp: ts}

	events := []ServerEvent{
		History{Messages: []MessageEnvelope{env, env}},
		History{Messages: []MessageEnvelope{}},
		Message{MessageEnvelope: env},
		RoomDeleted{},
		Error{Message: "nope"},
		Ping{},
	}
	for _, ev := range events {
		raw, err := EncodeServer(ev)
		require.NoError(t, err, ev.Name())
		got, err := DecodeServer(raw)
		require.NoError(t, err, ev.Name())
		assert.Equal(t, ev, got)
	}
}

func TestDecodeClientRejects(t *testing.T) { // A
	cases := map[string]struct {
		raw  string
		want error
	}{
		"not json":         {`{`, ErrInvalidPayload},
		"unknown event":    {`{"event":"history","data":{}}`, ErrUnknownEvent},
		"join no user":     {`{"event":"join","data":{"roomId":"r"}}`, ErrInvalidPayload},
		"join no data":     {`{"event":"join"}`, ErrInvalidPayload},
		"history empty id": {`{"event":"request_history","data":""}`, ErrInvalidPayload},
		"history object":   {`{"event":"request_history","data":{"roomId":"r"}}`, ErrInvalidPayload},
		"short iv":         {`{"event":"message","data":{"roomId":"r","iv":[1,2],"data":[1]}}`, ErrInvalidPayload},
		"empty data":       {`{"event":"message","data":{"roomId":"r","iv":[0,0,0,0,0,0,0,0,0,0,0,0],"data":[]}}`, ErrInvalidPayload},
		"byte overflow":    {`{"event":"message","data":{"roomId":"r","iv":[0,0,0,0,0,0,0,0,0,0,0,300],"data":[1]}}`, ErrInvalidPayload},
		"delete no id":     {`{"event":"delete_room"}`, ErrInvalidPayload},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tc.raw))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeServerUnknown(t *testing.T) { // A
	_, err := DecodeServer([]byte(`{"event":"join","data":{}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

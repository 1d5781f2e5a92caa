package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/websocket"

	"github.com/i5heu/cipherroom/internal/roomStore"
	"github.com/i5heu/cipherroom/pkg/model"
	"github.com/i5heu/cipherroom/pkg/protocol"
)

type fixture struct {
	store *roomStore.Store
	hub   *Hub
	url   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(store *roomStore.Store) Config {
		return Config{Store: store, Registry: NewRegistry()}
	})
}

func newFixtureWith(t *testing.T, configure func(store *roomStore.Store) Config) *fixture {
	t.Helper()
	store, err := roomStore.Open(roomStore.Config{
		Path:       filepath.Join(t.TempDir(), "relay.db"),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub, err := New(configure(store))
	require.NoError(t, err)

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	return &fixture{store: store, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) user(t *testing.T, name string) {
	t.Helper()
	_, err := f.store.CreateUser(context.Background(), model.NewUser{
		Username: name, Password: "pw-" + name, PublicKey: `{"kty":"RSA"}`,
	})
	require.NoError(t, err)
}

func (f *fixture) room(t *testing.T, creator string) string {
	t.Helper()
	r, err := f.store.CreateRoom(context.Background(), model.NewRoom{
		Name: "general", CreatorUsername: creator, Password: "pw1234567",
		Salt: "c2FsdA==", WrappedKey: "a2V5",
	})
	require.NoError(t, err)
	return r.ID
}

type peer struct {
	t  *testing.T
	ws *websocket.Conn
}

func (f *fixture) dial(t *testing.T) *peer {
	t.Helper()
	ws, err := websocket.Dial(f.url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &peer{t: t, ws: ws}
}

func (p *peer) send(ev protocol.ClientEvent) {
	p.t.Helper()
	raw, err := protocol.EncodeClient(ev)
	require.NoError(p.t, err)
	require.NoError(p.t, websocket.Message.Send(p.ws, string(raw)))
}

func (p *peer) sendRaw(raw string) {
	p.t.Helper()
	require.NoError(p.t, websocket.Message.Send(p.ws, raw))
}

// next returns the next non-ping event.
func (p *peer) next() protocol.ServerEvent {
	p.t.Helper()
	for {
		require.NoError(p.t, p.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var raw []byte
		require.NoError(p.t, websocket.Message.Receive(p.ws, &raw))
		ev, err := protocol.DecodeServer(raw)
		require.NoError(p.t, err)
		if _, ok := ev.(protocol.Ping); ok {
			continue
		}
		return ev
	}
}

// join joins and waits for the history reply.
func (p *peer) join(roomID, username string) protocol.History {
	p.t.Helper()
	p.send(protocol.Join{RoomID: roomID, Username: username})
	p.send(protocol.RequestHistory{RoomID: roomID})
	ev := p.next()
	h, ok := ev.(protocol.History)
	require.True(p.t, ok, "expected history, got %T", ev)
	return h
}

func (p *peer) expectError(msg string) {
	p.t.Helper()
	ev := p.next()
	e, ok := ev.(protocol.Error)
	require.True(p.t, ok, "expected error, got %T", ev)
	assert.Equal(p.t, msg, e.Message)
}

func iv(b byte) protocol.Bytes {
	out := make(protocol.Bytes, protocol.IVSize)
	out[0] = b
	return out
}

func TestRelayNoEcho(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	f.user(t, "bob")
	roomID := f.room(t, "alice")

	alice := f.dial(t)
	bob := f.dial(t)
	alice.join(roomID, "alice")
	bob.join(roomID, "bob")

	bob.send(protocol.SendMessage{RoomID: roomID, IV: iv(1), Data: protocol.Bytes{9, 9}})

	ev := alice.next()
	msg, ok := ev.(protocol.Message)
	require.True(t, ok, "expected message, got %T", ev)
	assert.Equal(t, protocol.Bytes{9, 9}, msg.Data)
	assert.Equal(t, iv(1), msg.IV)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	// the sender's next frame is its history reply, not an echo
	bob.send(protocol.RequestHistory{RoomID: roomID})
	h, ok := bob.next().(protocol.History)
	require.True(t, ok)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, msg.ID, h.Messages[0].ID)
}

func TestHistoryInCreationOrder(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	roomID := f.room(t, "alice")

	alice := f.dial(t)
	alice.join(roomID, "alice")
	for i := byte(1); i <= 4; i++ {
		alice.send(protocol.SendMessage{RoomID: roomID, IV: iv(i), Data: protocol.Bytes{i}})
	}
	alice.send(protocol.RequestHistory{RoomID: roomID})
	_, ok := alice.next().(protocol.History)
	require.True(t, ok)

	late := f.dial(t)
	f.user(t, "carol")
	h := late.join(roomID, "carol")
	require.Len(t, h.Messages, 4)
	for i, m := range h.Messages {
		assert.Equal(t, protocol.Bytes{byte(i + 1)}, m.Data)
		if i > 0 {
			assert.True(t, m.Timestamp.After(h.Messages[i-1].Timestamp))
		}
	}
}

func TestJoinErrors(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	roomID := f.room(t, "alice")

	p := f.dial(t)
	p.send(protocol.Join{RoomID: "missing", Username: "alice"})
	p.expectError(MsgRoomNotFound)

	p.send(protocol.Join{RoomID: roomID, Username: "mallory"})
	p.expectError(MsgUserNotFound)

	p.send(protocol.RequestHistory{RoomID: roomID})
	p.expectError(MsgNotJoined)

	p.send(protocol.SendMessage{RoomID: roomID, IV: iv(0), Data: protocol.Bytes{1}})
	p.expectError(MsgNotJoined)

	p.sendRaw(`{"event":"message","data":{"roomId":"x","iv":[1],"data":[1]}}`)
	p.expectError(MsgInvalidEvent)

	p.sendRaw(`not json`)
	p.expectError(MsgInvalidEvent)
}

func TestJoinRecordsParticipant(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	roomID := f.room(t, "alice")

	f.dial(t).join(roomID, "alice")

	p, err := f.store.FindParticipant(context.Background(), roomID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, 1, f.hub.Registry().Members(roomID))
}

func TestJoinSwitchesRoom(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	first := f.room(t, "alice")
	second := f.room(t, "alice")

	p := f.dial(t)
	p.join(first, "alice")
	p.join(second, "alice")

	assert.Equal(t, 0, f.hub.Registry().Members(first))
	assert.Equal(t, 1, f.hub.Registry().Members(second))
}

func TestRoomDeletionBroadcast(t *testing.T) { // A
	f := newFixture(t)
	for _, n := range []string{"alice", "bob", "carol"} {
		f.user(t, n)
	}
	roomID := f.room(t, "alice")

	alice := f.dial(t)
	bob := f.dial(t)
	carol := f.dial(t)
	alice.join(roomID, "alice")
	bob.join(roomID, "bob")
	carol.join(roomID, "carol")
	require.Equal(t, 3, f.hub.Registry().Members(roomID))

	bob.send(protocol.DeleteRoom{RoomID: roomID})
	bob.expectError(MsgNotCreator)

	alice.send(protocol.DeleteRoom{RoomID: roomID})

	for _, p := range []*peer{bob, carol} {
		ev := p.next()
		_, ok := ev.(protocol.RoomDeleted)
		require.True(t, ok, "expected room_deleted, got %T", ev)
	}
	assert.Equal(t, 0, f.hub.Registry().Members(roomID))

	// evicted connections can no longer post, and see no second notice
	bob.send(protocol.SendMessage{RoomID: roomID, IV: iv(2), Data: protocol.Bytes{2}})
	bob.expectError(MsgNotJoined)
	carol.send(protocol.RequestHistory{RoomID: roomID})
	carol.expectError(MsgNotJoined)

	// the creator gets no notice of its own deletion
	alice.send(protocol.RequestHistory{RoomID: roomID})
	alice.expectError(MsgNotJoined)

	room, err := f.store.FindRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Nil(t, room)

	alice.send(protocol.DeleteRoom{RoomID: roomID})
	alice.expectError(MsgRoomNotFound)

	alice.send(protocol.Join{RoomID: roomID, Username: "alice"})
	alice.expectError(MsgRoomNotFound)
}

func TestDisconnectLeavesRoom(t *testing.T) { // A
	f := newFixture(t)
	f.user(t, "alice")
	roomID := f.room(t, "alice")

	p := f.dial(t)
	p.join(roomID, "alice")
	require.NoError(t, p.ws.Close())

	assert.Eventually(t, func() bool {
		return f.hub.Registry().Members(roomID) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewRequiresStore(t *testing.T) { // A
	_, err := New(Config{})
	require.Error(t, err)
}

type failingDeleteStore struct {
	*roomStore.Store
}

func (failingDeleteStore) DeleteRoom(context.Context, string) error {
	return errors.New("disk full")
}

func TestRoomDeletionFailureKeepsMembers(t *testing.T) { // A
	f := newFixtureWith(t, func(store *roomStore.Store) Config {
		return Config{Store: failingDeleteStore{store}, Registry: NewRegistry()}
	})
	f.user(t, "alice")
	f.user(t, "bob")
	roomID := f.room(t, "alice")

	alice := f.dial(t)
	bob := f.dial(t)
	alice.join(roomID, "alice")
	bob.join(roomID, "bob")

	alice.send(protocol.DeleteRoom{RoomID: roomID})
	alice.expectError(MsgDeleteRoomFail)

	assert.Equal(t, 2, f.hub.Registry().Members(roomID))
	room, err := f.store.FindRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.NotNil(t, room)

	// bob is still joined: the next frame he sees is alice's message, not
	// room_deleted
	alice.send(protocol.SendMessage{RoomID: roomID, IV: iv(3), Data: protocol.Bytes{3}})
	ev := bob.next()
	msg, ok := ev.(protocol.Message)
	require.True(t, ok, "expected message, got %T", ev)
	assert.Equal(t, protocol.Bytes{3}, msg.Data)
}

func TestAllowedOrigins(t *testing.T) { // A
	f := newFixtureWith(t, func(store *roomStore.Store) Config {
		return Config{Store: store, AllowedOrigins: []string{"https://chat.example"}}
	})

	ws, err := websocket.Dial(f.url, "", "https://chat.example")
	require.NoError(t, err)
	_ = ws.Close()

	_, err = websocket.Dial(f.url, "", "https://evil.example")
	require.Error(t, err)
}

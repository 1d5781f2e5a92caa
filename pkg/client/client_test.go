package client

import (
	"context"
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
	"github.com/i5heu/cipherroom/pkg/relay"
)

const origin = "http://localhost/"

type env struct {
	store *roomStore.Store
	url   string
	room  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store, err := roomStore.Open(roomStore.Config{
		Path:       filepath.Join(t.TempDir(), "client.db"),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, name := range []string{"alice", "bob"} {
		_, err := store.CreateUser(ctx, model.NewUser{Username: name, Password: "pw", PublicKey: "{}"})
		require.NoError(t, err)
	}
	room, err := store.CreateRoom(ctx, model.NewRoom{
		Name: "r", CreatorUsername: "alice", Password: "pw1234567", Salt: "c2FsdA==", WrappedKey: "a2V5",
	})
	require.NoError(t, err)

	hub, err := relay.New(relay.Config{Store: store})
	require.NoError(t, err)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	return &env{store: store, url: "ws" + strings.TrimPrefix(srv.URL, "http"), room: room.ID}
}

func nextEvent(t *testing.T, c *Client) protocol.ServerEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestStateTransitions(t *testing.T) { // A
	e := newEnv(t)
	ctx := context.Background()

	c := New(e.url, origin)
	assert.Equal(t, StateDisconnected, c.State())
	require.ErrorIs(t, c.Join(ctx, e.room, "alice"), ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, StateConnected, c.State())
	require.ErrorIs(t, c.Connect(ctx), ErrAlreadyConnected)

	require.NoError(t, c.Join(ctx, e.room, "alice"))
	assert.Equal(t, StateJoined, c.State())
	assert.Equal(t, e.room, c.Room())

	events := c.Events()
	require.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Room())
	_, open := <-events
	assert.False(t, open)
}

func TestSendAndReceive(t *testing.T) { // A
	e := newEnv(t)
	ctx := context.Background()

	alice, err := Dial(ctx, e.url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = alice.Close() })
	bob, err := Dial(ctx, e.url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })

	require.NoError(t, alice.Join(ctx, e.room, "alice"))
	require.NoError(t, alice.RequestHistory(ctx, e.room))
	_, ok := nextEvent(t, alice).(protocol.History)
	require.True(t, ok)

	require.NoError(t, bob.Join(ctx, e.room, "bob"))
	require.NoError(t, bob.RequestHistory(ctx, e.room))
	_, ok = nextEvent(t, bob).(protocol.History)
	require.True(t, ok)

	iv := make([]byte, protocol.IVSize)
	require.NoError(t, bob.Send(ctx, e.room, iv, []byte{1, 2, 3}))

	msg, ok := nextEvent(t, alice).(protocol.Message)
	require.True(t, ok)
	assert.Equal(t, protocol.Bytes{1, 2, 3}, msg.Data)
}

func TestRoomDeletedReturnsToConnected(t *testing.T) { // A
	e := newEnv(t)
	ctx := context.Background()

	alice, err := Dial(ctx, e.url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = alice.Close() })
	bob, err := Dial(ctx, e.url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })

	for _, p := range []struct {
		c    *Client
		name string
	}{{alice, "alice"}, {bob, "bob"}} {
		require.NoError(t, p.c.Join(ctx, e.room, p.name))
		require.NoError(t, p.c.RequestHistory(ctx, e.room))
		_, ok := nextEvent(t, p.c).(protocol.History)
		require.True(t, ok)
	}

	require.NoError(t, alice.DeleteRoom(ctx, e.room))
	assert.Equal(t, StateConnected, alice.State())

	_, ok := nextEvent(t, bob).(protocol.RoomDeleted)
	require.True(t, ok)
	assert.Equal(t, StateConnected, bob.State())
	assert.Empty(t, bob.Room())
}

func TestDialWithRetryGivesUp(t *testing.T) { // A
	_, err := DialWithRetry(context.Background(), "ws://127.0.0.1:1/ws", origin, RetryPolicy{
		Attempts: 3,
		Backoff:  time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestDialWithRetryHonoursContext(t *testing.T) { // A
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DialWithRetry(ctx, "ws://127.0.0.1:1/ws", origin, RetryPolicy{
		Attempts: 10,
		Backoff:  time.Hour,
	})
	require.Error(t, err)
}

func TestDialWithRetryConnects(t *testing.T) { // A
	e := newEnv(t)
	c, err := DialWithRetry(context.Background(), e.url, origin, DefaultRetryPolicy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, StateConnected, c.State())
}

func TestStateString(t *testing.T) { // A
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStalledWriteDoesNotBlockState(t *testing.T) { // A
	release := make(chan struct{})
	// the peer accepts the connection and never reads
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), origin,
		WithWriteTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	sent := make(chan error, 1)
	go func() {
		// large enough to fill the socket buffers
		sent <- c.Send(context.Background(), "room", make([]byte, 12), make([]byte, 8<<20))
	}()

	// State must answer while the write is stuck
	time.Sleep(200 * time.Millisecond)
	stateDone := make(chan State, 1)
	go func() { stateDone <- c.State() }()
	select {
	case s := <-stateDone:
		assert.Equal(t, StateConnected, s)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a stalled write")
	}

	select {
	case err := <-sent:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("write timeout not applied")
	}
}

package chat

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

	"github.com/i5heu/cipherroom/internal/roomStore"
	"github.com/i5heu/cipherroom/pkg/client"
	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/model"
	"github.com/i5heu/cipherroom/pkg/primitives"
	"github.com/i5heu/cipherroom/pkg/relay"
)

const (
	timeout = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type stack struct {
	store *roomStore.Store
	url   string
}

func newStack(t *testing.T, users ...string) *stack {
	t.Helper()
	store, err := roomStore.Open(roomStore.Config{
		Path:       filepath.Join(t.TempDir(), "chat.db"),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, u := range users {
		_, err := store.CreateUser(context.Background(), model.NewUser{Username: u, Password: "pw", PublicKey: "{}"})
		require.NoError(t, err)
	}

	hub, err := relay.New(relay.Config{Store: store})
	require.NoError(t, err)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return &stack{store: store, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (st *stack) session(t *testing.T, ctx context.Context, roomID, username string, key *primitives.SymmetricKey) *Session {
	t.Helper()
	c, err := client.Dial(ctx, st.url, "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s, err := NewSession(Config{RoomID: roomID, Username: username, Transport: c})
	require.NoError(t, err)
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, s.Join(ctx))
	require.NoError(t, s.SetRoomKey(ctx, key))
	return s
}

func TestOpenRoomScenario(t *testing.T) { // A
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := newStack(t, "alice", "bob")

	aliceKey, env, err := CreateRoomKey("pw1234567")
	require.NoError(t, err)
	room, err := st.store.CreateRoom(ctx, model.NewRoom{
		Name: "open", CreatorUsername: "alice", Password: "pw1234567",
		Salt: env.Salt, WrappedKey: env.WrappedKey,
	})
	require.NoError(t, err)

	stored, err := st.store.FindRoom(ctx, room.ID)
	require.NoError(t, err)
	fetched := envelope.PasswordEnvelope{Salt: stored.Salt, WrappedKey: stored.WrappedKey}

	_, err = OpenWithPassword(fetched, "pw7654321")
	require.ErrorIs(t, err, envelope.ErrInvalidPassword)

	bobKey, err := OpenWithPassword(fetched, "pw1234567")
	require.NoError(t, err)
	assert.True(t, bobKey.Equal(aliceKey))

	alice := st.session(t, ctx, room.ID, "alice", aliceKey)
	bob := st.session(t, ctx, room.ID, "bob", bobKey)

	waitMembers(t, st, room.ID, "alice", "bob")

	_, err = alice.Send(ctx, "hello bob")
	require.NoError(t, err)

	got := receive(t, bob)
	assert.Equal(t, "hello bob", got.Text)
	assert.Equal(t, "alice", got.SenderNickname)
	assert.NotEmpty(t, got.ID)
}

func TestInviteScenario(t *testing.T) { // A
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := newStack(t, "alice", "bob")

	roomKey, env, err := CreateRoomKey("secret-room-pw")
	require.NoError(t, err)
	room, err := st.store.CreateRoom(ctx, model.NewRoom{
		Name: "private", CreatorUsername: "alice", Password: "secret-room-pw",
		Salt: env.Salt, WrappedKey: env.WrappedKey,
	})
	require.NoError(t, err)

	alice := st.session(t, ctx, room.ID, "alice", roomKey)
	waitMembers(t, st, room.ID, "alice")
	for _, text := range []string{"before bob 1", "before bob 2"} {
		_, err := alice.Send(ctx, text)
		require.NoError(t, err)
	}

	bobPub, bobPriv, err := primitives.GenerateAsymmetricKeyPair()
	require.NoError(t, err)
	hardened := bobPriv.Harden()

	invite, err := Invite(roomKey, "bob", bobPub)
	require.NoError(t, err)
	bobUser, err := st.store.FindUserByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, st.store.CreateInvite(ctx, model.Participant{
		RoomID: room.ID, UserID: bobUser.ID, Username: "bob", WrappedKeyForUser: invite.WrappedKey,
	}))

	p, err := st.store.FindParticipant(ctx, room.ID, "bob")
	require.NoError(t, err)
	bobKey, err := OpenWithInvite(envelope.PublicKeyEnvelope{
		RecipientUsername: p.Username, WrappedKey: p.WrappedKeyForUser,
	}, hardened)
	require.NoError(t, err)

	_, otherPriv, err := primitives.GenerateAsymmetricKeyPair()
	require.NoError(t, err)
	_, err = OpenWithInvite(invite, otherPriv.Harden())
	require.ErrorIs(t, err, primitives.ErrUnwrapFailed)

	require.Eventually(t, func() bool {
		msgs, err := st.store.ListMessages(ctx, room.ID)
		return err == nil && len(msgs) == 2
	}, timeout, tick)

	bob := st.session(t, ctx, room.ID, "bob", bobKey)
	assert.Equal(t, "before bob 1", receive(t, bob).Text)
	assert.Equal(t, "before bob 2", receive(t, bob).Text)
	assert.Zero(t, bob.Skipped())
}

// waitMembers blocks until the relay has recorded every user as a
// participant, which happens when their join is processed.
func waitMembers(t *testing.T, st *stack, roomID string, users ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, u := range users {
			if _, err := st.store.FindParticipant(context.Background(), roomID, u); err != nil {
				return false
			}
		}
		return true
	}, timeout, tick)
}

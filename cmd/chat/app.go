package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/cipherroom/pkg/apiClient"
	"github.com/i5heu/cipherroom/pkg/chat"
	"github.com/i5heu/cipherroom/pkg/client"
	"github.com/i5heu/cipherroom/pkg/identityStore"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

// deleteCommand typed on its own line asks the server to delete the room.
const deleteCommand = "/delete"

type app struct {
	flags  chatFlags
	api    *apiClient.Client
	ids    *identityStore.Store
	log    *slog.Logger
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

// register creates the device identity, uploads its public key with a
// password-encrypted backup and keeps only the hardened key locally.
func (a *app) register(ctx context.Context) error { // A
	if a.flags.password == "" {
		return errors.New("register needs -password")
	}
	pub, priv, err := primitives.GenerateAsymmetricKeyPair()
	if err != nil {
		return err
	}
	pubJWK, err := pub.ExportJWK()
	if err != nil {
		return err
	}
	privJWK, err := priv.ExportJWK()
	if err != nil {
		return err
	}
	backup, err := identityStore.BuildEncryptedBackup(string(privJWK), a.flags.password)
	if err != nil {
		return err
	}
	if _, err := a.api.Register(ctx, a.flags.user, a.flags.password, string(pubJWK), &backup); err != nil {
		return err
	}
	if err := a.ids.PersistPrivateKey(priv.Harden()); err != nil {
		return err
	}
	a.printf("registered %s\n", a.flags.user)
	return nil
}

// restore recovers the identity on a new device from the server backup.
func (a *app) restore(ctx context.Context) error { // A
	login, err := a.api.Login(ctx, a.flags.user, a.flags.password)
	if err != nil {
		return err
	}
	if login.Backup == nil || login.Backup.Empty() {
		return errors.New("no identity backup stored for this account")
	}
	priv, err := identityStore.RestoreFromBackup(*login.Backup, a.flags.password)
	if err != nil {
		return err
	}
	if err := a.ids.PersistPrivateKey(priv); err != nil {
		return err
	}
	a.printf("identity restored for %s\n", a.flags.user)
	return nil
}

func (a *app) createRoom(ctx context.Context, name, roomPassword string) error { // A
	_, env, err := chat.CreateRoomKey(roomPassword)
	if err != nil {
		return err
	}
	room, err := a.api.CreateRoom(ctx, name, a.flags.user, roomPassword, env)
	if err != nil {
		return err
	}
	a.printf("%s\n", room.ID)
	return nil
}

// invite wraps the room key for another user's public key.
func (a *app) invite(ctx context.Context, roomID, roomPassword, invitee string) error { // A
	key, err := a.keyWithPassword(ctx, roomID, roomPassword)
	if err != nil {
		return err
	}
	jwk, err := a.api.PublicKey(ctx, invitee)
	if err != nil {
		return err
	}
	pub, err := primitives.ImportPublicJWK([]byte(jwk))
	if err != nil {
		return err
	}
	env, err := chat.Invite(key, invitee, pub)
	if err != nil {
		return err
	}
	if err := a.api.Invite(ctx, roomID, roomPassword, env); err != nil {
		return err
	}
	a.printf("invited %s\n", invitee)
	return nil
}

func (a *app) keyWithPassword(ctx context.Context, roomID, roomPassword string) (*primitives.SymmetricKey, error) {
	env, err := a.api.JoinRoom(ctx, roomID, a.flags.user, roomPassword)
	if err != nil {
		return nil, err
	}
	return chat.OpenWithPassword(env, roomPassword)
}

func (a *app) keyWithInvite(ctx context.Context, roomID string) (*primitives.SymmetricKey, error) {
	priv, err := a.ids.LoadPrivateKey()
	if err != nil {
		return nil, err
	}
	if priv == nil {
		return nil, errors.New("no identity on this device; run register or restore")
	}
	env, err := a.api.InviteFor(ctx, roomID, a.flags.user)
	if err != nil {
		return nil, err
	}
	key, err := chat.OpenWithInvite(env, priv)
	if errors.Is(err, primitives.ErrUnwrapFailed) {
		return nil, errors.New("cannot access this room with current identity")
	}
	return key, err
}

// join runs an interactive session: stdin lines are sent, room messages
// are printed.
func (a *app) join(ctx context.Context, roomID, roomPassword string) error { // A
	var (
		key *primitives.SymmetricKey
		err error
	)
	if roomPassword != "" {
		key, err = a.keyWithPassword(ctx, roomID, roomPassword)
	} else {
		key, err = a.keyWithInvite(ctx, roomID)
	}
	if err != nil {
		return err
	}

	conn, err := client.DialWithRetry(ctx, a.api.WebsocketURL(), a.api.Origin(),
		client.DefaultRetryPolicy, client.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer conn.Close()

	session, err := chat.NewSession(chat.Config{
		RoomID:    roomID,
		Username:  a.flags.user,
		Nickname:  a.flags.nickname,
		Transport: conn,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}
	if err := session.Join(ctx); err != nil {
		return err
	}
	if err := session.SetRoomKey(ctx, key); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return a.print(gctx, session)
	})
	g.Go(func() error {
		return a.readInput(gctx, session, conn, roomID)
	})

	err = g.Wait()
	if errors.Is(err, chat.ErrRoomDeleted) {
		a.printf("room was deleted\n")
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) print(ctx context.Context, s *chat.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.Messages():
			a.printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderNickname, m.Text)
		case msg := <-s.Errors():
			a.printf("! %s\n", msg)
		}
	}
}

// readInput returns io.EOF when stdin ends.
func (a *app) readInput(ctx context.Context, s *chat.Session, conn *client.Client, roomID string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return io.EOF
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case deleteCommand:
				if err := conn.DeleteRoom(ctx, roomID); err != nil {
					return err
				}
				a.printf("room deletion requested\n")
				return io.EOF
			}
			if _, err := s.Send(ctx, line); err != nil {
				return err
			}
		}
	}
}

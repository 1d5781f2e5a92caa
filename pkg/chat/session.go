// Package chat ties the room key, the message cipher and the delivery
// channel together into a room session.
//
// The room key and the socket join are not ordered: a Session requests the
// history exactly once, as soon as both are in place.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/cipherroom/pkg/messageCipher"
	"github.com/i5heu/cipherroom/pkg/primitives"
	"github.com/i5heu/cipherroom/pkg/protocol"
)

var (
	// ErrRoomDeleted ends Run when the creator deletes the room.
	ErrRoomDeleted = errors.New("chat: room deleted")
	// ErrDisconnected ends Run when the transport closes.
	ErrDisconnected = errors.New("chat: disconnected")
	// ErrNoRoomKey is returned by Send before SetRoomKey.
	ErrNoRoomKey = errors.New("chat: room key not available")
	// ErrRoomKeySet is returned when SetRoomKey is called twice.
	ErrRoomKeySet = errors.New("chat: room key already set")
	// ErrNotJoined is returned by Send before Join.
	ErrNotJoined = errors.New("chat: not joined")
)

// Transport is the delivery channel a Session talks through.
// *client.Client implements it.
type Transport interface {
	Join(ctx context.Context, roomID, username string) error
	RequestHistory(ctx context.Context, roomID string) error
	Send(ctx context.Context, roomID string, iv, data []byte) error
	Events() <-chan protocol.ServerEvent
}

// Config configures a Session.
type Config struct {
	RoomID    string
	Username  string
	Nickname  string
	Transport Transport
	Logger    *slog.Logger
	// Buffer is the capacity of the Messages channel. Defaults to 128.
	Buffer int
}

// Message is a decrypted chat message.
type Message struct {
	ID             string
	Timestamp      time.Time
	Text           string
	SenderNickname string
	// Own marks the local copy of a message this session sent.
	Own bool
}

// Session is a client's view of one room.
type Session struct {
	cfg Config
	log *slog.Logger

	key atomic.Pointer[primitives.SymmetricKey]

	mu        sync.Mutex
	joined    bool
	requested bool
	seen      map[string]struct{}

	skipped  atomic.Int64
	messages chan Message
	errs     chan string
}

// NewSession creates a session. Nothing is sent until Join.
func NewSession(cfg Config) (*Session, error) { // A
	if cfg.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if cfg.RoomID == "" || cfg.Username == "" {
		return nil, errors.New("chat: room id and username are required")
	}
	if cfg.Nickname == "" {
		cfg.Nickname = cfg.Username
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	return &Session{
		cfg:      cfg,
		log:      cfg.Logger.With("room", cfg.RoomID),
		seen:     make(map[string]struct{}),
		messages: make(chan Message, cfg.Buffer),
		errs:     make(chan string, 16),
	}, nil
}

// Messages delivers decrypted messages: the history batch first, then live
// messages.
func (s *Session) Messages() <-chan Message { return s.messages }

// Errors delivers error texts reported by the server. Entries are dropped
// when nobody reads them.
func (s *Session) Errors() <-chan string { return s.errs }

// Skipped is the number of messages that could not be decrypted.
func (s *Session) Skipped() int { return int(s.skipped.Load()) }

// RoomKey returns the key, or nil before SetRoomKey.
func (s *Session) RoomKey() *primitives.SymmetricKey { return s.key.Load() }

// SetRoomKey installs the room key. It can be set once.
func (s *Session) SetRoomKey(ctx context.Context, key *primitives.SymmetricKey) error { // A
	if key == nil {
		return fmt.Errorf("%w: nil room key", primitives.ErrInvalidKeyMaterial)
	}
	if !s.key.CompareAndSwap(nil, key) {
		return ErrRoomKeySet
	}
	return s.maybeRequestHistory(ctx)
}

// Join joins the room on the transport.
func (s *Session) Join(ctx context.Context) error { // A
	if err := s.cfg.Transport.Join(ctx, s.cfg.RoomID, s.cfg.Username); err != nil {
		return err
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	return s.maybeRequestHistory(ctx)
}

func (s *Session) maybeRequestHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined || s.key.Load() == nil || s.requested {
		return nil
	}
	if err := s.cfg.Transport.RequestHistory(ctx, s.cfg.RoomID); err != nil {
		return err
	}
	s.requested = true
	s.log.Debug("history requested")
	return nil
}

// Send encrypts text with the sender's nickname and emits it. The returned
// Message is the local copy; the server does not echo it.
func (s *Session) Send(ctx context.Context, text string) (Message, error) { // A
	key := s.key.Load()
	if key == nil {
		return Message{}, ErrNoRoomKey
	}
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return Message{}, ErrNotJoined
	}

	sealed, err := messageCipher.SealPayload(messageCipher.Payload{
		Text:           text,
		SenderNickname: s.cfg.Nickname,
	}, key)
	if err != nil {
		return Message{}, err
	}
	if err := s.cfg.Transport.Send(ctx, s.cfg.RoomID, sealed.IV, sealed.Data); err != nil {
		return Message{}, err
	}
	return Message{
		Timestamp:      time.Now().UTC(),
		Text:           text,
		SenderNickname: s.cfg.Nickname,
		Own:            true,
	}, nil
}

// Run consumes server events until the room is deleted, the transport
// closes or ctx is done.
func (s *Session) Run(ctx context.Context) error { // A
	events := s.cfg.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrDisconnected
			}
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, ev protocol.ServerEvent) error {
	switch e := ev.(type) {
	case protocol.History:
		return s.handleHistory(ctx, e)
	case protocol.Message:
		return s.handleMessage(ctx, e.MessageEnvelope)
	case protocol.RoomDeleted:
		s.log.Info("room deleted by its creator")
		return ErrRoomDeleted
	case protocol.Error:
		s.log.Warn("server error", "message", e.Message)
		select {
		case s.errs <- e.Message:
		default:
		}
	}
	return nil
}

func (s *Session) handleHistory(ctx context.Context, h protocol.History) error {
	key := s.key.Load()
	if key == nil {
		s.log.Debug("history without room key, ignoring")
		return nil
	}
	entries := make([]messageCipher.Entry, 0, len(h.Messages))
	for _, m := range h.Messages {
		entries = append(entries, messageCipher.Entry{
			ID: m.ID, Timestamp: m.Timestamp, IV: m.IV, Data: m.Data,
		})
	}
	res := messageCipher.DecryptBatch(ctx, entries, key, s.log)
	if res.Skipped > 0 {
		s.skipped.Add(int64(res.Skipped))
		s.log.Debug("history decrypted", "messages", len(res.Messages), "skipped", res.Skipped)
	}
	for _, d := range res.Messages {
		if err := s.deliver(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleMessage(ctx context.Context, m protocol.MessageEnvelope) error {
	key := s.key.Load()
	if key == nil {
		// history will carry it once the key arrives
		s.log.Debug("message before room key, ignoring", "messageId", m.ID)
		return nil
	}
	p, err := messageCipher.OpenPayload(m.IV, m.Data, key)
	if err != nil {
		s.skipped.Add(1)
		s.log.Debug("skipping undecryptable message", "messageId", m.ID, "error", err)
		return nil
	}
	return s.deliver(ctx, messageCipher.Decrypted{ID: m.ID, Timestamp: m.Timestamp, Payload: p})
}

// deliver drops messages already delivered under the same id.
func (s *Session) deliver(ctx context.Context, d messageCipher.Decrypted) error {
	s.mu.Lock()
	_, dup := s.seen[d.ID]
	if d.ID != "" {
		s.seen[d.ID] = struct{}{}
	}
	s.mu.Unlock()
	if dup {
		return nil
	}

	msg := Message{
		ID:             d.ID,
		Timestamp:      d.Timestamp,
		Text:           d.Payload.Text,
		SenderNickname: d.Payload.SenderNickname,
	}
	select {
	case s.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package relay is the server side of the realtime delivery channel. It
// relays encrypted message envelopes between the connections joined to a
// room and never looks inside them.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/i5heu/cipherroom/pkg/model"
	"github.com/i5heu/cipherroom/pkg/protocol"
)

// Error texts sent to clients in error events.
const (
	MsgRoomNotFound    = "Room not found"
	MsgUserNotFound    = "User not found"
	MsgNotJoined       = "Not joined to this room"
	MsgNotCreator      = "Only the room creator can delete this room"
	MsgInvalidEvent    = "Invalid event"
	MsgInternal        = "Internal server error"
	MsgDeleteRoomFail  = "Failed to delete room"
	MsgSendMessageFail = "Failed to send message"
)

// Store is the persistence the relay needs.
type Store interface {
	FindRoom(ctx context.Context, id string) (*model.Room, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpsertParticipant(ctx context.Context, p model.Participant) error
	ListMessages(ctx context.Context, roomID string) ([]model.StoredMessage, error)
	CreateMessage(ctx context.Context, roomID string, iv, data []byte) (model.StoredMessage, error)
	DeleteRoom(ctx context.Context, id string) error
}

// Config configures a Hub.
type Config struct {
	Store    Store
	Registry *Registry
	Logger   *slog.Logger

	// PingInterval between keepalive frames. Defaults to 30s.
	PingInterval time.Duration
	// WriteTimeout per frame. Defaults to 10s.
	WriteTimeout time.Duration
	// ReadTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	ReadTimeout time.Duration
	// SendBuffer is the per-connection queue length. Defaults to 64.
	SendBuffer int
	// MaxFrameBytes limits inbound frames. Defaults to 1 MiB.
	MaxFrameBytes int
	// AllowedOrigins restricts the websocket Origin header. Empty accepts
	// any origin.
	AllowedOrigins []string
}

// Hub accepts websocket connections and dispatches their events.
type Hub struct {
	cfg   Config
	log   *slog.Logger
	reg   *Registry
	store Store

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycle is read-held by joins and write-held by deletions so a
	// join cannot register in a room that is being removed.
	lifecycle sync.RWMutex

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a Hub.
func New(cfg Config) (*Hub, error) { // A
	if cfg.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		log:    cfg.Logger,
		reg:    cfg.Registry,
		store:  cfg.Store,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*Conn]struct{}),
	}, nil
}

// Registry returns the hub's room registry.
func (h *Hub) Registry() *Registry { return h.reg }

// ErrOriginNotAllowed rejects a handshake from an origin outside
// Config.AllowedOrigins.
var ErrOriginNotAllowed = errors.New("relay: origin not allowed")

// Handler returns the websocket endpoint. Without AllowedOrigins any origin
// is accepted, matching the API's CORS policy.
func (h *Hub) Handler() http.Handler { // A
	return websocket.Server{
		Handshake: h.handshake,
		Handler:   h.serve,
	}
}

func (h *Hub) handshake(cfg *websocket.Config, req *http.Request) error {
	origin, err := websocket.Origin(cfg, req)
	cfg.Origin = origin
	if len(h.cfg.AllowedOrigins) == 0 {
		return nil
	}
	if err != nil || origin == nil {
		return ErrOriginNotAllowed
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin.Scheme+"://"+origin.Host == allowed {
			return nil
		}
	}
	h.log.Warn("rejected websocket origin", "origin", origin.String())
	return ErrOriginNotAllowed
}

// Close disconnects every connection and waits for their goroutines.
func (h *Hub) Close() { // A
	h.cancel()
	h.mu.Lock()
	for c := range h.conns {
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) track(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Hub) serve(ws *websocket.Conn) {
	ws.MaxPayloadBytes = h.cfg.MaxFrameBytes
	c := newConn(ws, h.cfg.SendBuffer)
	if !h.track(c) {
		_ = ws.Close()
		return
	}
	defer h.untrack(c)

	log := h.log.With("remote", c.remote)
	log.Debug("connection opened")

	go c.writer(h.cfg.PingInterval, h.cfg.WriteTimeout)

	defer func() {
		if roomID := h.reg.Leave(c); roomID != "" {
			log.Debug("left room on disconnect", "room", roomID)
		}
		c.close()
		log.Debug("connection closed")
	}()

	for {
		if h.cfg.ReadTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		}
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		ev, err := protocol.DecodeClient(raw)
		if err != nil {
			log.Debug("rejecting frame", "error", err)
			h.sendError(c, MsgInvalidEvent)
			continue
		}
		h.dispatch(h.ctx, log, c, ev)
	}
}

func (h *Hub) dispatch(ctx context.Context, log *slog.Logger, c *Conn, ev protocol.ClientEvent) {
	switch e := ev.(type) {
	case protocol.Join:
		h.handleJoin(ctx, log, c, e)
	case protocol.RequestHistory:
		h.handleHistory(ctx, log, c, e)
	case protocol.SendMessage:
		h.handleMessage(ctx, log, c, e)
	case protocol.DeleteRoom:
		h.handleDelete(ctx, log, c, e)
	}
}

func (h *Hub) send(c *Conn, ev protocol.ServerEvent) {
	frame, err := protocol.EncodeServer(ev)
	if err != nil {
		h.log.Error("encode server event", "event", ev.Name(), "error", err)
		return
	}
	c.enqueue(frame)
}

func (h *Hub) sendError(c *Conn, msg string) {
	h.send(c, protocol.Error{Message: msg})
}

func (h *Hub) handleJoin(ctx context.Context, log *slog.Logger, c *Conn, e protocol.Join) {
	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()

	room, err := h.store.FindRoom(ctx, e.RoomID)
	if err != nil {
		log.Error("join: find room", "room", e.RoomID, "error", err)
		h.sendError(c, MsgInternal)
		return
	}
	if room == nil {
		h.sendError(c, MsgRoomNotFound)
		return
	}
	user, err := h.store.FindUserByUsername(ctx, e.Username)
	if err != nil {
		log.Error("join: find user", "user", e.Username, "error", err)
		h.sendError(c, MsgInternal)
		return
	}
	if user == nil {
		h.sendError(c, MsgUserNotFound)
		return
	}
	err = h.store.UpsertParticipant(ctx, model.Participant{
		RoomID:   room.ID,
		UserID:   user.ID,
		Username: user.Username,
	})
	if err != nil {
		log.Error("join: record participant", "room", room.ID, "user", user.Username, "error", err)
		h.sendError(c, MsgInternal)
		return
	}

	c.username = user.Username
	if prev := h.reg.Join(c, room.ID); prev != "" && prev != room.ID {
		log.Debug("switched room", "from", prev, "to", room.ID)
	}
	log.Info("joined room", "room", room.ID, "user", user.Username)
}

func (h *Hub) joined(c *Conn, roomID string) bool {
	current, ok := h.reg.RoomOf(c)
	return ok && current == roomID
}

func (h *Hub) handleHistory(ctx context.Context, log *slog.Logger, c *Conn, e protocol.RequestHistory) {
	if !h.joined(c, e.RoomID) {
		h.sendError(c, MsgNotJoined)
		return
	}
	msgs, err := h.store.ListMessages(ctx, e.RoomID)
	if err != nil {
		log.Error("history: list messages", "room", e.RoomID, "error", err)
		h.sendError(c, MsgInternal)
		return
	}
	out := make([]protocol.MessageEnvelope, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, envelopeOf(m))
	}
	h.send(c, protocol.History{Messages: out})
}

func envelopeOf(m model.StoredMessage) protocol.MessageEnvelope {
	return protocol.MessageEnvelope{
		IV:        protocol.Bytes(m.IV),
		Data:      protocol.Bytes(m.Data),
		ID:        m.ID,
		Timestamp: m.CreatedAt,
	}
}

func (h *Hub) handleMessage(ctx context.Context, log *slog.Logger, c *Conn, e protocol.SendMessage) {
	if !h.joined(c, e.RoomID) {
		h.sendError(c, MsgNotJoined)
		return
	}
	stored, err := h.store.CreateMessage(ctx, e.RoomID, e.IV, e.Data)
	if errors.Is(err, model.ErrRoomNotFound) {
		h.sendError(c, MsgRoomNotFound)
		return
	}
	if err != nil {
		log.Error("message: persist", "room", e.RoomID, "error", err)
		h.sendError(c, MsgSendMessageFail)
		return
	}
	frame, err := protocol.EncodeServer(protocol.Message{MessageEnvelope: envelopeOf(stored)})
	if err != nil {
		log.Error("message: encode", "error", err)
		return
	}
	n := h.reg.Broadcast(e.RoomID, c, frame)
	log.Debug("relayed message", "room", e.RoomID, "id", stored.ID, "recipients", n)
}

func (h *Hub) handleDelete(ctx context.Context, log *slog.Logger, c *Conn, e protocol.DeleteRoom) {
	room, err := h.store.FindRoom(ctx, e.RoomID)
	if err != nil {
		log.Error("delete: find room", "room", e.RoomID, "error", err)
		h.sendError(c, MsgInternal)
		return
	}
	if room == nil {
		h.sendError(c, MsgRoomNotFound)
		return
	}
	if c.username == "" || c.username != room.CreatorUsername {
		h.sendError(c, MsgNotCreator)
		return
	}

	frame, err := protocol.EncodeServer(protocol.RoomDeleted{})
	if err != nil {
		log.Error("delete: encode", "error", err)
		h.sendError(c, MsgInternal)
		return
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	// members are only told once the room is gone from the store
	if err := h.store.DeleteRoom(ctx, room.ID); err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			h.sendError(c, MsgRoomNotFound)
			return
		}
		log.Error("delete: remove room", "room", room.ID, "error", err)
		h.sendError(c, MsgDeleteRoomFail)
		return
	}
	evicted := h.reg.Evict(room.ID, c, frame)
	log.Info("room deleted", "room", room.ID, "user", c.username, "evicted", len(evicted))
}


// Package client is the client side of the realtime delivery channel.
//
// A Client moves through Disconnected, Connecting, Connected and
// Joined(room). Server events are decoded once and delivered on Events.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/i5heu/cipherroom/pkg/protocol"
)

// State of a client connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned by operations on a client that is not
	// connected.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { // A
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option { // A
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithWriteTimeout bounds each outgoing frame when the context has no
// earlier deadline. Defaults to 10s.
func WithWriteTimeout(d time.Duration) Option { // A
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// Client is a single connection to the relay.
type Client struct {
	url          string
	origin       string
	log          *slog.Logger
	buffer       int
	writeTimeout time.Duration

	// writeMu serializes frames on the wire
	writeMu sync.Mutex

	mu     sync.Mutex
	state  State
	room   string
	ws     *websocket.Conn
	events chan protocol.ServerEvent
	done   chan struct{}
	stop   func()
}

// New creates a disconnected client.
func New(url, origin string, opts ...Option) *Client { // A
	c := &Client{
		url:          url,
		origin:       origin,
		log:          slog.Default(),
		buffer:       64,
		writeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, url, origin string, opts ...Option) (*Client, error) { // A
	c := New(url, origin, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the websocket. A client may reconnect after it has been
// disconnected; the room membership does not survive that.
func (c *Client) Connect(ctx context.Context) error { // A
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	cfg, err := websocket.NewConfig(c.url, c.origin)
	if err != nil {
		c.setState(StateDisconnected, "")
		return fmt.Errorf("client: config: %w", err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		c.setState(StateDisconnected, "")
		return fmt.Errorf("client: dial %s: %w", c.url, err)
	}

	events := make(chan protocol.ServerEvent, c.buffer)
	done := make(chan struct{})
	stopCh := make(chan struct{})

	c.mu.Lock()
	c.ws = ws
	c.events = events
	c.done = done
	c.stop = sync.OnceFunc(func() { close(stopCh) })
	c.state = StateConnected
	c.room = ""
	c.mu.Unlock()

	go c.read(ws, events, done, stopCh)
	c.log.Debug("connected", "url", c.url)
	return nil
}

func (c *Client) setState(s State, room string) {
	c.mu.Lock()
	c.state = s
	c.room = room
	c.mu.Unlock()
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the joined room, or "" when not joined.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Events delivers server events of the current connection. It is closed
// when the connection ends. Keepalive pings are not delivered.
func (c *Client) Events() <-chan protocol.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Done is closed when the current connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) read(ws *websocket.Conn, events chan<- protocol.ServerEvent, done, stop chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.state = StateDisconnected
			c.room = ""
			c.ws = nil
		}
		c.mu.Unlock()
		close(events)
		close(done)
	}()

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			c.log.Debug("connection ended", "error", err)
			return
		}
		ev, err := protocol.DecodeServer(raw)
		if err != nil {
			c.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		switch ev.(type) {
		case protocol.Ping:
			continue
		case protocol.RoomDeleted:
			c.mu.Lock()
			if c.ws == ws && c.state == StateJoined {
				c.state = StateConnected
				c.room = ""
			}
			c.mu.Unlock()
		}
		select {
		case events <- ev:
		case <-stop:
			return
		}
	}
}

// write sends one frame. c.mu is never held across the network write.
func (c *Client) write(ctx context.Context, ev protocol.ClientEvent, next func()) error {
	raw, err := protocol.EncodeClient(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(deadline)
	err = websocket.Message.Send(ws, string(raw))
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("client: send %s: %w", ev.Name(), err)
	}

	if next != nil {
		c.mu.Lock()
		if c.ws == ws {
			next()
		}
		c.mu.Unlock()
	}
	return nil
}

// Join joins a room, leaving any previous one.
func (c *Client) Join(ctx context.Context, roomID, username string) error { // A
	return c.write(ctx, protocol.Join{RoomID: roomID, Username: username}, func() {
		c.state = StateJoined
		c.room = roomID
	})
}

// RequestHistory asks for the room's stored messages. The reply arrives as
// a protocol.History event.
func (c *Client) RequestHistory(ctx context.Context, roomID string) error { // A
	return c.write(ctx, protocol.RequestHistory{RoomID: roomID}, nil)
}

// Send emits an encrypted message. The server does not echo it back.
func (c *Client) Send(ctx context.Context, roomID string, iv, data []byte) error { // A
	return c.write(ctx, protocol.SendMessage{
		RoomID: roomID,
		IV:     protocol.Bytes(iv),
		Data:   protocol.Bytes(data),
	}, nil)
}

// DeleteRoom asks the server to delete the room.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error { // A
	return c.write(ctx, protocol.DeleteRoom{RoomID: roomID}, func() {
		if c.room == roomID {
			c.state = StateConnected
			c.room = ""
		}
	})
}

// Close closes the connection and waits for the reader to finish.
func (c *Client) Close() error { // A
	c.mu.Lock()
	ws, done, stop := c.ws, c.done, c.stop
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	stop()
	err := ws.Close()
	<-done
	return err
}

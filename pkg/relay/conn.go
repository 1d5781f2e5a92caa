package relay

import (
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/i5heu/cipherroom/pkg/protocol"
)

// Conn is one client connection. Frames are queued on sendCh and written by
// a single writer goroutine.
type Conn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	remote string

	// username is set by join and read only by this connection's reader.
	username string
}

func newConn(ws *websocket.Conn, buffer int) *Conn {
	c := &Conn{
		sendCh: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
	if ws != nil {
		c.ws = ws
		if req := ws.Request(); req != nil {
			c.remote = req.RemoteAddr
		}
	}
	return c
}

// enqueue queues a frame without blocking. Frames for a slow or closed
// connection are dropped.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// writer sends queued frames and a keepalive ping.
func (c *Conn) writer(ping, writeTimeout time.Duration) { // A
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	pingFrame, _ := protocol.EncodeServer(protocol.Ping{})

	write := func(data []byte) bool {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := c.ws.Write(data)
		return err == nil
	}

	for {
		select {
		case data := <-c.sendCh:
			if !write(data) {
				c.close()
				return
			}
		case <-ticker.C:
			if !write(pingFrame) {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

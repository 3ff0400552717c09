package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomcast/roomcast/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Call-signal payloads carry
	// session descriptions, which run to a few kilobytes.
	maxMessageSize = 64 * 1024

	// outBufferSize bounds the per-connection outbound queue. A peer
	// that cannot drain it starts losing broadcasts rather than
	// stalling the room.
	outBufferSize = 64
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn wraps one websocket connection. Outbound frames go through a
// bounded queue drained by the write loop; Send never blocks the
// caller.
type Conn struct {
	conn   *websocket.Conn
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(conn *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		conn:   conn,
		out:    make(chan []byte, outBufferSize),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Send queues data for delivery. It reports an error if the connection
// is closed or its outbound queue is full; the caller treats either as
// a delivery failure for this connection only.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close signals both loops to exit. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// readLoop pumps inbound frames into the room actor. It owns the
// connection teardown: on exit the connection leaves the room.
func (c *Conn) readLoop(r *room.Room) {
	defer func() {
		r.Leave(c)
		c.Close()
		c.conn.Close()
		c.logger.Debug("exited read loop")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Debug("unexpected close", "error", err)
				return
			}
			c.logger.Debug("read failed", "error", err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		r.HandleFrame(c, data)
	}
}

// writeLoop drains the outbound queue and keeps the connection alive
// with pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("exited write loop")
	}()

	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("write ping failed", "error", err)
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

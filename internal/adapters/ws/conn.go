package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dkeye/presence/internal/domain"
)

var (
	ErrBackpressure = errors.New("send buffer full")
	ErrClosed       = errors.New("connection closed")
)

// wsConn wraps one websocket with a buffered outbound queue. Writes go
// through trySend only; a full buffer means the consumer is too slow
// and the frame is dropped by the caller. The mutex keeps trySend and
// close from racing on the channel.
type wsConn struct {
	id   domain.ConnID
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newWSConn(id domain.ConnID, conn *websocket.Conn) *wsConn {
	return &wsConn{
		id:   id,
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

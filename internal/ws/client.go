package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be < pongWait
)

var errConnClosed = errors.New("ws: connection closed")

// Transport is the send side of one client's connection. A room owns
// exactly one Transport per client and checks Open immediately before
// every write; a send racing a close returns an error instead of
// panicking, and the room treats that like a skip.
type Transport interface {
	Send(messageType int, data []byte) error
	Open() bool
	Close() error
}

// clientConn wraps a websocket connection with a write mutex so the
// room's broadcast paths and the keepalive pinger never interleave
// frames.
type clientConn struct {
	connID  string
	rawConn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newClientConn(rawConn *websocket.Conn) *clientConn {
	return &clientConn{
		connID:  uuid.NewString(),
		rawConn: rawConn,
	}
}

func (c *clientConn) Send(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(messageType, data)
}

func (c *clientConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(websocket.PingMessage, nil)
}

func (c *clientConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *clientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.rawConn.Close()
}

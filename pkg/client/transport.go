package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one transport connection to the gateway.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ReadyStater is implemented by connections that can report their readiness
// without a round-trip. The session heartbeat samples it.
type ReadyStater interface {
	ReadyState() State
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const writeWait = 10 * time.Second

// WebSocketDialer dials the gateway with gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WebSocketDialer{dialer: &d}
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &wsConn{conn: conn}
	c.state.Store(int32(StateOpen))
	return c, nil
}

// wsConn tracks readiness of a gorilla connection: any read or write error
// marks it closed.
type wsConn struct {
	conn  *websocket.Conn
	state atomic.Int32
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		c.state.Store(int32(StateClosed))
	}
	return mt, data, err
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(messageType, data)
	if err != nil {
		c.state.Store(int32(StateClosed))
	}
	return err
}

func (c *wsConn) Close() error {
	c.state.Store(int32(StateClosed))
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *wsConn) ReadyState() State {
	return State(c.state.Load())
}

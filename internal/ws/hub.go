package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/comet-live/backend/internal/model"
)

const defaultSendBufferSize = 256

// Client represents a WebSocket client connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	send    chan []byte
	limiter *rate.Limiter
	mu      sync.Mutex
	closed  bool
}

// NewClient creates a new WebSocket client with an outbound buffer of bufferSize frames.
func NewClient(hub *Hub, conn *websocket.Conn, id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = defaultSendBufferSize
	}
	return &Client{
		hub:  hub,
		conn: conn,
		id:   id,
		send: make(chan []byte, bufferSize),
	}
}

// Send queues a frame to be written to the client.
// It never blocks: a closed client reports ErrConnectionGone and a full
// buffer reports ErrSendBufferFull.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.ErrConnectionGone
	}

	select {
	case c.send <- data:
		return nil
	default:
		return model.ErrSendBufferFull
	}
}

// Close closes the client's outbound channel. The write pump then sends a
// close frame and tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the connection id assigned to this client.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// allow reports whether the client may send another inbound message.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Hub tracks live clients by connection id.
type Hub struct {
	clients map[string]*Client
	closed  bool
	mu      sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub, replacing any client with the same id.
// A client registered after Close is closed immediately.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.Close()
		return
	}
	old := h.clients[client.id]
	h.clients[client.id] = client
	h.mu.Unlock()

	if old != nil && old != client {
		old.Close()
	}
}

// Unregister removes a client from the hub and closes it.
// A newer client registered under the same id is left in place.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.clients[client.id] == client {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	client.Close()
}

// Get returns the client for the connection id.
func (h *Hub) Get(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connectionID]
	return client, ok
}

// Send delivers data to one connection.
// An unknown or closed connection is reported as gone.
func (h *Hub) Send(_ context.Context, connectionID string, data []byte) error {
	client, ok := h.Get(connectionID)
	if !ok {
		return fmt.Errorf("%s: %w", connectionID, model.ErrConnectionGone)
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("%s: %w", connectionID, err)
	}
	return nil
}

// Disconnect force-closes one connection.
func (h *Hub) Disconnect(connectionID string) error {
	client, ok := h.Get(connectionID)
	if !ok {
		return fmt.Errorf("%s: %w", connectionID, model.ErrConnectionNotFound)
	}
	client.Close()
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs returns the connection ids of every connected client, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := lo.Keys(h.clients)
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := lo.Values(h.clients)
	h.clients = make(map[string]*Client)
	h.closed = true
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

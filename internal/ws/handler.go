package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/comet-live/backend/internal/gateway"
	"github.com/comet-live/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 8192
)

// ErrHandlerClosed is returned for connections attempted after Close.
var ErrHandlerClosed = errors.New("websocket handler closed")

// Options tunes per-connection transport behaviour.
type Options struct {
	// SendBufferSize is the number of outbound frames queued per connection.
	SendBufferSize int
	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64
	// MessageRate and MessageBurst configure the inbound token bucket.
	// A zero MessageRate disables rate limiting.
	MessageRate  rate.Limit
	MessageBurst int
	// AllowedOrigin is matched against the Origin header; "*" or empty allows any.
	AllowedOrigin string
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.MessageRate > 0 && o.MessageBurst <= 0 {
		o.MessageBurst = 1
	}
	return o
}

// Handler handles WebSocket connections to the gateway.
type Handler struct {
	hub        *Hub
	dispatcher *gateway.Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	log        zerolog.Logger
	newID      func() string

	// sessions counts connections from handshake until their disconnect
	// has reached the registry.
	sessions sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, dispatcher *gateway.Dispatcher, log zerolog.Logger, opts Options) *Handler {
	opts = opts.withDefaults()
	h := &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		opts:       opts,
		log:        log.With().Str("component", "ws").Logger(),
		newID:      uuid.NewString,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.opts.AllowedOrigin
}

// HandleConnection upgrades the request and attaches the new connection to
// the gateway. The connection is closed again if the registry rejects it.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrHandlerClosed
	}
	h.sessions.Add(1)
	h.mu.Unlock()

	started := false
	defer func() {
		if !started {
			h.sessions.Done()
		}
	}()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h.hub, conn, h.newID(), h.opts.SendBufferSize)
	if h.opts.MessageRate > 0 {
		client.limiter = rate.NewLimiter(h.opts.MessageRate, h.opts.MessageBurst)
	}

	// The hub must know the client before the registry row exists, or a
	// concurrent broadcast would report the new member as gone.
	h.hub.Register(client)
	if client.IsClosed() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return ErrHandlerClosed
	}

	if err := h.dispatcher.OnConnect(r.Context(), client.ID()); err != nil {
		h.hub.Unregister(client)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "registry unavailable"))
		conn.Close()
		return err
	}

	h.log.Info().Str("connection", client.ID()).Str("remote", r.RemoteAddr).Msg("client connected")

	started = true
	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// Close stops accepting connections and waits until every open connection
// has finished its disconnect. The hub must be closed first so the
// connections actually end.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.sessions.Wait()
}

// readPump pumps messages from the WebSocket connection to the dispatcher.
func (h *Handler) readPump(client *Client) {
	ctx := context.Background()
	defer h.sessions.Done()
	defer func() {
		h.hub.Unregister(client)
		h.dispatcher.OnDisconnect(ctx, client.ID())
		client.Conn().Close()
		h.log.Info().Str("connection", client.ID()).Msg("client disconnected")
	}()

	client.Conn().SetReadLimit(h.opts.MaxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("connection", client.ID()).Msg("websocket error")
			}
			break
		}

		if !client.allow() {
			h.dispatcher.ReplyError(ctx, client.ID(), model.ErrorCodeRateLimited, "too many messages")
			continue
		}

		// Errors are answered to the sender by the dispatcher.
		_ = h.dispatcher.OnMessage(ctx, client.ID(), message)
	}
}

// writePump pumps queued frames from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each envelope goes in its own frame so the peer can decode frames independently.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

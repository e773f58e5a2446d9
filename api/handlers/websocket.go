package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/ws"
)

// WebSocketHandler attaches clients to the gateway over WebSocket.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	log       zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Attach handles GET /ws - upgrades the request and joins the default room.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already answered a failed handshake; a registry
		// failure closes the socket with a close frame.
		h.log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("websocket attach failed")
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Attach)
}

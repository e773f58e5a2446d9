// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/comet-live/backend/internal/model"
	"github.com/comet-live/backend/internal/registry"
)

// Transport is the live connection set the management API acts on.
type Transport interface {
	Send(ctx context.Context, connectionID string, data []byte) error
	Disconnect(connectionID string) error
	ClientCount() int
	IDs() []string
}

// ConnectionHandler handles HTTP requests for connection management.
type ConnectionHandler struct {
	transport Transport
	store     registry.Store
	room      string
	log       zerolog.Logger
	now       func() time.Time
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(transport Transport, store registry.Store, room string, log zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		transport: transport,
		store:     store,
		room:      room,
		log:       log.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// ConnectionResponse represents a registry row in API responses.
type ConnectionResponse struct {
	ConnectionID string `json:"connectionId"`
	RoomID       string `json:"roomId"`
	ConnectedAt  string `json:"connectedAt"`
	ExpiresAt    string `json:"expiresAt"`
	Live         bool   `json:"live"`
}

// RoomConnectionsResponse lists the registry rows of one room.
type RoomConnectionsResponse struct {
	RoomID      string                `json:"roomId"`
	Connections []*ConnectionResponse `json:"connections"`
	Total       int                   `json:"total"`
}

// StatsResponse reports the gateway's live transport connections.
type StatsResponse struct {
	Room        string   `json:"room"`
	Connections int      `json:"connections"`
	IDs         []string `json:"ids"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Post handles POST /api/connections/:id - writes the request body to one connection.
func (h *ConnectionHandler) Post(c *gin.Context) {
	connectionID := c.Param("id")
	data, err := c.GetRawData()
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read body: "+err.Error())
		return
	}
	if len(data) == 0 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request body is required")
		return
	}

	err = h.transport.Send(c.Request.Context(), connectionID, data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	case errors.Is(err, model.ErrConnectionGone):
		// The connection is proven gone; drop its row so broadcasts skip it.
		if rmErr := h.store.Remove(c.Request.Context(), connectionID, h.room); rmErr != nil {
			h.log.Warn().Err(rmErr).Str("connection", connectionID).Msg("failed to remove gone connection")
		}
		sendError(c, http.StatusGone, "CONNECTION_GONE", "Connection "+connectionID+" is gone")
	case errors.Is(err, model.ErrSendBufferFull):
		sendError(c, http.StatusServiceUnavailable, "SEND_BUFFER_FULL", "Connection "+connectionID+" is not accepting messages")
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to send: "+err.Error())
	}
}

// Delete handles DELETE /api/connections/:id - force-disconnects a connection.
func (h *ConnectionHandler) Delete(c *gin.Context) {
	connectionID := c.Param("id")

	if err := h.transport.Disconnect(connectionID); err != nil {
		if errors.Is(err, model.ErrConnectionNotFound) {
			sendError(c, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection "+connectionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to disconnect: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// ListRoom handles GET /api/rooms/:room/connections - lists live registry rows of a room.
func (h *ConnectionHandler) ListRoom(c *gin.Context) {
	roomID := c.Param("room")

	conns, err := h.store.Connections(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, model.ErrStoreUnavailable) {
			sendError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Failed to list connections: "+err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list connections: "+err.Error())
		return
	}

	live := lo.SliceToMap(h.transport.IDs(), func(id string) (string, bool) { return id, true })
	c.JSON(http.StatusOK, RoomConnectionsResponse{
		RoomID: roomID,
		Connections: lo.Map(conns, func(conn model.Connection, _ int) *ConnectionResponse {
			return toConnectionResponse(conn, live[conn.ConnectionID])
		}),
		Total: len(conns),
	})
}

// Stats handles GET /stats - reports live transport connections.
func (h *ConnectionHandler) Stats(c *gin.Context) {
	ids := h.transport.IDs()
	c.JSON(http.StatusOK, StatsResponse{
		Room:        h.room,
		Connections: len(ids),
		IDs:         ids,
	})
}

// Health handles GET /health.
func (h *ConnectionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.transport.ClientCount(),
		"time":        h.now().UTC().Format(time.RFC3339),
	})
}

// RegisterRoutes registers the connection management routes on a Gin router group.
func (h *ConnectionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/connections/:id", h.Post)
	rg.DELETE("/connections/:id", h.Delete)
	rg.GET("/rooms/:room/connections", h.ListRoom)
}

// RegisterStatusRoutes registers the health and stats routes.
func (h *ConnectionHandler) RegisterStatusRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/stats", h.Stats)
}

func toConnectionResponse(c model.Connection, live bool) *ConnectionResponse {
	return &ConnectionResponse{
		ConnectionID: c.ConnectionID,
		RoomID:       c.RoomID,
		ConnectedAt:  c.ConnectedTime().UTC().Format(time.RFC3339),
		ExpiresAt:    time.Unix(c.ExpiresAt, 0).UTC().Format(time.RFC3339),
		Live:         live,
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

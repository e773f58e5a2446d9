package ws

import (
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/broadcast"
	"github.com/comet-live/backend/internal/gateway"
	"github.com/comet-live/backend/internal/registry"
)

// Service wires the transport hub, the broadcast fan-out and the gateway
// dispatcher over one registry store.
type Service struct {
	hub         *Hub
	broadcaster *broadcast.Broadcaster
	dispatcher  *gateway.Dispatcher
	handler     *Handler
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Room is the room every connection joins.
	Room      string
	Transport Options
}

// NewService creates a new WebSocket service backed by store.
func NewService(store registry.Store, log zerolog.Logger, cfg ServiceConfig) *Service {
	hub := NewHub()
	broadcaster := broadcast.New(hub, store, log)
	dispatcher := gateway.New(store, broadcaster, hub, log, gateway.WithRoom(cfg.Room))
	handler := NewHandler(hub, dispatcher, log, cfg.Transport)

	return &Service{
		hub:         hub,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		handler:     handler,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the live connection hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Broadcaster returns the broadcast fan-out.
func (s *Service) Broadcaster() *broadcast.Broadcaster {
	return s.broadcaster
}

// Dispatcher returns the gateway dispatcher.
func (s *Service) Dispatcher() *gateway.Dispatcher {
	return s.dispatcher
}

// Close closes all WebSocket connections and returns once their registry
// rows and any pending gone cleanups have been handled.
func (s *Service) Close() {
	s.hub.Close()
	s.handler.Close()
	s.broadcaster.Wait()
}

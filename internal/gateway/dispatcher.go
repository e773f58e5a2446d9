// Package gateway routes transport lifecycle events to the connection
// registry and the broadcast fan-out.
//
// The Dispatcher keeps no per-connection state of its own. Every call is an
// independent invocation; the registry is the only shared resource.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/broadcast"
	"github.com/comet-live/backend/internal/model"
	"github.com/comet-live/backend/internal/registry"
)

// Fanout delivers an envelope to a set of connections in a room.
type Fanout interface {
	Broadcast(ctx context.Context, roomID string, connectionIDs []string, env *model.Envelope) (broadcast.Result, error)
}

type handlerFunc func(ctx context.Context, connectionID string, env *model.Envelope) error

// Dispatcher handles connect, disconnect and inbound message events.
type Dispatcher struct {
	store   registry.Store
	fanout  Fanout
	replier broadcast.Sender
	room    string
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string

	handlers map[model.MessageType]handlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRoom sets the room every connection joins.
func WithRoom(roomID string) Option {
	return func(d *Dispatcher) {
		if roomID != "" {
			d.room = roomID
		}
	}
}

// WithClock overrides the clock used to stamp outbound envelopes.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides how comment and stamp ids are assigned.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// New creates a Dispatcher. Replies to a single connection (pong, error)
// go through replier; room-wide messages go through fanout.
func New(store registry.Store, fanout Fanout, replier broadcast.Sender, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		fanout:  fanout,
		replier: replier,
		room:    model.DefaultRoomID,
		log:     log.With().Str("component", "gateway").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.handlers = map[model.MessageType]handlerFunc{
		model.MessageTypeNewComment: d.handleComment,
		model.MessageTypeNewStamp:   d.handleStamp,
		model.MessageTypePing:       d.handlePing,
	}
	return d
}

// Room returns the room connections are placed in.
func (d *Dispatcher) Room() string {
	return d.room
}

// OnConnect records the connection in the default room.
// A non-nil error means the connect is rejected and the caller must tear the
// transport down.
func (d *Dispatcher) OnConnect(ctx context.Context, connectionID string) error {
	if err := d.store.Save(ctx, connectionID, d.room); err != nil {
		d.log.Error().Err(err).Str("connection", connectionID).Msg("connect rejected")
		return fmt.Errorf("failed to register connection %s: %w", connectionID, err)
	}
	d.log.Debug().Str("connection", connectionID).Str("room", d.room).Msg("connected")
	return nil
}

// OnDisconnect removes the connection from the default room.
// It always succeeds; a failed remove is logged and left to TTL expiry.
func (d *Dispatcher) OnDisconnect(ctx context.Context, connectionID string) {
	if err := d.store.Remove(ctx, connectionID, d.room); err != nil {
		d.log.Warn().Err(err).Str("connection", connectionID).Msg("failed to remove connection on disconnect")
		return
	}
	d.log.Debug().Str("connection", connectionID).Str("room", d.room).Msg("disconnected")
}

// OnMessage decodes raw and routes it by type.
// Malformed or invalid input is answered with an error envelope to the
// sender and reported as an error; it is never broadcast. Unknown types are
// logged and ignored.
func (d *Dispatcher) OnMessage(ctx context.Context, connectionID string, raw []byte) error {
	env, err := model.ParseEnvelope(raw)
	if err != nil {
		d.log.Debug().Err(err).Str("connection", connectionID).Msg("dropping malformed message")
		d.ReplyError(ctx, connectionID, model.ErrorCodeInvalidMessage, err.Error())
		return err
	}

	handle, err := d.route(env.Type)
	if err != nil {
		d.log.Info().Err(err).Str("connection", connectionID).Str("type", string(env.Type)).Msg("ignoring message")
		return nil
	}
	if handle == nil {
		d.log.Debug().Str("connection", connectionID).Str("type", string(env.Type)).Msg("ignoring server-bound reply type")
		return nil
	}

	if err := handle(ctx, connectionID, env); err != nil {
		d.ReplyError(ctx, connectionID, errorCode(err), err.Error())
		return err
	}
	return nil
}

// route returns the handler for t. Protocol types the server only ever emits
// have no handler; anything outside the protocol is ErrUnknownMessageType.
func (d *Dispatcher) route(t model.MessageType) (handlerFunc, error) {
	if !t.Known() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownMessageType, t)
	}
	return d.handlers[t], nil
}

// ReplyError sends an error envelope to a single connection.
// Delivery failures are logged only.
func (d *Dispatcher) ReplyError(ctx context.Context, connectionID, code, message string) {
	d.reply(ctx, connectionID, model.NewErrorEnvelope(code, message, d.now()))
}

func (d *Dispatcher) reply(ctx context.Context, connectionID string, env *model.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		d.log.Error().Err(err).Str("type", string(env.Type)).Msg("failed to marshal reply")
		return
	}
	if err := d.replier.Send(ctx, connectionID, data); err != nil {
		d.log.Debug().Err(err).Str("connection", connectionID).Str("type", string(env.Type)).Msg("failed to reply")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrMalformedEnvelope):
		return model.ErrorCodeInvalidMessage
	case errors.Is(err, model.ErrInvalidPayload):
		return model.ErrorCodeValidationFailed
	default:
		return model.ErrorCodeInternal
	}
}

func (d *Dispatcher) handleComment(ctx context.Context, connectionID string, env *model.Envelope) error {
	var payload model.NewCommentPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	comment := payload.Comment
	comment.Style = comment.Style.WithDefaults()
	if err := model.ValidateComment(comment); err != nil {
		return err
	}

	now := d.now()
	comment.ID = d.newID()
	comment.Timestamp = now.UnixMilli()

	out, err := model.NewEnvelope(model.MessageTypeNewComment, model.NewCommentPayload{Comment: comment}, now)
	if err != nil {
		return err
	}
	return d.broadcast(ctx, connectionID, out)
}

func (d *Dispatcher) handleStamp(ctx context.Context, connectionID string, env *model.Envelope) error {
	var payload model.NewStampPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	stamp := payload.Stamp
	if err := model.ValidateStampMessage(stamp); err != nil {
		return err
	}

	now := d.now()
	if stamp.ID == "" {
		stamp.ID = d.newID()
	}
	stamp.Timestamp = now.UnixMilli()

	out, err := model.NewEnvelope(model.MessageTypeNewStamp, model.NewStampPayload{Stamp: stamp}, now)
	if err != nil {
		return err
	}
	return d.broadcast(ctx, connectionID, out)
}

func (d *Dispatcher) handlePing(ctx context.Context, connectionID string, _ *model.Envelope) error {
	pong, err := model.NewEnvelope(model.MessageTypePong, nil, d.now())
	if err != nil {
		return err
	}
	d.reply(ctx, connectionID, pong)
	return nil
}

// broadcast resolves the room's members and hands env to the fan-out.
// A failed membership read aborts the broadcast; partial delivery is not an error.
func (d *Dispatcher) broadcast(ctx context.Context, senderID string, env *model.Envelope) error {
	members, err := d.store.ListByRoom(ctx, d.room)
	if err != nil {
		return fmt.Errorf("failed to list room %s: %w", d.room, err)
	}

	res, err := d.fanout.Broadcast(ctx, d.room, members, env)
	if err != nil {
		return err
	}

	d.log.Debug().
		Str("sender", senderID).
		Str("type", string(env.Type)).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("broadcast complete")
	return nil
}

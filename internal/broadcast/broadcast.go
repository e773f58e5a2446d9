//go:generate go run go.uber.org/mock/mockgen -source=broadcast.go -destination=../mocks/mock_broadcast.go -package=mocks

// Package broadcast delivers one envelope to every connection in a room.
//
// Delivery is best-effort: each recipient is sent to concurrently and
// independently, no recipient's outcome affects another's, and nothing is
// retried. Recipients the transport reports as gone are removed from the
// registry in the background.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/model"
)

const defaultCleanupTimeout = 5 * time.Second

// Sender is the per-connection delivery channel.
// Send returns nil when the transport accepted the frame, an error wrapping
// model.ErrConnectionGone when the recipient's session no longer exists, and
// any other error for a transient failure.
type Sender interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

// Remover deletes a registry row for a connection proven gone.
type Remover interface {
	Remove(ctx context.Context, connectionID, roomID string) error
}

// Outcome classifies a single delivery.
type Outcome int

const (
	Delivered Outcome = iota
	Gone
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Gone:
		return "gone"
	case Transient:
		return "transient"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Classify maps a Sender error to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, model.ErrConnectionGone):
		return Gone
	default:
		return Transient
	}
}

// Result aggregates a broadcast. Sent+Failed always equals the number of recipients.
// It is informational; callers do not retry on partial failure.
type Result struct {
	Sent   int
	Failed int
	// Gone lists the recipients that were scheduled for registry removal.
	Gone []string
}

// Broadcaster fans an envelope out to a set of connections.
type Broadcaster struct {
	sender         Sender
	remover        Remover
	log            zerolog.Logger
	cleanupTimeout time.Duration
	cleanups       sync.WaitGroup
}

// New creates a Broadcaster delivering through sender and removing gone
// connections through remover.
func New(sender Sender, remover Remover, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		sender:         sender,
		remover:        remover,
		log:            log.With().Str("component", "broadcast").Logger(),
		cleanupTimeout: defaultCleanupTimeout,
	}
}

// Broadcast encodes env once and delivers it to every connection in connectionIDs.
// Once started it is not cancellable: sends run to completion under the
// transport's own timeouts even if ctx is cancelled.
func (b *Broadcaster) Broadcast(ctx context.Context, roomID string, connectionIDs []string, env *model.Envelope) (Result, error) {
	data, err := env.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}
	return b.Deliver(ctx, roomID, connectionIDs, data), nil
}

// Deliver sends pre-encoded data to every connection concurrently and waits for all sends.
func (b *Broadcaster) Deliver(ctx context.Context, roomID string, connectionIDs []string, data []byte) Result {
	ctx = context.WithoutCancel(ctx)
	outcomes := make([]Outcome, len(connectionIDs))

	var wg sync.WaitGroup
	for i, id := range connectionIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = b.deliverOne(ctx, roomID, id, data)
		}()
	}
	wg.Wait()

	var res Result
	for i, o := range outcomes {
		switch o {
		case Delivered:
			res.Sent++
		case Gone:
			res.Failed++
			res.Gone = append(res.Gone, connectionIDs[i])
		default:
			res.Failed++
		}
	}
	return res
}

func (b *Broadcaster) deliverOne(ctx context.Context, roomID, connectionID string, data []byte) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("connection", connectionID).Interface("panic", r).Msg("panic while sending")
			outcome = Transient
		}
	}()

	err := b.sender.Send(ctx, connectionID, data)
	outcome = Classify(err)
	switch outcome {
	case Gone:
		b.log.Debug().Str("connection", connectionID).Str("room", roomID).Msg("connection is gone")
		b.cleanup(ctx, roomID, connectionID)
	case Transient:
		b.log.Warn().Err(err).Str("connection", connectionID).Msg("failed to send")
	}
	return outcome
}

// cleanup removes a gone connection without blocking the broadcast that found it.
func (b *Broadcaster) cleanup(ctx context.Context, roomID, connectionID string) {
	b.cleanups.Add(1)
	go func() {
		defer b.cleanups.Done()
		ctx, cancel := context.WithTimeout(ctx, b.cleanupTimeout)
		defer cancel()
		if err := b.remover.Remove(ctx, connectionID, roomID); err != nil {
			b.log.Warn().Err(err).Str("connection", connectionID).Str("room", roomID).Msg("failed to remove gone connection")
		}
	}()
}

// Wait blocks until every pending gone-connection cleanup has finished.
func (b *Broadcaster) Wait() {
	b.cleanups.Wait()
}

//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_store.go -package=mocks

// Package registry tracks which connections are live and which room they belong to.
//
// Rows carry an advisory expiry. Reads hide rows whose expiry has passed even
// if they have not been physically removed yet; PurgeExpired (driven by the
// Sweeper) removes them. Consumers must not treat a missing expired row as an
// error.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/comet-live/backend/internal/model"
)

// Store is the connection registry contract.
// Every method is atomic at single-row granularity and safe for concurrent use.
// Backend failures are wrapped in model.ErrStoreUnavailable.
type Store interface {
	// Save upserts the (connectionID, roomID) row, refreshing connectedAt and expiry.
	Save(ctx context.Context, connectionID, roomID string) error
	// Remove deletes the row. Removing an absent row succeeds.
	Remove(ctx context.Context, connectionID, roomID string) error
	// ListByRoom returns a snapshot of the unexpired connection ids in roomID.
	ListByRoom(ctx context.Context, roomID string) ([]string, error)
	// Connections returns a snapshot of the unexpired rows in roomID.
	Connections(ctx context.Context, roomID string) ([]model.Connection, error)
	// PurgeExpired deletes every row whose expiry has passed and returns how many were deleted.
	PurgeExpired(ctx context.Context) (int, error)
}

type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures a Store backend.
type Option func(*options)

// WithTTL sets the expiry horizon applied on Save.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for connectedAt and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{ttl: model.DefaultConnectionTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkKey(connectionID, roomID string) error {
	if connectionID == "" {
		return fmt.Errorf("%w: connection id is required", model.ErrInvalidConnection)
	}
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", model.ErrInvalidConnection)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStoreUnavailable, op, err)
}

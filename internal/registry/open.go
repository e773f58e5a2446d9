package registry

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/db"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// OpenConfig selects and locates a Store backend.
type OpenConfig struct {
	Driver     string
	SQLitePath string
	BadgerPath string
	TTL        time.Duration
}

// Open opens the configured backend. The returned close function releases it.
func Open(cfg OpenConfig, log zerolog.Logger) (Store, func() error, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		database, err := db.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteStore(database, WithTTL(cfg.TTL)), database.Close, nil

	case DriverBadger:
		opts := badger.DefaultOptions(cfg.BadgerPath).WithLogger(NewBadgerLogger(log))
		bdb, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger: %w", err)
		}
		return NewBadgerStore(bdb, WithTTL(cfg.TTL)), bdb.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/model"
)

// Key layout, with keySep between parts so room ids may contain any printable character:
//
//	conn<sep>{connectionID}<sep>{roomID}  primary row
//	room<sep>{roomID}<sep>{connectionID}  room index, same value
//
// Both keys carry the row's TTL, so Badger drops them on its own once expired.
const keySep = "\x00"

func primaryKey(connectionID, roomID string) []byte {
	return []byte("conn" + keySep + connectionID + keySep + roomID)
}

func roomKey(roomID, connectionID string) []byte {
	return []byte("room" + keySep + roomID + keySep + connectionID)
}

func roomPrefix(roomID string) []byte {
	return []byte("room" + keySep + roomID + keySep)
}

var primaryPrefix = []byte("conn" + keySep)

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

// NewBadgerStore creates a new BadgerStore over an open database.
func NewBadgerStore(db *badger.DB, opts ...Option) *BadgerStore {
	return &BadgerStore{db: db, opts: newOptions(opts)}
}

// Save upserts the primary row and its room index entry in one transaction.
func (s *BadgerStore) Save(_ context.Context, connectionID, roomID string) error {
	if err := checkKey(connectionID, roomID); err != nil {
		return err
	}
	conn := model.NewConnection(connectionID, roomID, s.opts.now(), s.opts.ttl)
	value, err := json.Marshal(conn)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(primaryKey(connectionID, roomID), value).WithTTL(s.opts.ttl)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(roomKey(roomID, connectionID), value).WithTTL(s.opts.ttl))
	})
	if err != nil {
		return unavailable("save connection", err)
	}
	return nil
}

// Remove deletes the row and its index entry. Deleting absent keys is not an error.
func (s *BadgerStore) Remove(_ context.Context, connectionID, roomID string) error {
	if err := checkKey(connectionID, roomID); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(primaryKey(connectionID, roomID)); err != nil {
			return err
		}
		return txn.Delete(roomKey(roomID, connectionID))
	})
	if err != nil {
		return unavailable("remove connection", err)
	}
	return nil
}

// ListByRoom returns the ids of unexpired connections in a room via a prefix scan of the room index.
func (s *BadgerStore) ListByRoom(ctx context.Context, roomID string) ([]string, error) {
	conns, err := s.Connections(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ConnectionID)
	}
	return ids, nil
}

// Connections returns the unexpired rows in a room.
func (s *BadgerStore) Connections(_ context.Context, roomID string) ([]model.Connection, error) {
	now := s.opts.now()
	conns := make([]model.Connection, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c model.Connection
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if c.Expired(now) {
				continue
			}
			conns = append(conns, c)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list connections", err)
	}
	return conns, nil
}

// PurgeExpired deletes rows whose recorded expiry has passed. Badger already hides
// entries past their native TTL; this catches rows expired by the store clock.
func (s *BadgerStore) PurgeExpired(_ context.Context) (int, error) {
	now := s.opts.now()
	var expired []model.Connection

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(primaryPrefix); it.ValidForPrefix(primaryPrefix); it.Next() {
			var c model.Connection
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if c.Expired(now) {
				expired = append(expired, c)
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("purge connections", err)
	}

	purged := 0
	for _, c := range expired {
		deleted, err := s.deleteIfExpired(c.ConnectionID, c.RoomID, now)
		if errors.Is(err, badger.ErrConflict) {
			// Refreshed concurrently; leave it for the next sweep.
			continue
		}
		if err != nil {
			return purged, unavailable("purge connections", err)
		}
		if deleted {
			purged++
		}
	}
	return purged, nil
}

// deleteIfExpired re-reads the primary row inside the delete transaction so a
// row refreshed after the scan survives.
func (s *BadgerStore) deleteIfExpired(connectionID, roomID string, now time.Time) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(primaryKey(connectionID, roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var c model.Connection
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		}); err != nil {
			return err
		}
		if !c.Expired(now) {
			return nil
		}
		if err := txn.Delete(primaryKey(connectionID, roomID)); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(roomKey(roomID, connectionID))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

// NewBadgerLogger adapts a zerolog.Logger to badger.Logger.
func NewBadgerLogger(log zerolog.Logger) badger.Logger {
	return badgerLogger{log: log.With().Str("component", "badger").Logger()}
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Error().Msgf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warn().Msgf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debug().Msgf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Trace().Msgf(format, args...) }

package registry

import (
	"context"
	"database/sql"

	"github.com/comet-live/backend/internal/model"
)

// SQLiteStore is a Store backed by the connections table.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStore creates a new SQLiteStore over a migrated database.
func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLiteStore {
	return &SQLiteStore{db: db, opts: newOptions(opts)}
}

// Save upserts a connection row.
func (s *SQLiteStore) Save(ctx context.Context, connectionID, roomID string) error {
	if err := checkKey(connectionID, roomID); err != nil {
		return err
	}
	conn := model.NewConnection(connectionID, roomID, s.opts.now(), s.opts.ttl)

	query := `
		INSERT INTO connections (connection_id, room_id, connected_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (connection_id, room_id) DO UPDATE SET
			connected_at = excluded.connected_at,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		conn.ConnectionID,
		conn.RoomID,
		conn.ConnectedAt,
		conn.ExpiresAt,
	)
	if err != nil {
		return unavailable("save connection", err)
	}

	return nil
}

// Remove deletes a connection row. Deleting an absent row is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, connectionID, roomID string) error {
	if err := checkKey(connectionID, roomID); err != nil {
		return err
	}

	query := `DELETE FROM connections WHERE connection_id = ? AND room_id = ?`

	if _, err := s.db.ExecContext(ctx, query, connectionID, roomID); err != nil {
		return unavailable("remove connection", err)
	}

	return nil
}

// ListByRoom returns the ids of unexpired connections in a room.
func (s *SQLiteStore) ListByRoom(ctx context.Context, roomID string) ([]string, error) {
	query := `
		SELECT connection_id
		FROM connections
		WHERE room_id = ? AND expires_at > ?
	`

	rows, err := s.db.QueryContext(ctx, query, roomID, s.opts.now().Unix())
	if err != nil {
		return nil, unavailable("list connections", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan connection", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate connections", err)
	}

	return ids, nil
}

// Connections returns the unexpired rows in a room, oldest connection first.
func (s *SQLiteStore) Connections(ctx context.Context, roomID string) ([]model.Connection, error) {
	query := `
		SELECT connection_id, room_id, connected_at, expires_at
		FROM connections
		WHERE room_id = ? AND expires_at > ?
		ORDER BY connected_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roomID, s.opts.now().Unix())
	if err != nil {
		return nil, unavailable("list connections", err)
	}
	defer rows.Close()

	conns := make([]model.Connection, 0)
	for rows.Next() {
		var c model.Connection
		if err := rows.Scan(&c.ConnectionID, &c.RoomID, &c.ConnectedAt, &c.ExpiresAt); err != nil {
			return nil, unavailable("scan connection", err)
		}
		conns = append(conns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate connections", err)
	}

	return conns, nil
}

// PurgeExpired deletes rows whose expiry has passed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM connections WHERE expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, s.opts.now().Unix())
	if err != nil {
		return 0, unavailable("purge connections", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("purge connections", err)
	}

	return int(rowsAffected), nil
}

// Package db opens the SQLite database backing the connection registry.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	connection_id TEXT NOT NULL,
	room_id TEXT NOT NULL,
	connected_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (connection_id, room_id)
);

CREATE INDEX IF NOT EXISTS idx_connections_room_id ON connections(room_id);
CREATE INDEX IF NOT EXISTS idx_connections_expires_at ON connections(expires_at);
`

// Open opens the registry database file at path, creating its directory when
// missing, and brings the schema up to date. The caller owns the handle.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the sweeper purge while the gateway reads room membership.
	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// migrate creates the connections table. The primary key is
// (connection_id, room_id); idx_connections_room_id serves room membership
// lookups without scanning every connection.
func migrate(database *sql.DB) error {
	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// NewTestDB creates a fresh in-memory database for testing.
func NewTestDB() (*sql.DB, error) {
	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a separate database.
	testDB.SetMaxOpenConns(1)

	if err := migrate(testDB); err != nil {
		testDB.Close()
		return nil, err
	}
	return testDB, nil
}

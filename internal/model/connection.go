package model

import "time"

// DefaultRoomID is the room every connection joins in the current deployment.
const DefaultRoomID = "global"

// DefaultConnectionTTL is the expiry horizon applied to a registry row on save.
const DefaultConnectionTTL = 2 * time.Hour

// Connection is one registry row: a live transport session and its room.
type Connection struct {
	ConnectionID string `json:"connectionId"`
	RoomID       string `json:"roomId"`
	// ConnectedAt is in epoch milliseconds.
	ConnectedAt int64 `json:"connectedAt"`
	// ExpiresAt is in epoch seconds.
	ExpiresAt int64 `json:"ttl"`
}

// NewConnection builds a row connected at now that expires after ttl.
func NewConnection(connectionID, roomID string, now time.Time, ttl time.Duration) Connection {
	return Connection{
		ConnectionID: connectionID,
		RoomID:       roomID,
		ConnectedAt:  now.UnixMilli(),
		ExpiresAt:    now.Add(ttl).Unix(),
	}
}

// Expired reports whether the row's TTL has passed at now.
// A row is live up to and excluding its expiry second.
func (c Connection) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.Unix()
}

// ConnectedTime returns ConnectedAt as a time.Time.
func (c Connection) ConnectedTime() time.Time {
	return time.UnixMilli(c.ConnectedAt)
}

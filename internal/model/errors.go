package model

import "errors"

var (
	// ErrStoreUnavailable is returned when the connection registry cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConnectionGone is returned when a recipient's transport session no longer exists.
	ErrConnectionGone = errors.New("connection gone")

	// ErrInvalidConnection is returned when a connection id or room id is empty.
	ErrInvalidConnection = errors.New("invalid connection")

	// ErrConnectionNotFound is returned when a connection is not registered.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrSendBufferFull is returned when a recipient cannot accept more outbound frames.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrMalformedEnvelope is returned when inbound bytes are not a valid envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrInvalidPayload is returned when an envelope payload fails validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownMessageType is returned when an envelope carries an unrecognized type.
	ErrUnknownMessageType = errors.New("unknown message type")
)

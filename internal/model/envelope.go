package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of an envelope exchanged over the WebSocket.
type MessageType string

const (
	MessageTypeNewComment MessageType = "new_comment"
	MessageTypeNewStamp   MessageType = "new_stamp"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Known reports whether t is one of the protocol's message types.
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeNewComment, MessageTypeNewStamp, MessageTypePing, MessageTypePong, MessageTypeError:
		return true
	}
	return false
}

// Envelope is the wire unit exchanged in both directions.
// Type determines the shape of Payload.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// NewCommentPayload is the payload of a new_comment envelope.
type NewCommentPayload struct {
	Comment Comment `json:"comment"`
}

// NewStampPayload is the payload of a new_stamp envelope.
type NewStampPayload struct {
	Stamp StampMessage `json:"stamp"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by error envelopes.
const (
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeValidationFailed = "validation_failed"
	ErrorCodeRateLimited      = "rate_limited"
	ErrorCodeInternal         = "internal_error"
)

var emptyPayload = json.RawMessage(`{}`)

// NewEnvelope wraps payload into an envelope stamped with now.
// A nil payload is encoded as an empty object.
func NewEnvelope(t MessageType, payload any, now time.Time) (*Envelope, error) {
	raw := emptyPayload
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		raw = data
	}
	return &Envelope{Type: t, Payload: raw, Timestamp: now.UnixMilli()}, nil
}

// NewErrorEnvelope builds an error envelope.
func NewErrorEnvelope(code, message string, now time.Time) *Envelope {
	env, _ := NewEnvelope(MessageTypeError, ErrorPayload{Code: code, Message: message}, now)
	return env
}

// ParseEnvelope decodes raw bytes into an envelope.
// The type is not checked against the known set; unknown types are the
// dispatcher's concern.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return &env, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("%w: missing %s payload", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.Payload == nil {
		e.Payload = emptyPayload
	}
	return json.Marshal(e)
}

package client

import (
	"github.com/comet-live/backend/internal/model"
)

// Re-export wire types from internal/model for external use
type (
	Envelope          = model.Envelope
	MessageType       = model.MessageType
	Comment           = model.Comment
	CommentStyle      = model.CommentStyle
	Stamp             = model.Stamp
	StampMessage      = model.StampMessage
	Position          = model.Position
	ErrorPayload      = model.ErrorPayload
	NewCommentPayload = model.NewCommentPayload
	NewStampPayload   = model.NewStampPayload
)

const (
	MessageTypeNewComment = model.MessageTypeNewComment
	MessageTypeNewStamp   = model.MessageTypeNewStamp
	MessageTypePing       = model.MessageTypePing
	MessageTypePong       = model.MessageTypePong
	MessageTypeError      = model.MessageTypeError
)

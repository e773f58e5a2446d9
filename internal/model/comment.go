package model

// CommentSize is the display size of a comment.
type CommentSize string

const (
	CommentSizeSmall  CommentSize = "small"
	CommentSizeMedium CommentSize = "medium"
	CommentSizeLarge  CommentSize = "large"
)

// CommentAnimation is the optional animation applied to a comment.
type CommentAnimation string

const (
	CommentAnimationNone   CommentAnimation = "none"
	CommentAnimationBlink  CommentAnimation = "blink"
	CommentAnimationBounce CommentAnimation = "bounce"
	CommentAnimationShake  CommentAnimation = "shake"
)

const (
	// MaxCommentLength is the maximum number of characters in a comment.
	MaxCommentLength = 100

	DefaultCommentColor = "#FFFFFF"
	DefaultCommentSize  = CommentSizeMedium
	DefaultCommentSpeed = 5.0
)

// CommentStyle describes how a comment is rendered by the overlay.
type CommentStyle struct {
	Color     string           `json:"color" validate:"required,hexcolor,len=7"`
	Size      CommentSize      `json:"size" validate:"required,oneof=small medium large"`
	Animation CommentAnimation `json:"animation,omitempty" validate:"omitempty,oneof=none blink bounce shake"`
	// Speed is the animation duration in seconds.
	Speed *float64 `json:"speed,omitempty" validate:"omitempty,gt=0"`
}

// WithDefaults fills unset style fields with the default style.
func (s CommentStyle) WithDefaults() CommentStyle {
	if s.Color == "" {
		s.Color = DefaultCommentColor
	}
	if s.Size == "" {
		s.Size = DefaultCommentSize
	}
	if s.Animation == "" {
		s.Animation = CommentAnimationNone
	}
	if s.Speed == nil {
		speed := DefaultCommentSpeed
		s.Speed = &speed
	}
	return s
}

// Comment is a free-text message broadcast to every connection in a room.
// Comments are value objects: they are not mutated after they are sent.
type Comment struct {
	ID        string       `json:"id"`
	Content   string       `json:"content" validate:"notblank,max=100"`
	Timestamp int64        `json:"timestamp"`
	UserID    string       `json:"userId,omitempty"`
	Style     CommentStyle `json:"style"`
}

package model

// StampCategory groups stamp definitions.
type StampCategory string

const (
	StampCategoryEmotion  StampCategory = "emotion"
	StampCategoryReaction StampCategory = "reaction"
	StampCategoryCustom   StampCategory = "custom"
)

// Stamp is a stamp definition resolved by the sender from the stamp catalog.
// The broadcast core carries it as-is and never checks it against the catalog.
type Stamp struct {
	ID       string        `json:"id" validate:"required"`
	Name     string        `json:"name" validate:"required"`
	ImageURL string        `json:"imageUrl,omitempty" validate:"omitempty,url"`
	Category StampCategory `json:"category" validate:"required,oneof=emotion reaction custom"`
}

// Position is where a stamp is placed on the overlay.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StampMessage is one stamp sent to a room.
type StampMessage struct {
	ID        string    `json:"id"`
	Stamp     Stamp     `json:"stamp"`
	Timestamp int64     `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	Position  *Position `json:"position,omitempty"`
}

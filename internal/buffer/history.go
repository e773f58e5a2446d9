// Package buffer provides the bounded comment history kept by a client session.
package buffer

import (
	"sync"

	"github.com/samber/lo"

	"github.com/comet-live/backend/internal/model"
)

// DefaultHistorySize is the number of comments kept when no size is given.
const DefaultHistorySize = 100

// History is a thread-safe, newest-first list of received comments.
//
// Comments are keyed by content: adding a comment whose text matches one
// already held replaces it and moves it to the front. When the history is
// full the oldest entry is evicted.
type History struct {
	items    []model.Comment
	capacity int
	mu       sync.RWMutex
}

// NewHistory creates a History holding at most capacity comments.
// A non-positive capacity defaults to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		items:    make([]model.Comment, 0, capacity),
		capacity: capacity,
	}
}

// Add records c as the most recent comment.
func (h *History) Add(c model.Comment) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rest := lo.Reject(h.items, func(existing model.Comment, _ int) bool {
		return existing.Content == c.Content
	})
	if len(rest) >= h.capacity {
		rest = rest[:h.capacity-1]
	}

	items := make([]model.Comment, 0, h.capacity)
	items = append(items, c)
	h.items = append(items, rest...)
}

// Items returns a copy of the history, newest first.
func (h *History) Items() []model.Comment {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.Comment, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of comments held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Cap returns the maximum number of comments held.
func (h *History) Cap() int {
	return h.capacity
}

// Clear removes every comment.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = make([]model.Comment, 0, h.capacity)
}

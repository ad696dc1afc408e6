package chat

import (
	"sync"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
)

// WindowSize is the number of most recent turns sent upstream with each query.
const WindowSize = 6

// History is an append-only turn log. The full log is kept for export; prompts only
// ever see Window.
type History struct {
	mu    sync.RWMutex
	turns []chat.Turn
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{turns: make([]chat.Turn, 0, 16)}
}

// Append adds a turn at the tail.
func (h *History) Append(turn chat.Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()
}

// Window returns a copy of the last WindowSize turns in append order.
func (h *History) Window() []chat.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if len(h.turns) > WindowSize {
		start = len(h.turns) - WindowSize
	}
	out := make([]chat.Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// Turns returns a copy of the whole log.
func (h *History) Turns() []chat.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]chat.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len reports the number of stored turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Reset swaps in an empty log.
func (h *History) Reset() {
	h.mu.Lock()
	h.turns = make([]chat.Turn, 0, 16)
	h.mu.Unlock()
}

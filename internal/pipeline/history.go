package pipeline

import (
	"sync"

	"github.com/sylvanops/cogate/pkg/backend"
)

// Turn is one completed exchange kept for prompt construction.
type Turn struct {
	User  string
	Reply string
	Model string
}

// History is a bounded FIFO of turns for one session id. Appending beyond
// the cap evicts the oldest turn. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	max   int
	turns []Turn
}

// NewHistory creates a History holding at most max turns.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 10
	}
	return &History{max: max}
}

// Append records a completed turn, evicting the oldest when full.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	if len(h.turns) > h.max {
		h.turns = h.turns[1:]
	}
}

// Len reports the number of retained turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Messages renders the history as alternating user/assistant messages for
// the next LLM prompt.
func (h *History) Messages() []backend.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]backend.Message, 0, len(h.turns)*2)
	for _, t := range h.turns {
		out = append(out,
			backend.Message{Role: "user", Content: t.User},
			backend.Message{Role: "assistant", Content: t.Reply},
		)
	}
	return out
}

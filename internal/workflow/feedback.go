package workflow

import (
	"sync"
	"time"
)

// feedbackBuffer is the per-subscriber queue depth. A slow subscriber
// loses the oldest events, never the newest.
const feedbackBuffer = 256

// StepFeedback is one live progress event of a running workflow.
type StepFeedback struct {
	StepID          string             `json:"step_id"`
	Label           string             `json:"label"`
	Status          StepStatus         `json:"status"`
	ProgressPercent float64            `json:"progress_percent"`
	CurrentAction   string             `json:"current_action,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// hub fans StepFeedback out to subscribers. Delivery is at-least-once per
// subscriber while subscribed; when a subscriber's buffer fills, the
// oldest buffered event is dropped to make room.
type hub struct {
	mu     sync.Mutex
	subs   map[chan StepFeedback]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan StepFeedback]struct{})}
}

// Subscribe returns a feedback channel and its cancel function. The
// channel closes on cancel or when the run finishes.
func (h *hub) Subscribe() (<-chan StepFeedback, func()) {
	ch := make(chan StepFeedback, feedbackBuffer)

	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers fb to every subscriber, dropping each full
// subscriber's oldest event first.
func (h *hub) Publish(fb StepFeedback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		for {
			select {
			case ch <- fb:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close ends the hub; all subscriber channels close.
func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

package llm

import (
	"sync"

	"github.com/sylvanops/cogate/pkg/backend"
)

// ModelGate tracks which model an adapter currently has warm and guards
// against a model switch blocking an in-flight call. Adapters embed one and
// bracket each call with [ModelGate.Acquire] / [ModelGate.Release].
//
// The rules: calls for the already-warm model always proceed; the first call
// for a different model proceeds and flips the warm model (the backend
// performs its own lazy load); further calls for yet another model while that
// switch is in flight are refused with KindBusy instead of queueing behind
// the load.
type ModelGate struct {
	mu        sync.Mutex
	warm      string
	switching bool
	inflight  int
}

// Acquire registers a call for model. It returns a KindBusy error when a
// switch to a different model is already in flight.
func (g *ModelGate) Acquire(backendID, model string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if model == "" || model == g.warm {
		g.inflight++
		return nil
	}
	if g.switching {
		return backend.Busy(backendID, "model switch to %q in progress", g.warm)
	}
	// First call for a new model: flip immediately, mark the switch until the
	// call completes so a third model cannot pile on.
	g.warm = model
	g.switching = true
	g.inflight++
	return nil
}

// Release marks a call finished. ok reports whether the call succeeded; a
// failed switch clears the warm model so the next caller retries the load.
func (g *ModelGate) Release(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inflight--
	if g.switching && g.inflight == 0 {
		if !ok {
			g.warm = ""
		}
		g.switching = false
	}
}

// Warm returns the model the gate currently considers loaded.
func (g *ModelGate) Warm() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warm
}

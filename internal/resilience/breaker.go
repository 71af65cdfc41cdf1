// Package resilience provides the per-backend health breaker used by the
// router.
//
// The central type is [Breaker], a classic three-state circuit breaker
// (closed → open → half-open). Unlike a wrap-style breaker it exposes
// explicit Allow/RecordSuccess/RecordFailure accounting, because the router
// interleaves the health decision with its own policy fallback logic and the
// call itself happens a layer below.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures. Calls are refused until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. One call
	// is allowed through; if it succeeds the breaker closes, otherwise it
	// re-opens for another full cooldown.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name is a human-readable label used in log messages, normally the
	// backend id.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe. Default: 30s.
	Cooldown time.Duration
}

// Breaker implements the three-state circuit breaker pattern with explicit
// accounting. It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probing         bool

	// now is a clock seam for tests.
	now func() time.Time
}

// New creates a [Breaker] with the supplied configuration. Zero-value config
// fields are replaced with defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		state:       StateClosed,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cooldown elapses, then admits exactly one probe call; a
// second caller during that probe is refused.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		slog.Info("breaker transitioning to half-open", "backend", b.name)
		return true

	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess marks the outcome of an admitted call as good. In half-open
// it closes the breaker; in closed it clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		slog.Info("breaker closed after successful probe", "backend", b.name)
	}
	b.consecutiveFail = 0
}

// RecordFailure marks the outcome of an admitted call as bad. A failed
// half-open probe re-opens for a full cooldown; in closed, reaching the
// failure threshold opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
		slog.Warn("breaker re-opened from half-open", "backend", b.name)
		return
	}

	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("breaker opened",
			"backend", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// Trip forces the breaker open immediately, starting a fresh cooldown. The
// router uses this for protocol-level failures that should mark a backend
// unhealthy without waiting for a failure streak.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.consecutiveFail = b.maxFailures
	slog.Warn("breaker tripped", "backend", b.name)
}

// State returns the current [State]. If the breaker is open and the cooldown
// has elapsed, StateHalfOpen is reported (the actual transition happens on
// the next Allow).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFail = 0
	b.probing = false
	slog.Info("breaker manually reset", "backend", b.name)
}

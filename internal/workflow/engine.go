package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sylvanops/cogate/internal/observe"
)

// defaultMaxFinished caps retained finished executions.
const defaultMaxFinished = 100

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxFinished overrides the finished-execution retention cap.
func WithMaxFinished(n int) EngineOption {
	return func(e *Engine) { e.maxFinished = n }
}

// WithMetrics attaches the observability instruments.
func WithMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// Engine starts workflow executions and keeps a registry for status
// queries. Finished executions stay queryable until the retention cap
// evicts the oldest.
type Engine struct {
	maxFinished int
	metrics     *observe.Metrics

	mu    sync.Mutex
	execs map[string]*Execution
}

// NewEngine creates an empty Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		maxFinished: defaultMaxFinished,
		execs:       make(map[string]*Execution),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start validates def and launches it asynchronously with the given input
// and initial parameters. The returned Execution is immediately
// registered and observable.
func (e *Engine) Start(ctx context.Context, def Definition, input string, params map[string]any) (*Execution, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	if params == nil {
		params = make(map[string]any)
	}

	runCtx, cancel := context.WithCancel(ctx)
	x := &Execution{
		id:      uuid.NewString(),
		def:     def,
		cancel:  cancel,
		done:    make(chan struct{}),
		hub:     newHub(),
		metrics: e.metrics,
		state: &State{
			Input:   input,
			Params:  params,
			Outputs: make(map[string]string),
		},
		status:    StatusRunning,
		startedAt: time.Now(),
	}

	e.mu.Lock()
	e.execs[x.id] = x
	e.mu.Unlock()

	slog.Info("workflow started", "execution", x.id, "workflow", def.Name, "steps", len(def.Steps))
	go func() {
		x.run(runCtx)
		cancel()
		e.evictFinished()
	}()
	return x, nil
}

// Execution returns the execution with id.
func (e *Engine) Execution(id string) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, ok := e.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}
	return x, nil
}

// List returns snapshots of all tracked executions, newest first.
func (e *Engine) List() []Snapshot {
	e.mu.Lock()
	out := make([]Snapshot, 0, len(e.execs))
	for _, x := range e.execs {
		out = append(out, x.Snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Close cancels every running execution and waits for them to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	var running []*Execution
	for _, x := range e.execs {
		if !x.Snapshot().Status.Terminal() {
			running = append(running, x)
		}
	}
	e.mu.Unlock()

	for _, x := range running {
		x.Cancel()
	}
	for _, x := range running {
		<-x.Done()
	}
}

// evictFinished drops the oldest finished executions beyond the cap.
func (e *Engine) evictFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var finished []*Execution
	for _, x := range e.execs {
		if snap := x.Snapshot(); snap.Status.Terminal() {
			finished = append(finished, x)
		}
	}
	if len(finished) <= e.maxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		a, b := finished[i].Snapshot().FinishedAt, finished[j].Snapshot().FinishedAt
		return a.Before(*b)
	})
	for _, x := range finished[:len(finished)-e.maxFinished] {
		delete(e.execs, x.id)
	}
}

// Package workflow executes multi-step plans with live steering. Callers
// can pause between steps, skip or retry named steps, merge new parameters
// into the running state, or redirect the remaining steps with a free-text
// direction. Every step emits feedback events that clients can subscribe
// to while the run is in flight.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// summaryLimit caps the per-step summary kept in the execution record.
const summaryLimit = 200

var (
	// ErrNoSteps means the definition has no steps.
	ErrNoSteps = errors.New("workflow: definition has no steps")

	// ErrDuplicateLabel means two steps share a label.
	ErrDuplicateLabel = errors.New("workflow: duplicate step label")

	// ErrStepFailed wraps the error of the step that ended the run.
	ErrStepFailed = errors.New("workflow: step failed")

	// ErrCancelled means the run was cancelled before completing.
	ErrCancelled = errors.New("workflow: cancelled")

	// ErrExecutionNotFound means no execution with that id is tracked.
	ErrExecutionNotFound = errors.New("workflow: execution not found")
)

// State is the mutable data a run threads through its steps. Steps read
// and write it only from the engine goroutine; external mutation goes
// through modifications applied between steps.
type State struct {
	// Input is the original request the workflow was started with.
	Input string

	// Params holds free-form parameters; modifications merge into it.
	Params map[string]any

	// Direction, when set, is a caller override steering later steps.
	Direction string

	// Outputs collects each completed step's output keyed by label.
	Outputs map[string]string
}

// Output returns the recorded output of an earlier step.
func (s *State) Output(label string) string { return s.Outputs[label] }

// Param returns a string parameter or def when absent.
func (s *State) Param(key, def string) string {
	if v, ok := s.Params[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// Reporter lets a running step publish fine-grained progress.
type Reporter interface {
	// Action describes what the step is doing right now.
	Action(action string)

	// Metric attaches a named measurement to the step's next feedback
	// event.
	Metric(name string, value float64)
}

// Step is one unit of a workflow definition.
type Step struct {
	// Label names the step; unique within a definition.
	Label string

	// Run does the work. The returned string becomes the step output.
	Run func(ctx context.Context, st *State, r Reporter) (string, error)

	// SkipWhen, when set and true for the current state, skips the step.
	SkipWhen func(st *State) bool

	// MaxAttempts bounds retries. Zero means one attempt.
	MaxAttempts int

	// Timeout bounds one attempt. Zero means no per-attempt limit.
	Timeout time.Duration
}

// Definition is an ordered plan of steps.
type Definition struct {
	Name  string
	Steps []Step
}

// validate checks structural requirements before any step runs.
func (d Definition) validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.Label == "" {
			return fmt.Errorf("%w: empty label", ErrDuplicateLabel)
		}
		if seen[s.Label] {
			return fmt.Errorf("%w: %q", ErrDuplicateLabel, s.Label)
		}
		seen[s.Label] = true
		if s.Run == nil {
			return fmt.Errorf("workflow: step %q has no run function", s.Label)
		}
	}
	return nil
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepRecord is the durable account of one step in a run.
type StepRecord struct {
	StepID   string        `json:"step_id"`
	Label    string        `json:"label"`
	Status   StepStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// summarize truncates s to the record summary limit on a rune boundary.
func summarize(s string) string {
	runes := []rune(s)
	if len(runes) <= summaryLimit {
		return s
	}
	return string(runes[:summaryLimit-1]) + "…"
}

// backoff returns the delay before retry attempt n (1-based).
func backoff(n int) time.Duration {
	d := 500 * time.Millisecond << (n - 1)
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}

// logStep is shared engine logging for step outcomes.
func logStep(execID, label string, status StepStatus, attempts int, err error) {
	if err != nil {
		slog.Warn("workflow step finished",
			"execution", execID, "step", label, "status", status,
			"attempts", attempts, "error", err)
		return
	}
	slog.Info("workflow step finished",
		"execution", execID, "step", label, "status", status, "attempts", attempts)
}

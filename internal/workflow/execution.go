package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sylvanops/cogate/internal/observe"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends an execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ModType classifies a live modification.
type ModType string

const (
	// ModParameters merges Parameters into the run state.
	ModParameters ModType = "parameters"

	// ModDirection sets a free-text override steering later steps.
	ModDirection ModType = "direction"

	// ModSkip marks the named step to be skipped when reached.
	ModSkip ModType = "skip"

	// ModRetry grants the named step one extra attempt.
	ModRetry ModType = "retry"
)

// Modification steers a running execution. It is queued and applied at
// the next step boundary.
type Modification struct {
	Type       ModType        `json:"type"`
	StepLabel  string         `json:"step_label,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Direction  string         `json:"direction,omitempty"`
}

// Snapshot is the externally visible state of an execution.
type Snapshot struct {
	ID               string       `json:"execution_id"`
	Workflow         string       `json:"workflow"`
	Status           Status       `json:"status"`
	IsPaused         bool         `json:"is_paused"`
	CurrentStep      string       `json:"current_step,omitempty"`
	CurrentStepIndex int          `json:"current_step_index"`
	ProgressPercent  float64      `json:"progress_percent"`
	Steps            []StepRecord `json:"steps"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       *time.Time   `json:"finished_at,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// Execution is one in-flight or finished workflow run.
type Execution struct {
	id  string
	def Definition

	cancel  context.CancelFunc
	done    chan struct{}
	hub     *hub
	metrics *observe.Metrics

	mu          sync.Mutex
	state       *State
	status      Status
	currentStep string
	stepIndex   int
	progress    float64
	records     []StepRecord
	mods        []Modification
	gateCh      chan struct{}
	startedAt   time.Time
	finishedAt  *time.Time
	runErr      error
}

// ID returns the execution id.
func (x *Execution) ID() string { return x.id }

// Done closes when the execution reaches a terminal status.
func (x *Execution) Done() <-chan struct{} { return x.done }

// Err returns the terminal error, nil while running or on success.
func (x *Execution) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.runErr
}

// Subscribe attaches a feedback listener.
func (x *Execution) Subscribe() (<-chan StepFeedback, func()) {
	return x.hub.Subscribe()
}

// Pause stops the run at the next step boundary. Pausing a finished run
// has no effect.
func (x *Execution) Pause() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status != StatusRunning {
		return
	}
	x.status = StatusPaused
	x.gateCh = make(chan struct{})
}

// Resume continues a paused run.
func (x *Execution) Resume() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status != StatusPaused {
		return
	}
	x.status = StatusRunning
	close(x.gateCh)
	x.gateCh = nil
}

// Cancel stops the run. Between steps the cancellation is observed at the
// next boundary; a running step sees its context cancelled.
func (x *Execution) Cancel() {
	x.mu.Lock()
	if x.status == StatusPaused && x.gateCh != nil {
		close(x.gateCh)
		x.gateCh = nil
	}
	x.mu.Unlock()
	x.cancel()
}

// Modify queues mod for the next step boundary.
func (x *Execution) Modify(mod Modification) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status.Terminal() {
		return
	}
	x.mods = append(x.mods, mod)
}

// Snapshot returns the current externally visible state.
func (x *Execution) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap := Snapshot{
		ID:               x.id,
		Workflow:         x.def.Name,
		Status:           x.status,
		IsPaused:         x.status == StatusPaused,
		CurrentStep:      x.currentStep,
		CurrentStepIndex: x.stepIndex,
		ProgressPercent:  x.progress,
		Steps:            append([]StepRecord(nil), x.records...),
		StartedAt:        x.startedAt,
		FinishedAt:       x.finishedAt,
	}
	if x.runErr != nil {
		snap.Error = x.runErr.Error()
	}
	return snap
}

// gate blocks while the execution is paused. It returns ctx.Err() when
// the run was cancelled while waiting.
func (x *Execution) gate(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		x.mu.Lock()
		if x.status != StatusPaused {
			x.mu.Unlock()
			return nil
		}
		ch := x.gateCh
		x.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyMods drains the modification queue into the run state and the
// per-step skip and retry tables.
func (x *Execution) applyMods(skip map[string]bool, retryBoost map[string]int) {
	x.mu.Lock()
	mods := x.mods
	x.mods = nil
	state := x.state
	x.mu.Unlock()

	for _, mod := range mods {
		switch mod.Type {
		case ModParameters:
			for k, v := range mod.Parameters {
				state.Params[k] = v
			}
		case ModDirection:
			state.Direction = mod.Direction
		case ModSkip:
			skip[mod.StepLabel] = true
		case ModRetry:
			retryBoost[mod.StepLabel]++
		}
	}
}

// reporter implements Reporter for one step, publishing action updates
// and accumulating metrics for the step's feedback events.
type reporter struct {
	exec     *Execution
	stepID   string
	label    string
	progress float64

	mu      sync.Mutex
	action  string
	metrics map[string]float64
}

var _ Reporter = (*reporter)(nil)

func (r *reporter) Action(action string) {
	r.mu.Lock()
	r.action = action
	r.mu.Unlock()
	r.exec.publish(r.stepID, r.label, StepRunning, r.progress)
}

func (r *reporter) Metric(name string, value float64) {
	r.mu.Lock()
	if r.metrics == nil {
		r.metrics = make(map[string]float64)
	}
	r.metrics[name] = value
	r.mu.Unlock()
}

func (r *reporter) snapshot() (string, map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var metrics map[string]float64
	if len(r.metrics) > 0 {
		metrics = make(map[string]float64, len(r.metrics))
		for k, v := range r.metrics {
			metrics[k] = v
		}
	}
	return r.action, metrics
}

// publish emits a feedback event reflecting the reporter's latest action
// and metrics.
func (x *Execution) publish(stepID, label string, status StepStatus, progress float64) {
	x.publishWith(stepID, label, status, progress, "", nil)
}

func (x *Execution) publishWith(stepID, label string, status StepStatus, progress float64, action string, metrics map[string]float64) {
	x.hub.Publish(StepFeedback{
		StepID:          stepID,
		Label:           label,
		Status:          status,
		ProgressPercent: progress,
		CurrentAction:   action,
		Metrics:         metrics,
		Timestamp:       time.Now(),
	})
}

// run drives the execution to a terminal status.
func (x *Execution) run(ctx context.Context) {
	defer close(x.done)
	defer x.hub.Close()

	x.metrics.AddActiveWorkflows(ctx, 1)
	defer x.metrics.AddActiveWorkflows(context.Background(), -1)

	total := len(x.def.Steps)
	skip := make(map[string]bool)
	retryBoost := make(map[string]int)

	for i, step := range x.def.Steps {
		startProgress := float64(i) / float64(total) * 100
		endProgress := float64(i+1) / float64(total) * 100

		// The step pointer must advance before the pause gate so a run
		// paused between steps reports the step it will execute next.
		x.mu.Lock()
		x.currentStep = step.Label
		x.stepIndex = i
		x.progress = startProgress
		x.mu.Unlock()

		if err := x.gate(ctx); err != nil {
			x.finish(StatusCancelled, ErrCancelled)
			return
		}
		x.applyMods(skip, retryBoost)

		stepID := fmt.Sprintf("%s-%02d", x.id[:8], i+1)

		x.mu.Lock()
		state := x.state
		x.mu.Unlock()
		if skip[step.Label] || (step.SkipWhen != nil && step.SkipWhen(state)) {
			x.appendRecord(StepRecord{
				StepID: stepID,
				Label:  step.Label,
				Status: StepSkipped,
			}, endProgress)
			x.publish(stepID, step.Label, StepSkipped, endProgress)
			x.metrics.RecordWorkflowStep(ctx, x.def.Name, step.Label, string(StepSkipped), 0)
			logStep(x.id, step.Label, StepSkipped, 0, nil)
			continue
		}

		rep := &reporter{exec: x, stepID: stepID, label: step.Label, progress: startProgress}
		x.publish(stepID, step.Label, StepRunning, startProgress)

		maxAttempts := step.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		maxAttempts += retryBoost[step.Label]

		stepStart := time.Now()
		var out string
		var err error
		attempts := 0
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			attempts = attempt
			attemptCtx := ctx
			var cancel context.CancelFunc
			if step.Timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, step.Timeout)
			}
			out, err = step.Run(attemptCtx, state, rep)
			if cancel != nil {
				cancel()
			}
			if err == nil || ctx.Err() != nil {
				break
			}
			if attempt < maxAttempts {
				select {
				case <-time.After(backoff(attempt)):
				case <-ctx.Done():
				}
			}
		}
		elapsed := time.Since(stepStart)

		if ctx.Err() != nil {
			x.finish(StatusCancelled, ErrCancelled)
			return
		}
		action, metrics := rep.snapshot()
		if err != nil {
			x.appendRecord(StepRecord{
				StepID:   stepID,
				Label:    step.Label,
				Status:   StepFailed,
				Attempts: attempts,
				Error:    err.Error(),
				Duration: elapsed,
			}, startProgress)
			x.publishWith(stepID, step.Label, StepFailed, startProgress, action, metrics)
			x.metrics.RecordWorkflowStep(ctx, x.def.Name, step.Label, string(StepFailed), elapsed)
			logStep(x.id, step.Label, StepFailed, attempts, err)
			x.finish(StatusFailed, fmt.Errorf("%w: %s: %w", ErrStepFailed, step.Label, err))
			return
		}

		state.Outputs[step.Label] = out
		x.appendRecord(StepRecord{
			StepID:   stepID,
			Label:    step.Label,
			Status:   StepCompleted,
			Attempts: attempts,
			Summary:  summarize(out),
			Duration: elapsed,
		}, endProgress)
		x.publishWith(stepID, step.Label, StepCompleted, endProgress, action, metrics)
		x.metrics.RecordWorkflowStep(ctx, x.def.Name, step.Label, string(StepCompleted), elapsed)
		logStep(x.id, step.Label, StepCompleted, attempts, nil)
	}

	x.finish(StatusCompleted, nil)
}

func (x *Execution) appendRecord(rec StepRecord, progress float64) {
	x.mu.Lock()
	x.records = append(x.records, rec)
	x.progress = progress
	x.mu.Unlock()
}

func (x *Execution) finish(status Status, err error) {
	x.mu.Lock()
	if !x.status.Terminal() {
		x.status = status
		x.runErr = err
		x.currentStep = ""
		now := time.Now()
		x.finishedAt = &now
		if status == StatusCompleted {
			x.progress = 100
		}
	}
	x.mu.Unlock()
}

// Result returns the final state once the execution is done.
func (x *Execution) Result() *State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

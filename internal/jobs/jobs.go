// Package jobs tracks long-running background work: model downloads, voice
// downloads and voice training. Jobs are identified by id, deduplicated by
// (kind, name) while active, and kept after completion for status queries
// until the terminal retention cap evicts them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sylvanops/cogate/internal/observe"
)

// Kind classifies a job.
type Kind string

const (
	KindDownloadModel Kind = "download_model"
	KindDownloadVoice Kind = "download_voice"
	KindTrainVoice    Kind = "train_voice"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Terminal reports whether s ends a job.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusFailed || s == StatusCompleted
}

var (
	// ErrJobExists means an active job with the same kind and name is
	// already tracked.
	ErrJobExists = errors.New("jobs: job already exists")

	// ErrJobNotFound means no job with that id is tracked.
	ErrJobNotFound = errors.New("jobs: job not found")

	// ErrCancelRefused means a cancel request lacked confirmation.
	ErrCancelRefused = errors.New("jobs: cancel requires confirmation")
)

// Job is the externally visible state of one background task.
type Job struct {
	ID              string     `json:"job_id"`
	Kind            Kind       `json:"kind"`
	Name            string     `json:"name"`
	Status          Status     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	LastUpdate      time.Time  `json:"last_update"`
}

// Runner is the body of a job. It reports progress through h and must
// return promptly once ctx is cancelled.
type Runner func(ctx context.Context, h *Handle) error

// progressThrottle is the minimum interval between applied progress updates.
const progressThrottle = 2 * time.Second

// defaultMaxTerminal caps retained finished jobs.
const defaultMaxTerminal = 200

// tracked pairs a Job with its control handles.
type tracked struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}

	lastProgressAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxTerminal overrides the finished-job retention cap.
func WithMaxTerminal(n int) Option {
	return func(m *Manager) { m.maxTerminal = n }
}

// WithMetrics attaches the observability instruments.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager runs and tracks background jobs.
type Manager struct {
	maxTerminal int
	now         func() time.Time
	metrics     *observe.Metrics

	mu   sync.Mutex
	jobs map[string]*tracked
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		maxTerminal: defaultMaxTerminal,
		now:         time.Now,
		jobs:        make(map[string]*tracked),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit starts run as a new job. An active job with the same kind and name
// makes Submit fail with ErrJobExists.
func (m *Manager) Submit(kind Kind, name string, run Runner) (Job, error) {
	m.mu.Lock()
	for _, t := range m.jobs {
		if t.job.Kind == kind && t.job.Name == name && !t.job.Status.Terminal() {
			m.mu.Unlock()
			return Job{}, fmt.Errorf("%w: %s %q (job %s)", ErrJobExists, kind, name, t.job.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := m.now()
	t := &tracked{
		job: Job{
			ID:         uuid.NewString(),
			Kind:       kind,
			Name:       name,
			Status:     StatusQueued,
			StartedAt:  now,
			LastUpdate: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[t.job.ID] = t
	job := t.job
	m.mu.Unlock()

	m.metrics.RecordJobTransition(context.Background(), string(kind), string(StatusQueued))
	slog.Info("job submitted", "job", job.ID, "kind", kind, "name", name)
	go m.execute(ctx, t, run)
	return job, nil
}

// execute drives one job to a terminal state.
func (m *Manager) execute(ctx context.Context, t *tracked, run Runner) {
	defer close(t.done)

	m.transition(t, StatusRunning, nil)
	err := run(ctx, &Handle{manager: m, tracked: t})

	m.mu.Lock()
	cancelled := t.job.CancelRequested || ctx.Err() != nil
	m.mu.Unlock()

	switch {
	case cancelled:
		m.transition(t, StatusCancelled, err)
	case err != nil:
		m.transition(t, StatusFailed, err)
	default:
		m.mu.Lock()
		t.job.ProgressPercent = 100
		m.mu.Unlock()
		m.transition(t, StatusCompleted, nil)
	}
	m.evictTerminal()
}

// transition applies a status change and stamps completion for terminal
// states.
func (m *Manager) transition(t *tracked, next Status, err error) {
	m.mu.Lock()
	if t.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.job.Status = next
	t.job.LastUpdate = m.now()
	if next.Terminal() {
		done := m.now()
		t.job.CompletedAt = &done
		if err != nil && next != StatusCancelled {
			t.job.Error = err.Error()
		}
	}
	job := t.job
	m.mu.Unlock()

	m.metrics.RecordJobTransition(context.Background(), string(job.Kind), string(next))
	slog.Info("job transition", "job", job.ID, "kind", job.Kind, "status", next, "error", job.Error)
}

// evictTerminal drops the oldest finished jobs beyond the retention cap.
func (m *Manager) evictTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*tracked
	for _, t := range m.jobs {
		if t.job.Status.Terminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) <= m.maxTerminal {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].job.CompletedAt.Before(*finished[j].job.CompletedAt)
	})
	for _, t := range finished[:len(finished)-m.maxTerminal] {
		delete(m.jobs, t.job.ID)
	}
}

// Status returns the job with id.
func (m *Manager) Status(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return t.job, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

// List returns tracked jobs newest first.
func (m *Manager) List(f Filter) []Job {
	m.mu.Lock()
	var out []Job
	for _, t := range m.jobs {
		if f.Kind != "" && t.job.Kind != f.Kind {
			continue
		}
		if f.Status != "" && t.job.Status != f.Status {
			continue
		}
		out = append(out, t.job)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Cancel requests cancellation of the job with id. Without confirm the
// request is refused so a stray API call cannot kill a long download.
// Cancelling an already finished job is acknowledged without effect.
func (m *Manager) Cancel(id string, confirm bool) (Job, error) {
	if !confirm {
		return Job{}, ErrCancelRefused
	}

	m.mu.Lock()
	t, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if t.job.Status.Terminal() {
		job := t.job
		m.mu.Unlock()
		return job, nil
	}
	t.job.CancelRequested = true
	t.job.LastUpdate = m.now()
	job := t.job
	m.mu.Unlock()

	t.cancel()
	slog.Info("job cancel requested", "job", id)
	return job, nil
}

// CancelAll cancels every active job, optionally restricted to kind, and
// returns the ids that were signalled.
func (m *Manager) CancelAll(kind Kind, confirm bool) ([]string, error) {
	if !confirm {
		return nil, ErrCancelRefused
	}

	m.mu.Lock()
	var targets []*tracked
	for _, t := range m.jobs {
		if t.job.Status.Terminal() {
			continue
		}
		if kind != "" && t.job.Kind != kind {
			continue
		}
		t.job.CancelRequested = true
		t.job.LastUpdate = m.now()
		targets = append(targets, t)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		t.cancel()
		ids = append(ids, t.job.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup drops all finished jobs and returns how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.jobs {
		if t.job.Status.Terminal() {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// Wait blocks until the job with id reaches a terminal state.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	t, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-t.done:
		return m.Status(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close cancels every active job and waits for all of them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	var running []*tracked
	for _, t := range m.jobs {
		if !t.job.Status.Terminal() {
			t.job.CancelRequested = true
			running = append(running, t)
		}
	}
	m.mu.Unlock()

	for _, t := range running {
		t.cancel()
	}
	for _, t := range running {
		<-t.done
	}
}

// Handle is the worker-side view of a job: progress reporting and a
// cancellation probe.
type Handle struct {
	manager *Manager
	tracked *tracked
}

// Update reports progress in percent. Updates are monotonic (a lower value
// is ignored) and throttled to one applied update per two seconds, except
// that reaching 100 always applies.
func (h *Handle) Update(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	m := h.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	t := h.tracked
	if pct <= t.job.ProgressPercent {
		return
	}
	now := m.now()
	if pct < 100 && now.Sub(t.lastProgressAt) < progressThrottle {
		return
	}
	t.job.ProgressPercent = pct
	t.job.LastUpdate = now
	t.lastProgressAt = now
}

// Cancelled reports whether cancellation was requested. Workers with
// natural checkpoints (between chunks, between stages) should poll it.
func (h *Handle) Cancelled() bool {
	m := h.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.tracked.job.CancelRequested
}

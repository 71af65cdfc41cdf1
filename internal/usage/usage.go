// Package usage records every backend call the router makes.
//
// Records flow through a single [Recorder]: each one is appended to a
// daily-rotated newline log on disk and folded into in-memory aggregates
// (per-model latency stats for text generation, per-backend success rate and
// latency percentiles). The status endpoint reads the aggregates; the log
// files are for offline analysis.
package usage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
)

const (
	// rollingWindow is the number of recent calls that feed a model's
	// rolling average.
	rollingWindow = 20

	// backendWindow bounds the per-backend sample window for success rate
	// and percentiles.
	backendWindow = 256
)

// Outcome labels how a call ended. OutcomeOK marks success; failures carry
// the backend error kind verbatim.
const OutcomeOK = "ok"

// CallRecord is one backend call as seen by the router.
type CallRecord struct {
	// Time is when the call completed.
	Time time.Time

	// Capability is the routed capability.
	Capability backend.Capability

	// Backend is the id of the backend that served (or failed) the call.
	Backend string

	// Model is the requested model id, when the capability is model-keyed.
	Model string

	// Duration is the wall time of the call.
	Duration time.Duration

	// Outcome is OutcomeOK or the backend error kind.
	Outcome string

	// BytesIn and BytesOut are payload sizes where meaningful (audio
	// calls); zero otherwise.
	BytesIn  int
	BytesOut int
}

// ModelStats aggregates text-generation latency per requested model.
type ModelStats struct {
	Model      string        `json:"model"`
	Count      int           `json:"count"`
	Total      time.Duration `json:"total"`
	Avg        time.Duration `json:"avg"`
	Last       time.Duration `json:"last"`
	RollingAvg time.Duration `json:"rolling_avg"`
}

// BackendStats aggregates recent outcomes per backend.
type BackendStats struct {
	Backend     string        `json:"backend"`
	Calls       int           `json:"calls"`
	SuccessRate float64       `json:"success_rate"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
}

// modelAccum is the mutable aggregate behind one ModelStats.
type modelAccum struct {
	count  int
	total  time.Duration
	last   time.Duration
	recent []time.Duration // bounded to rollingWindow
}

// backendAccum is the bounded sample window behind one BackendStats.
type backendAccum struct {
	samples []sample // bounded to backendWindow, oldest first
}

type sample struct {
	duration time.Duration
	ok       bool
}

// Recorder is the single sink for call records. It is safe for concurrent
// use.
type Recorder struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	fileDay  string // UTC day the open file belongs to, "2006-01-02"
	models   map[string]*modelAccum
	backends map[string]*backendAccum

	// now is a clock seam for rotation tests.
	now func() time.Time
}

// NewRecorder creates a Recorder writing daily log files named
// usage-<day>.log under dir. The directory is created if missing.
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("usage: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("usage: create log dir: %w", err)
	}
	return &Recorder{
		dir:      dir,
		models:   make(map[string]*modelAccum),
		backends: make(map[string]*backendAccum),
		now:      time.Now,
	}, nil
}

// Record appends rec to the daily log and folds it into the aggregates.
// Disk errors are logged, not returned: a full disk must not fail the call
// that was just served.
func (r *Recorder) Record(rec CallRecord) {
	if rec.Time.IsZero() {
		rec.Time = r.now()
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeOK
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendLine(rec)
	r.foldBackend(rec)
	if rec.Capability == backend.CapGenerateText && rec.Model != "" && rec.Outcome == OutcomeOK {
		r.foldModel(rec)
	}
}

// appendLine writes the record's log line, rotating to a new file when the
// UTC day changes. Must be called with r.mu held.
func (r *Recorder) appendLine(rec CallRecord) {
	day := rec.Time.UTC().Format("2006-01-02")
	if r.file == nil || day != r.fileDay {
		if r.file != nil {
			r.file.Close()
		}
		path := filepath.Join(r.dir, "usage-"+day+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("usage: open log file", "path", path, "error", err)
			r.file = nil
			return
		}
		r.file = f
		r.fileDay = day
	}

	line := fmt.Sprintf("%s %s %s %d %s %d %d\n",
		rec.Time.UTC().Format(time.RFC3339),
		rec.Capability,
		rec.Backend,
		rec.Duration.Milliseconds(),
		rec.Outcome,
		rec.BytesIn,
		rec.BytesOut,
	)
	if _, err := r.file.WriteString(line); err != nil {
		slog.Error("usage: write log line", "error", err)
	}
}

// foldModel updates the per-model aggregate. Must be called with r.mu held.
func (r *Recorder) foldModel(rec CallRecord) {
	m := r.models[rec.Model]
	if m == nil {
		m = &modelAccum{}
		r.models[rec.Model] = m
	}
	m.count++
	m.total += rec.Duration
	m.last = rec.Duration
	m.recent = append(m.recent, rec.Duration)
	if len(m.recent) > rollingWindow {
		m.recent = m.recent[1:]
	}
}

// foldBackend updates the per-backend window. Must be called with r.mu held.
func (r *Recorder) foldBackend(rec CallRecord) {
	b := r.backends[rec.Backend]
	if b == nil {
		b = &backendAccum{}
		r.backends[rec.Backend] = b
	}
	b.samples = append(b.samples, sample{duration: rec.Duration, ok: rec.Outcome == OutcomeOK})
	if len(b.samples) > backendWindow {
		b.samples = b.samples[1:]
	}
}

// ModelStats returns a snapshot of all model aggregates, sorted by model id.
func (r *Recorder) ModelStats() []ModelStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ModelStats, 0, len(r.models))
	for model, m := range r.models {
		out = append(out, modelStatsOf(model, m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// FastestModel returns the model id with the lowest rolling average latency,
// or "" when no text-generation calls have been recorded.
func (r *Recorder) FastestModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := ""
	var bestAvg time.Duration
	for model, m := range r.models {
		s := modelStatsOf(model, m)
		if best == "" || s.RollingAvg < bestAvg {
			best = model
			bestAvg = s.RollingAvg
		}
	}
	return best
}

// BackendStats returns a snapshot of all backend windows, sorted by backend
// id.
func (r *Recorder) BackendStats() []BackendStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BackendStats, 0, len(r.backends))
	for id, b := range r.backends {
		stats := BackendStats{Backend: id, Calls: len(b.samples)}
		if len(b.samples) > 0 {
			durations := make([]time.Duration, 0, len(b.samples))
			okCount := 0
			for _, s := range b.samples {
				durations = append(durations, s.duration)
				if s.ok {
					okCount++
				}
			}
			stats.SuccessRate = float64(okCount) / float64(len(b.samples))
			sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
			stats.P50 = percentile(durations, 50)
			stats.P95 = percentile(durations, 95)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// Close flushes and closes the open log file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func modelStatsOf(model string, m *modelAccum) ModelStats {
	s := ModelStats{
		Model: model,
		Count: m.count,
		Total: m.total,
		Last:  m.last,
	}
	if m.count > 0 {
		s.Avg = m.total / time.Duration(m.count)
	}
	if len(m.recent) > 0 {
		var sum time.Duration
		for _, d := range m.recent {
			sum += d
		}
		s.RollingAvg = sum / time.Duration(len(m.recent))
	}
	return s
}

// percentile returns the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

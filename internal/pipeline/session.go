package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Stage is the pipeline position of a session.
type Stage string

const (
	StageReceiving Stage = "receiving"
	StageSTT       Stage = "stt"
	StageLLM       Stage = "llm"
	StageTTS       Stage = "tts"
	StagePlaying   Stage = "playing"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
	StageCancelled Stage = "cancelled"
)

// stageOrder enforces monotonic forward progress through the happy path.
// Terminal stages are reachable from anywhere.
var stageOrder = map[Stage]int{
	StageReceiving: 0,
	StageSTT:       1,
	StageLLM:       2,
	StageTTS:       3,
	StagePlaying:   4,
	StageDone:      5,
}

// terminal reports whether s ends a session.
func terminal(s Stage) bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// StageRecord captures one completed stage for the session snapshot.
type StageRecord struct {
	Stage    Stage         `json:"stage"`
	Backend  string        `json:"backend,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Session is one conversational pipeline run. It is created by the Manager
// and mutated only by the goroutine running the pipeline; everyone else
// reads through Snapshot.
type Session struct {
	mu sync.Mutex

	id             string
	startedAt      time.Time
	stage          Stage
	stageStartedAt time.Time
	transcript     string
	reply          string
	records        []StageRecord
	cancelled      bool
	err            error
}

// Snapshot is the read-only view of a session.
type Snapshot struct {
	ID         string        `json:"session_id"`
	StartedAt  time.Time     `json:"started_at"`
	Stage      Stage         `json:"stage"`
	Transcript string        `json:"transcript,omitempty"`
	Reply      string        `json:"reply,omitempty"`
	Stages     []StageRecord `json:"stages"`
	Error      string        `json:"error,omitempty"`
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		id:             id,
		startedAt:      now,
		stage:          StageReceiving,
		stageStartedAt: now,
	}
}

// advance moves the session to next, closing out the current stage with a
// record. Backward transitions on the happy path are programming errors and
// panic; terminal stages are always reachable.
func (s *Session) advance(next Stage, backendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if terminal(s.stage) {
		return
	}
	if !terminal(next) {
		cur, curOK := stageOrder[s.stage]
		nxt, nxtOK := stageOrder[next]
		if !curOK || !nxtOK || nxt <= cur {
			panic(fmt.Sprintf("pipeline: backward stage transition %s -> %s", s.stage, next))
		}
	}

	now := time.Now()
	s.records = append(s.records, StageRecord{
		Stage:    s.stage,
		Backend:  backendID,
		Duration: now.Sub(s.stageStartedAt),
	})
	s.stage = next
	s.stageStartedAt = now
}

// fail ends the session at failed with err.
func (s *Session) fail(err error, backendID string) {
	s.mu.Lock()
	alreadyTerminal := terminal(s.stage)
	s.mu.Unlock()
	if alreadyTerminal {
		return
	}
	s.advance(StageFailed, backendID)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// markCancelled flags the session; the owning goroutine completes the
// transition at its next checkpoint.
func (s *Session) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// isCancelled is the cooperative checkpoint read.
func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Session) setTranscript(t string) {
	s.mu.Lock()
	s.transcript = t
	s.mu.Unlock()
}

func (s *Session) setReply(r string) {
	s.mu.Lock()
	s.reply = r
	s.mu.Unlock()
}

// Snapshot returns the current read-only view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		StartedAt:  s.startedAt,
		Stage:      s.stage,
		Transcript: s.transcript,
		Reply:      s.reply,
		Stages:     append([]StageRecord(nil), s.records...),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

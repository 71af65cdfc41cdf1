// Package pipeline runs the conversational STT→LLM→TTS cascade.
//
// Each request becomes a [Session] owned by the goroutine executing
// [Manager.Run]; everyone else observes it through snapshots. Sessions move
// monotonically through their stages, check for cancellation between
// stages, and can be interrupted mid-playback — a user speaking again is
// never made to wait for previous speech to finish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sylvanops/cogate/internal/observe"
	"github.com/sylvanops/cogate/internal/playback"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/llm"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/backend/tts"
)

// emptyTranscriptThreshold is the maximum trimmed transcript length still
// considered silence.
const emptyTranscriptThreshold = 2

var (
	// ErrInputEmpty means STT produced no usable text.
	ErrInputEmpty = errors.New("pipeline: transcript is empty")

	// ErrSessionActive means the session id is already running a pipeline
	// that is not interruptible (not yet playing).
	ErrSessionActive = errors.New("pipeline: session is already active")

	// ErrSessionNotFound means no session with that id is active.
	ErrSessionNotFound = errors.New("pipeline: session not found")

	// ErrCancelled means the session observed its cancellation flag.
	ErrCancelled = errors.New("pipeline: session cancelled")

	// ErrNoInput means the request carried neither audio nor text.
	ErrNoInput = errors.New("pipeline: request has neither audio nor text")
)

// Request is one conversational exchange.
type Request struct {
	// SessionID groups exchanges into a conversation. Empty means a fresh
	// one-off session.
	SessionID string

	// Audio is an optional WAV utterance; when present the pipeline starts
	// at the STT stage.
	Audio []byte

	// Text is the typed alternative to Audio.
	Text string

	// Model optionally pins the text-generation model.
	Model string

	// Voice optionally selects the synthesis voice.
	Voice string

	// SystemPrompt overrides the manager's default system prompt.
	SystemPrompt string

	// WantAudio requests speech synthesis of the reply.
	WantAudio bool

	// Play requests on-device playback of the synthesized reply.
	Play bool
}

// Result is the outcome of a completed pipeline run.
type Result struct {
	Snapshot

	// Audio is the synthesized reply, when requested.
	Audio []byte

	// Duration is the total pipeline wall time.
	Duration time.Duration
}

// active pairs a running session with its cancel handle.
type active struct {
	session *Session
	cancel  context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithSystemPrompt sets the default system prompt for LLM calls.
func WithSystemPrompt(p string) Option {
	return func(m *Manager) { m.systemPrompt = p }
}

// WithHistoryLimit caps per-session history length. Default 10 turns.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.historyMax = n }
}

// WithPlayer enables on-device playback.
func WithPlayer(p *playback.Player) Option {
	return func(m *Manager) { m.player = p }
}

// WithMetrics attaches the observability instruments.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager owns the active-session registry and conversation histories.
type Manager struct {
	router  *router.Router
	player  *playback.Player
	metrics *observe.Metrics

	systemPrompt string
	historyMax   int

	mu        sync.Mutex
	sessions  map[string]*active
	histories map[string]*History
}

// SetSystemPrompt replaces the default system prompt for subsequent runs.
// Used by config hot reload.
func (m *Manager) SetSystemPrompt(p string) {
	m.mu.Lock()
	m.systemPrompt = p
	m.mu.Unlock()
}

func (m *Manager) defaultSystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt
}

// NewManager creates a Manager routing through r.
func NewManager(r *router.Router, opts ...Option) *Manager {
	m := &Manager{
		router:     r,
		historyMax: 10,
		sessions:   make(map[string]*active),
		histories:  make(map[string]*History),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run executes the pipeline for req and blocks until it finishes. A request
// reusing an active session id interrupts that session if it is playing,
// and is rejected otherwise.
func (m *Manager) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 && strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrNoInput
	}
	oneOff := req.SessionID == ""
	if oneOff {
		req.SessionID = uuid.NewString()
	}

	s, runCtx, cancel, err := m.admit(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	defer cancel()
	defer m.release(req.SessionID, s, oneOff)

	m.metrics.AddActiveSessions(ctx, 1)
	defer m.metrics.AddActiveSessions(ctx, -1)

	start := time.Now()
	res, err := m.run(runCtx, s, req)
	res.Snapshot = s.Snapshot()
	res.Duration = time.Since(start)
	m.metrics.RecordPipeline(ctx, res.Duration)
	if err != nil && !errors.Is(err, ErrCancelled) {
		m.cueFailure(req)
	}
	return res, err
}

// admit registers a new session under id, interrupting a playing
// predecessor.
func (m *Manager) admit(ctx context.Context, id string) (*Session, context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok {
		if cur.session.Snapshot().Stage != StagePlaying {
			m.mu.Unlock()
			return nil, nil, nil, fmt.Errorf("%w: %s", ErrSessionActive, id)
		}
		// A second utterance interrupts playback and takes over the id.
		cur.session.markCancelled()
		cur.cancel()
		if m.player != nil {
			m.player.Stop()
		}
	}
	s := newSession(id)
	runCtx, cancel := context.WithCancel(ctx)
	m.sessions[id] = &active{session: s, cancel: cancel}
	m.mu.Unlock()
	return s, runCtx, cancel, nil
}

// release removes the registry entry for id, but only while it still points
// at s. An interrupted run must not unregister its successor. One-off
// sessions also drop their history; nothing can ever address it again.
func (m *Manager) release(id string, s *Session, dropHistory bool) {
	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok && cur.session == s {
		delete(m.sessions, id)
	}
	if dropHistory {
		delete(m.histories, id)
	}
	m.mu.Unlock()
}

// cueFailure queues the error chime on spoken exchanges so the user hears
// that no reply is coming.
func (m *Manager) cueFailure(req Request) {
	if req.Play && m.player != nil {
		_ = m.player.QueueTone(errorChime)
	}
}

// run drives the stages. It is the session's sole mutator.
func (m *Manager) run(ctx context.Context, s *Session, req Request) (Result, error) {
	var res Result

	// Stage: stt (or direct text input).
	userText := strings.TrimSpace(req.Text)
	if len(req.Audio) > 0 {
		s.advance(StageSTT, "")
		sttStart := time.Now()
		transcript, sttBackend, err := m.router.Transcribe(ctx, stt.Request{Audio: req.Audio})
		m.metrics.RecordStage(ctx, string(StageSTT), time.Since(sttStart))
		if err != nil {
			s.fail(err, sttBackend)
			return res, err
		}
		userText = strings.TrimSpace(transcript)
		if len(userText) <= emptyTranscriptThreshold {
			s.fail(ErrInputEmpty, sttBackend)
			return res, ErrInputEmpty
		}
		s.setTranscript(userText)
		s.advance(StageLLM, sttBackend)
	} else {
		s.setTranscript(userText)
		s.advance(StageLLM, "")
	}
	if err := m.checkpoint(ctx, s); err != nil {
		return res, err
	}

	// Stage: llm.
	sysPrompt := req.SystemPrompt
	if sysPrompt == "" {
		sysPrompt = m.defaultSystemPrompt()
	}
	messages := append(m.history(req.SessionID).Messages(),
		backend.Message{Role: "user", Content: userText})
	llmStart := time.Now()
	reply, llmBackend, err := m.router.GenerateText(ctx, llm.Request{
		Messages: messages,
		System:   sysPrompt,
		Model:    req.Model,
	})
	m.metrics.RecordStage(ctx, string(StageLLM), time.Since(llmStart))
	if err != nil {
		s.fail(err, llmBackend)
		return res, err
	}
	s.setReply(reply)
	m.history(req.SessionID).Append(Turn{User: userText, Reply: reply, Model: req.Model})

	if !req.WantAudio {
		s.advance(StageDone, llmBackend)
		return res, nil
	}
	s.advance(StageTTS, llmBackend)
	if err := m.checkpoint(ctx, s); err != nil {
		return res, err
	}

	// Stage: tts.
	ttsStart := time.Now()
	audio, ttsBackend, err := m.router.Synthesize(ctx, tts.Request{
		Text:  Sanitize(reply),
		Voice: req.Voice,
	})
	m.metrics.RecordStage(ctx, string(StageTTS), time.Since(ttsStart))
	if err != nil {
		s.fail(err, ttsBackend)
		return res, err
	}
	res.Audio = audio

	if !req.Play || m.player == nil {
		s.advance(StageDone, ttsBackend)
		return res, nil
	}
	s.advance(StagePlaying, ttsBackend)
	if err := m.checkpoint(ctx, s); err != nil {
		return res, err
	}

	// Stage: playing.
	playStart := time.Now()
	err = m.player.Play(ctx, audio)
	m.metrics.RecordStage(ctx, string(StagePlaying), time.Since(playStart))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.advance(StageCancelled, "")
			return res, ErrCancelled
		}
		s.fail(err, "")
		return res, err
	}
	s.advance(StageDone, "")
	return res, nil
}

// checkpoint is the between-stage cancellation check.
func (m *Manager) checkpoint(ctx context.Context, s *Session) error {
	if s.isCancelled() || ctx.Err() != nil {
		s.advance(StageCancelled, "")
		return ErrCancelled
	}
	return nil
}

// history returns (creating if needed) the bounded history for id.
func (m *Manager) history(id string) *History {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[id]
	if !ok {
		h = NewHistory(m.historyMax)
		m.histories[id] = h
	}
	return h
}

// Interrupt cancels the active session with id, killing playback if the
// session is mid-play.
func (m *Manager) Interrupt(id string) error {
	m.mu.Lock()
	cur, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	cur.session.markCancelled()
	cur.cancel()
	if m.player != nil {
		m.player.Stop()
	}
	return nil
}

// Session returns the snapshot of an active session.
func (m *Manager) Session(id string) (Snapshot, bool) {
	m.mu.Lock()
	cur, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return cur.session.Snapshot(), true
}

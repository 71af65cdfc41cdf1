// Package router maps capabilities onto ordered backend chains and executes
// calls with fallback, health tracking, and usage accounting.
//
// A capability's [Policy] names backend ids in preference order. The router
// tries the first healthy backend and, when fallback is enabled, walks down
// the chain on retryable failures. The error taxonomy drives the decision:
//
//   - Unavailable, Timeout: count against the backend's breaker, fall back.
//   - Protocol: trip the breaker immediately (the backend is lying about its
//     own wire format), then fall back.
//   - Rejected, Busy, VoiceNotFound, ModelNotFound: the request or its timing
//     is at fault; surface to the caller untouched. Falling back would mask a
//     client error.
//
// Every attempt emits one usage.CallRecord through the shared Recorder.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sylvanops/cogate/internal/observe"
	"github.com/sylvanops/cogate/internal/resilience"
	"github.com/sylvanops/cogate/internal/usage"
	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/audiogen"
	"github.com/sylvanops/cogate/pkg/backend/llm"
	"github.com/sylvanops/cogate/pkg/backend/search"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/backend/tts"
)

// ErrNoBackend is returned when a capability has no policy or every backend
// in the chain was skipped or failed.
var ErrNoBackend = errors.New("router: no backend available")

// Policy is the routing rule for one capability.
type Policy struct {
	// Order lists backend ids in preference order; the first entry is the
	// primary.
	Order []string

	// FallbackEnabled permits walking down Order on retryable failures.
	// When false (strict mode) the primary's failure is final.
	FallbackEnabled bool

	// Timeout bounds each individual backend attempt. Zero means no
	// per-attempt deadline beyond the caller's context.
	Timeout time.Duration
}

// Descriptor is the router's view of one registered backend, surfaced by the
// status endpoint.
type Descriptor struct {
	ID         string             `json:"id"`
	Capability backend.Capability `json:"capability"`
	Primary    bool               `json:"primary"`
	// Weight is the 1-based rank in the routing order; 0 for backends
	// outside any policy.
	Weight    int       `json:"weight,omitempty"`
	Available bool      `json:"available"`
	LastCheck time.Time `json:"last_check,omitempty"`
}

// entry pairs a registered backend id with its breaker.
type entry struct {
	id        string
	breaker   *resilience.Breaker
	lastCheck time.Time
}

// Router holds the capability registries. Register everything before serving;
// registration is not synchronised against calls.
type Router struct {
	mu       sync.Mutex
	policies map[backend.Capability]Policy
	entries  map[string]*entry // keyed by backend id
	caps     map[string]backend.Capability

	llms       map[string]llm.Generator
	stts       map[string]stt.Transcriber
	ttss       map[string]tts.Synthesizer
	webs       map[string]search.WebSearcher
	scholars   map[string]search.ScholarSearcher
	audioGens  map[string]audiogen.Generator

	recorder *usage.Recorder
	metrics  *observe.Metrics
}

// New creates an empty Router. recorder may be nil in tests.
func New(recorder *usage.Recorder) *Router {
	return &Router{
		policies:  make(map[backend.Capability]Policy),
		entries:   make(map[string]*entry),
		caps:      make(map[string]backend.Capability),
		llms:      make(map[string]llm.Generator),
		stts:      make(map[string]stt.Transcriber),
		ttss:      make(map[string]tts.Synthesizer),
		webs:      make(map[string]search.WebSearcher),
		scholars:  make(map[string]search.ScholarSearcher),
		audioGens: make(map[string]audiogen.Generator),
		recorder:  recorder,
	}
}

// SetMetrics attaches the observability instruments. nil (the default)
// disables metric emission.
func (r *Router) SetMetrics(m *observe.Metrics) {
	r.metrics = m
}

// SetPolicy installs the routing rule for cap.
func (r *Router) SetPolicy(cap backend.Capability, p Policy) {
	r.policies[cap] = p
}

func (r *Router) register(id string, cap backend.Capability) {
	r.entries[id] = &entry{
		id:      id,
		breaker: resilience.New(resilience.Config{Name: id}),
	}
	r.caps[id] = cap
}

// RegisterLLM adds a text-generation backend under id.
func (r *Router) RegisterLLM(id string, g llm.Generator) {
	r.llms[id] = g
	r.register(id, backend.CapGenerateText)
}

// RegisterSTT adds a transcription backend under id.
func (r *Router) RegisterSTT(id string, t stt.Transcriber) {
	r.stts[id] = t
	r.register(id, backend.CapTranscribeAudio)
}

// RegisterTTS adds a synthesis backend under id.
func (r *Router) RegisterTTS(id string, s tts.Synthesizer) {
	r.ttss[id] = s
	r.register(id, backend.CapSynthesizeSpeech)
}

// RegisterWebSearch adds a web search backend under id.
func (r *Router) RegisterWebSearch(id string, w search.WebSearcher) {
	r.webs[id] = w
	r.register(id, backend.CapSearchWeb)
}

// RegisterScholarSearch adds a scholarly search backend under id.
func (r *Router) RegisterScholarSearch(id string, s search.ScholarSearcher) {
	r.scholars[id] = s
	r.register(id, backend.CapSearchScholarly)
}

// RegisterAudioGen adds an audio-generation backend under id.
func (r *Router) RegisterAudioGen(id string, g audiogen.Generator) {
	r.audioGens[id] = g
	r.register(id, backend.CapGenerateAudio)
}

// result carries one attempt's payload plus the byte accounting for the
// usage record.
type result[R any] struct {
	value    R
	bytesOut int
}

// execute walks the capability's chain. call runs one attempt against the
// named backend id.
func execute[R any](ctx context.Context, r *Router, cap backend.Capability, model string, bytesIn int, call func(ctx context.Context, id string) (result[R], error)) (R, string, error) {
	var zero R

	policy, ok := r.policies[cap]
	if !ok || len(policy.Order) == 0 {
		return zero, "", fmt.Errorf("%w for capability %q", ErrNoBackend, cap)
	}

	var lastErr error
	for i, id := range policy.Order {
		e, ok := r.entries[id]
		if !ok {
			slog.Warn("policy names unregistered backend", "capability", cap, "backend", id)
			continue
		}

		if !e.breaker.Allow() {
			slog.Debug("skipping backend (breaker open)", "backend", id)
			lastErr = backend.Unavailable(id, "health cooldown open")
			if !policy.FallbackEnabled {
				break
			}
			continue
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}

		start := time.Now()
		res, err := call(attemptCtx, id)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		r.mu.Lock()
		e.lastCheck = time.Now()
		r.mu.Unlock()

		kind, classified := backend.KindOf(err)
		r.record(ctx, cap, id, model, elapsed, err, kind, bytesIn, res.bytesOut)

		if err == nil {
			e.breaker.RecordSuccess()
			return res.value, id, nil
		}
		if !classified {
			// The adapter broke its own contract; treat as protocol.
			kind = backend.KindProtocol
		}

		switch kind {
		case backend.KindRejected, backend.KindBusy,
			backend.KindVoiceNotFound, backend.KindModelNotFound:
			// Client-side fault; never mask it behind a fallback.
			return zero, id, err

		case backend.KindProtocol:
			e.breaker.Trip()

		default:
			e.breaker.RecordFailure()
		}

		lastErr = err
		if !policy.FallbackEnabled {
			break
		}
		if i < len(policy.Order)-1 {
			r.metrics.RecordFallback(ctx, string(cap), id, policy.Order[i+1])
			slog.Warn("backend failed, trying next",
				"capability", cap, "backend", id, "error", err)
		}
	}

	if lastErr == nil {
		lastErr = ErrNoBackend
	}
	return zero, "", lastErr
}

// record emits the usage record and metrics for one attempt.
func (r *Router) record(ctx context.Context, cap backend.Capability, id, model string, d time.Duration, err error, kind backend.Kind, bytesIn, bytesOut int) {
	outcome := usage.OutcomeOK
	if err != nil {
		outcome = string(kind)
		if outcome == "" {
			outcome = string(backend.KindProtocol)
		}
	}
	r.metrics.RecordBackendCall(ctx, string(cap), id, outcome, d)
	if r.recorder == nil {
		return
	}
	r.recorder.Record(usage.CallRecord{
		Capability: cap,
		Backend:    id,
		Model:      model,
		Duration:   d,
		Outcome:    outcome,
		BytesIn:    bytesIn,
		BytesOut:   bytesOut,
	})
}

// GenerateText routes req to the text-generation chain. The second return is
// the id of the backend that served the call.
func (r *Router) GenerateText(ctx context.Context, req llm.Request) (string, string, error) {
	return execute(ctx, r, backend.CapGenerateText, req.Model, 0,
		func(ctx context.Context, id string) (result[string], error) {
			g, ok := r.llms[id]
			if !ok {
				return result[string]{}, backend.Unavailable(id, "not a text-generation backend")
			}
			text, err := g.Generate(ctx, req)
			return result[string]{value: text, bytesOut: len(text)}, err
		})
}

// Transcribe routes req to the transcription chain.
func (r *Router) Transcribe(ctx context.Context, req stt.Request) (string, string, error) {
	return execute(ctx, r, backend.CapTranscribeAudio, req.Model, len(req.Audio),
		func(ctx context.Context, id string) (result[string], error) {
			t, ok := r.stts[id]
			if !ok {
				return result[string]{}, backend.Unavailable(id, "not a transcription backend")
			}
			text, err := t.Transcribe(ctx, req)
			return result[string]{value: text, bytesOut: len(text)}, err
		})
}

// Synthesize routes req to the speech-synthesis chain.
func (r *Router) Synthesize(ctx context.Context, req tts.Request) ([]byte, string, error) {
	return execute(ctx, r, backend.CapSynthesizeSpeech, "", len(req.Text),
		func(ctx context.Context, id string) (result[[]byte], error) {
			s, ok := r.ttss[id]
			if !ok {
				return result[[]byte]{}, backend.Unavailable(id, "not a synthesis backend")
			}
			audio, err := s.Synthesize(ctx, req)
			return result[[]byte]{value: audio, bytesOut: len(audio)}, err
		})
}

// SearchWeb routes query to the web-search chain.
func (r *Router) SearchWeb(ctx context.Context, query string, limit int) ([]backend.SearchResult, string, error) {
	return execute(ctx, r, backend.CapSearchWeb, "", len(query),
		func(ctx context.Context, id string) (result[[]backend.SearchResult], error) {
			w, ok := r.webs[id]
			if !ok {
				return result[[]backend.SearchResult]{}, backend.Unavailable(id, "not a web-search backend")
			}
			results, err := w.Search(ctx, query, limit)
			return result[[]backend.SearchResult]{value: results}, err
		})
}

// SearchScholarly routes query to the scholarly-search chain.
func (r *Router) SearchScholarly(ctx context.Context, query string, limit int) ([]backend.Paper, string, error) {
	return execute(ctx, r, backend.CapSearchScholarly, "", len(query),
		func(ctx context.Context, id string) (result[[]backend.Paper], error) {
			s, ok := r.scholars[id]
			if !ok {
				return result[[]backend.Paper]{}, backend.Unavailable(id, "not a scholarly-search backend")
			}
			papers, err := s.SearchScholarly(ctx, query, limit)
			return result[[]backend.Paper]{value: papers}, err
		})
}

// GenerateAudio routes req to the audio-generation chain.
func (r *Router) GenerateAudio(ctx context.Context, req audiogen.Request) ([]byte, string, error) {
	return execute(ctx, r, backend.CapGenerateAudio, req.Model, len(req.Prompt),
		func(ctx context.Context, id string) (result[[]byte], error) {
			g, ok := r.audioGens[id]
			if !ok {
				return result[[]byte]{}, backend.Unavailable(id, "not an audio-generation backend")
			}
			audio, err := g.Generate(ctx, req)
			return result[[]byte]{value: audio, bytesOut: len(audio)}, err
		})
}

// Models collects model inventories from every text-generation backend.
// Unreachable backends are reported with an empty list rather than failing
// the whole inventory.
func (r *Router) Models(ctx context.Context) map[string][]string {
	out := make(map[string][]string, len(r.llms))
	for id, g := range r.llms {
		models, err := g.Models(ctx)
		if err != nil {
			slog.Warn("model inventory failed", "backend", id, "error", err)
			models = nil
		}
		out[id] = models
	}
	return out
}

// Voices collects voice inventories from every synthesis backend.
func (r *Router) Voices(ctx context.Context) map[string][]tts.Voice {
	out := make(map[string][]tts.Voice, len(r.ttss))
	for id, s := range r.ttss {
		voices, err := s.Voices(ctx)
		if err != nil {
			slog.Warn("voice inventory failed", "backend", id, "error", err)
			voices = nil
		}
		out[id] = voices
	}
	return out
}

// Descriptors reports the registered backends and their health, sorted by
// the iteration-stable policy order first and remaining backends after.
func (r *Router) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.entries))
	var out []Descriptor

	appendEntry := func(id string, weight int) {
		e, ok := r.entries[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, Descriptor{
			ID:         id,
			Capability: r.caps[id],
			Primary:    weight == 1,
			Weight:     weight,
			Available:  e.breaker.State() != resilience.StateOpen,
			LastCheck:  e.lastCheck,
		})
	}

	for _, cap := range backend.Capabilities() {
		policy := r.policies[cap]
		for i, id := range policy.Order {
			appendEntry(id, i+1)
		}
	}
	for id := range r.entries {
		appendEntry(id, 0)
	}
	return out
}

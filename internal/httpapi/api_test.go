package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sylvanops/cogate/internal/jobs"
	"github.com/sylvanops/cogate/internal/pipeline"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/internal/workflow/research"
	"github.com/sylvanops/cogate/pkg/backend"
	audiogenmock "github.com/sylvanops/cogate/pkg/backend/audiogen/mock"
	llmmock "github.com/sylvanops/cogate/pkg/backend/llm/mock"
	searchmock "github.com/sylvanops/cogate/pkg/backend/search/mock"
	sttmock "github.com/sylvanops/cogate/pkg/backend/stt/mock"
	"github.com/sylvanops/cogate/pkg/backend/tts"
	ttsmock "github.com/sylvanops/cogate/pkg/backend/tts/mock"
)

// testEnv assembles a Server over mock backends with every collaborator a
// handler can reach.
type testEnv struct {
	llm    *llmmock.Generator
	stt    *sttmock.Transcriber
	tts    *ttsmock.Synthesizer
	audio  *audiogenmock.Generator
	search *searchmock.Searcher

	rt     *router.Router
	jobs   *jobs.Manager
	engine *workflow.Engine
	mux    *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		llm:    &llmmock.Generator{Reply: "mock reply", ModelList: []string{"tiny"}},
		stt:    &sttmock.Transcriber{Text: "spoken words"},
		tts:    &ttsmock.Synthesizer{Audio: []byte("RIFF-fake-wav"), VoiceList: []tts.Voice{{Name: "ava", Language: "en", SampleRate: 22050}}},
		audio:  &audiogenmock.Generator{Audio: []byte("RIFF-fake-music")},
		search: &searchmock.Searcher{Results: []backend.SearchResult{{Title: "Primer", URI: "https://example.org", Snippet: "intro"}}},
	}

	rt := router.New(nil)
	rt.RegisterLLM("llm-1", env.llm)
	rt.SetPolicy(backend.CapGenerateText, router.Policy{Order: []string{"llm-1"}})
	rt.RegisterSTT("stt-1", env.stt)
	rt.SetPolicy(backend.CapTranscribeAudio, router.Policy{Order: []string{"stt-1"}})
	rt.RegisterTTS("tts-1", env.tts)
	rt.SetPolicy(backend.CapSynthesizeSpeech, router.Policy{Order: []string{"tts-1"}})
	rt.RegisterAudioGen("audio-1", env.audio)
	rt.SetPolicy(backend.CapGenerateAudio, router.Policy{Order: []string{"audio-1"}})
	rt.RegisterWebSearch("web-1", env.search)
	rt.SetPolicy(backend.CapSearchWeb, router.Policy{Order: []string{"web-1"}})
	rt.RegisterScholarSearch("scholar-1", env.search)
	rt.SetPolicy(backend.CapSearchScholarly, router.Policy{Order: []string{"scholar-1"}})
	env.rt = rt

	env.jobs = jobs.NewManager()
	t.Cleanup(env.jobs.Close)
	env.engine = workflow.NewEngine()
	t.Cleanup(env.engine.Close)

	srv := New(Config{
		Router:     rt,
		Pipeline:   pipeline.NewManager(rt),
		Jobs:       env.jobs,
		Engine:     env.engine,
		Research:   research.NewBuilder(rt, rt),
		Downloader: jobs.NewDownloader(nil),
		Trainer:    jobs.NewTrainer(),
		ModelsDir:  t.TempDir(),
		VoicesDir:  t.TempDir(),
		Training:   []jobs.TrainStage{{Name: "noop", Cmd: "true", Args: []string{"{voice}", "{samples}"}}},
	})
	env.mux = http.NewServeMux()
	srv.Routes(env.mux)
	return env
}

// doJSON issues a JSON request against the mux and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// wantError asserts the uniform error envelope.
func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d (%s), want %d", rec.Code, rec.Body.String(), status)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Status != "error" {
		t.Errorf("status field = %q, want error", body.Status)
	}
	if body.ErrorKind != kind {
		t.Errorf("error_kind = %q, want %q", body.ErrorKind, kind)
	}
	if body.Message == "" {
		t.Error("message is empty")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[statusResponse](t, rec)
	if len(resp.Backends) != 6 {
		t.Errorf("backends = %d, want 6", len(resp.Backends))
	}
	if resp.ActiveJobs != 0 || resp.ActiveFlows != 0 {
		t.Errorf("active jobs/flows = %d/%d, want 0/0", resp.ActiveJobs, resp.ActiveFlows)
	}
	for _, d := range resp.Backends {
		if !d.Available {
			t.Errorf("backend %s reported unavailable", d.ID)
		}
	}
}

func TestModels(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/models", nil)
	resp := decodeBody[struct {
		Models map[string][]string `json:"models"`
	}](t, rec)
	if got := resp.Models["llm-1"]; len(got) != 1 || got[0] != "tiny" {
		t.Errorf("models[llm-1] = %v, want [tiny]", got)
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/voices", nil)
	resp := decodeBody[struct {
		Voices map[string][]tts.Voice `json:"voices"`
	}](t, rec)
	if got := resp.Voices["tts-1"]; len(got) != 1 || got[0].Name != "ava" {
		t.Errorf("voices[tts-1] = %+v, want one voice named ava", got)
	}
}

func TestErrorEnvelope_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	wantError(t, env.doJSON(t, http.MethodGet, "/chat/nope", nil), http.StatusNotFound, "NotFound")
	wantError(t, env.doJSON(t, http.MethodGet, "/jobs/nope", nil), http.StatusNotFound, "JobNotFound")
	wantError(t, env.doJSON(t, http.MethodGet, "/workflow/nope/status", nil), http.StatusNotFound, "NotFound")
}

func TestErrorEnvelope_NoBackend(t *testing.T) {
	t.Parallel()

	srv := New(Config{Router: router.New(nil)})
	mux := http.NewServeMux()
	srv.Routes(mux)
	env := &testEnv{mux: mux}

	rec := env.doJSON(t, http.MethodPost, "/audio/generate", map[string]any{"prompt": "rain"})
	wantError(t, rec, http.StatusServiceUnavailable, "BackendUnavailable")
}

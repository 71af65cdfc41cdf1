package app

import (
	"context"
	"testing"
	"time"

	"github.com/sylvanops/cogate/internal/config"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/pkg/backend"
)

func boolPtr(b bool) *bool { return &b }

func TestApplyPolicies_DefaultsToFileOrder(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Backends: config.BackendsConfig{
			LLM: []config.BackendEntry{
				{ID: "llm-a", Type: "anyllm", Vendor: "ollama", Model: "llama3"},
				{ID: "llm-b", Type: "openai", APIKey: "sk", Model: "gpt-4o-mini"},
			},
			Search: []config.BackendEntry{
				{ID: "web-1", Type: "searxng", BaseURL: "http://searx:8888"},
				{ID: "scholar-1", Type: "openalex"},
			},
		},
	}

	rt := router.New(nil)
	if err := registerBackends(context.Background(), rt, cfg); err != nil {
		t.Fatalf("registerBackends: %v", err)
	}
	applyPolicies(rt, cfg)

	descriptors := rt.Descriptors()
	primaries := make(map[backend.Capability]string)
	for _, d := range descriptors {
		if d.Primary {
			primaries[d.Capability] = d.ID
		}
	}
	if primaries[backend.CapGenerateText] != "llm-a" {
		t.Errorf("generate_text primary = %q, want llm-a", primaries[backend.CapGenerateText])
	}
	if primaries[backend.CapSearchWeb] != "web-1" {
		t.Errorf("search_web primary = %q, want web-1", primaries[backend.CapSearchWeb])
	}
	if primaries[backend.CapSearchScholarly] != "scholar-1" {
		t.Errorf("search_scholarly primary = %q, want scholar-1", primaries[backend.CapSearchScholarly])
	}
}

func TestApplyPolicies_ExplicitPolicyWins(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Backends: config.BackendsConfig{
			LLM: []config.BackendEntry{
				{ID: "llm-a", Type: "anyllm", Vendor: "ollama", Model: "llama3"},
				{ID: "llm-b", Type: "openai", APIKey: "sk", Model: "gpt-4o-mini"},
			},
		},
		Policies: map[string]config.PolicyConfig{
			"generate_text": {Order: []string{"llm-b", "llm-a"}, Fallback: boolPtr(false)},
		},
	}

	rt := router.New(nil)
	if err := registerBackends(context.Background(), rt, cfg); err != nil {
		t.Fatalf("registerBackends: %v", err)
	}
	applyPolicies(rt, cfg)

	for _, d := range rt.Descriptors() {
		if d.Capability != backend.CapGenerateText {
			continue
		}
		if d.ID == "llm-b" && !d.Primary {
			t.Error("llm-b should be primary under the explicit policy")
		}
		if d.ID == "llm-a" && d.Primary {
			t.Error("llm-a should not be primary under the explicit policy")
		}
	}
}

func TestRegisterBackends_UnknownType(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Backends: config.BackendsConfig{
			STT: []config.BackendEntry{{ID: "stt-1", Type: "lipreader"}},
		},
	}
	if err := registerBackends(context.Background(), rt(t), cfg); err == nil {
		t.Fatal("want error for unknown adapter type")
	}
}

func rt(t *testing.T) *router.Router {
	t.Helper()
	return router.New(nil)
}

func TestBuildSTT_WhisperHTTP(t *testing.T) {
	t.Parallel()

	tr, err := buildSTT(config.BackendEntry{
		ID:      "stt-1",
		Type:    "whisperhttp",
		BaseURL: "http://whisper:9000",
		Model:   "base.en",
		Timeout: config.Duration(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("buildSTT: %v", err)
	}
	if tr == nil {
		t.Fatal("nil transcriber")
	}
}

func TestBuildTTS_Piper(t *testing.T) {
	t.Parallel()

	s, err := buildTTS(config.BackendEntry{ID: "tts-1", Type: "piper", Voice: "ava"}, t.TempDir())
	if err != nil {
		t.Fatalf("buildTTS: %v", err)
	}
	if s == nil {
		t.Fatal("nil synthesizer")
	}
}

func TestTrainingStages(t *testing.T) {
	t.Parallel()

	in := []config.TrainingStageConfig{
		{Name: "prep", Cmd: "prep.sh", Args: []string{"{voice}"}},
		{Name: "train", Cmd: "train.sh"},
	}
	out := trainingStages(in)
	if len(out) != 2 || out[0].Name != "prep" || out[1].Cmd != "train.sh" {
		t.Errorf("trainingStages = %+v", out)
	}
}

func TestHasScholarly(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Backends: config.BackendsConfig{
		Search: []config.BackendEntry{{ID: "web-1", Type: "searxng", BaseURL: "http://searx:8888"}},
	}}
	if hasScholarly(cfg) {
		t.Error("hasScholarly = true without an openalex backend")
	}
	cfg.Backends.Search = append(cfg.Backends.Search, config.BackendEntry{ID: "scholar-1", Type: "openalex"})
	if !hasScholarly(cfg) {
		t.Error("hasScholarly = false with an openalex backend")
	}
}

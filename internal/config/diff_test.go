package config_test

import (
	"testing"
	"time"

	"github.com/sylvanops/cogate/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo, SystemPrompt: "be brief"},
		Policies: map[string]config.PolicyConfig{
			"generate_text": {Order: []string{"gpt", "local"}},
		},
		Research: config.ResearchConfig{LoadedTerms: []string{"vaccines"}},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_PolicyOrderChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Policies: map[string]config.PolicyConfig{
		"generate_text": {Order: []string{"gpt", "local"}},
	}}
	new := &config.Config{Policies: map[string]config.PolicyConfig{
		"generate_text": {Order: []string{"local", "gpt"}},
	}}

	d := config.Diff(old, new)
	if len(d.PoliciesChanged) != 1 || d.PoliciesChanged[0] != "generate_text" {
		t.Errorf("PoliciesChanged = %v, want [generate_text]", d.PoliciesChanged)
	}
}

func TestDiff_PolicyTimeoutChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Policies: map[string]config.PolicyConfig{
		"transcribe_audio": {Order: []string{"whisper"}, Timeout: config.Duration(30 * time.Second)},
	}}
	new := &config.Config{Policies: map[string]config.PolicyConfig{
		"transcribe_audio": {Order: []string{"whisper"}, Timeout: config.Duration(time.Minute)},
	}}

	d := config.Diff(old, new)
	if len(d.PoliciesChanged) != 1 {
		t.Errorf("PoliciesChanged = %v, want one entry", d.PoliciesChanged)
	}
}

func TestDiff_PolicyAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{Policies: map[string]config.PolicyConfig{
		"search_web": {Order: []string{"searx"}},
	}}
	new := &config.Config{Policies: map[string]config.PolicyConfig{
		"generate_audio": {Order: []string{"musicgen"}},
	}}

	d := config.Diff(old, new)
	if len(d.PoliciesChanged) != 2 {
		t.Fatalf("PoliciesChanged = %v, want two entries", d.PoliciesChanged)
	}
	// Sorted output.
	if d.PoliciesChanged[0] != "generate_audio" || d.PoliciesChanged[1] != "search_web" {
		t.Errorf("PoliciesChanged = %v, want [generate_audio search_web]", d.PoliciesChanged)
	}
}

func TestDiff_ExplicitFallbackEqualsDefault(t *testing.T) {
	t.Parallel()
	enabled := true
	old := &config.Config{Policies: map[string]config.PolicyConfig{
		"generate_text": {Order: []string{"gpt"}},
	}}
	new := &config.Config{Policies: map[string]config.PolicyConfig{
		"generate_text": {Order: []string{"gpt"}, Fallback: &enabled},
	}}

	// fallback: true spelled out is the same policy as the default.
	d := config.Diff(old, new)
	if len(d.PoliciesChanged) != 0 {
		t.Errorf("PoliciesChanged = %v, want none", d.PoliciesChanged)
	}
}

func TestDiff_LoadedTermsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Research: config.ResearchConfig{LoadedTerms: []string{"vaccines"}}}
	new := &config.Config{Research: config.ResearchConfig{LoadedTerms: []string{"vaccines", "immigration"}}}

	d := config.Diff(old, new)
	if !d.LoadedTermsChanged {
		t.Error("expected LoadedTermsChanged=true")
	}
}

func TestDiff_SystemPromptChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{SystemPrompt: "be brief"}}
	new := &config.Config{Server: config.ServerConfig{SystemPrompt: "be thorough"}}

	d := config.Diff(old, new)
	if !d.SystemPromptChanged {
		t.Error("expected SystemPromptChanged=true")
	}
	if !d.Any() {
		t.Error("Any() should report the change")
	}
}

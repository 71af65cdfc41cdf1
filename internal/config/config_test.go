package config_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/sylvanops/cogate/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "verbose", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should not be valid", l)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.Level(); got != tc.want {
			t.Errorf("Level(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDuration_RejectsGarbage(t *testing.T) {
	t.Parallel()
	yaml := `
backends:
  llm:
    - id: gpt
      type: anyllm
      vendor: ollama
      model: llama3
      timeout: "soonish"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for malformed duration, got nil")
	}
	if !strings.Contains(err.Error(), "soonish") {
		t.Errorf("error should quote the bad value, got: %v", err)
	}
}

func TestPolicyConfig_FallbackEnabled(t *testing.T) {
	t.Parallel()
	var p config.PolicyConfig
	if !p.FallbackEnabled() {
		t.Error("nil fallback should mean enabled")
	}

	enabled := true
	p.Fallback = &enabled
	if !p.FallbackEnabled() {
		t.Error("fallback=true should mean enabled")
	}

	disabled := false
	p.Fallback = &disabled
	if p.FallbackEnabled() {
		t.Error("fallback=false should mean disabled")
	}
}

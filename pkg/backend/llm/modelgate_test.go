package llm

import (
	"errors"
	"testing"

	"github.com/sylvanops/cogate/pkg/backend"
)

func TestModelGate_SameModelAlwaysProceeds(t *testing.T) {
	var g ModelGate
	if err := g.Acquire("ollama", "m-small"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	g.Release(true)

	for i := 0; i < 3; i++ {
		if err := g.Acquire("ollama", "m-small"); err != nil {
			t.Fatalf("acquire %d for warm model: %v", i, err)
		}
	}
}

func TestModelGate_SwitchWhileSwitchingIsBusy(t *testing.T) {
	var g ModelGate
	if err := g.Acquire("ollama", "m-small"); err != nil {
		t.Fatalf("switch to m-small: %v", err)
	}
	// m-small is loading; a request for m-large must be refused, not queued.
	err := g.Acquire("ollama", "m-large")
	if err == nil {
		t.Fatal("expected busy error while switch is in flight")
	}
	var be *backend.Error
	if !errors.As(err, &be) || be.Kind != backend.KindBusy {
		t.Fatalf("err = %v, want KindBusy", err)
	}
}

func TestModelGate_FailedSwitchClearsWarm(t *testing.T) {
	var g ModelGate
	_ = g.Acquire("ollama", "m-small")
	g.Release(false)
	if w := g.Warm(); w != "" {
		t.Fatalf("warm = %q after failed switch, want empty", w)
	}
}

func TestModelGate_EmptyModelUsesWarm(t *testing.T) {
	var g ModelGate
	_ = g.Acquire("ollama", "m-small")
	g.Release(true)

	if err := g.Acquire("ollama", ""); err != nil {
		t.Fatalf("empty model should ride the warm model: %v", err)
	}
	if w := g.Warm(); w != "m-small" {
		t.Fatalf("warm = %q, want m-small", w)
	}
}

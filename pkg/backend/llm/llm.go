// Package llm defines the Generator interface for text-generation backends.
//
// A Generator wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama or llama.cpp server, …) and exposes a uniform batch-completion
// surface for the router. Streaming is deliberately not part of the
// interface: the gateway's conversational pipeline consumes whole replies,
// and per-sentence pipelining lives inside TTS adapters where it matters.
//
// Implementations must be safe for concurrent use and must classify failures
// with the [backend] error taxonomy so the router can decide whether to fall
// back.
package llm

import (
	"context"

	"github.com/sylvanops/cogate/pkg/backend"
)

// Request carries everything a text-generation backend needs for one call.
// A zero-value request is invalid; Messages must be non-empty.
type Request struct {
	// Messages is the ordered conversation. The last entry is typically the
	// "user" turn that drives the reply.
	Messages []backend.Message

	// System is an optional high-priority instruction. Adapters whose
	// backend lacks a dedicated system slot prepend it as a "system"-role
	// message.
	System string

	// Model selects a specific model on the backend. Empty means the
	// adapter's configured default.
	Model string

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64
}

// Generator is the abstraction over any text-generation backend.
type Generator interface {
	// Generate sends req and waits for the full reply text. Failures are
	// classified per the [backend] taxonomy; in particular a malformed
	// request must surface as KindRejected and an unknown model id as
	// KindModelNotFound so the router does not mask either behind a
	// fallback.
	Generate(ctx context.Context, req Request) (string, error)

	// Models lists the model identifiers this backend can serve, for the
	// inventory endpoint. Backends without an enumeration API return the
	// configured default model only.
	Models(ctx context.Context) ([]string, error)
}

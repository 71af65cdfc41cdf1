// Package audiogen defines the Generator interface for prompt-driven audio
// generation backends (music, ambience, sound effects).
package audiogen

import (
	"context"
)

// Request carries one generation call.
type Request struct {
	// Prompt describes the desired audio in natural language.
	Prompt string

	// Duration is the requested clip length in seconds; 0 means the
	// backend default.
	Duration float64

	// Model selects a specific model on the backend. Empty means default.
	Model string
}

// Generator is the abstraction over any audio-generation backend.
type Generator interface {
	// Generate renders the prompt and returns a complete WAV container.
	Generate(ctx context.Context, req Request) ([]byte, error)

	// Models lists the model identifiers this backend can serve.
	Models(ctx context.Context) ([]string, error)
}

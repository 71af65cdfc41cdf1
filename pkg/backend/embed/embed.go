// Package embed defines the Embedder interface for text-embedding backends.
// Embeddings power the research archive's semantic lookup; they are an
// internal concern and not exposed as a routed capability on their own.
package embed

import (
	"context"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	// Embed returns the embedding vector for text. The dimensionality is
	// fixed per backend/model and must match the archive's column width.
	Embed(ctx context.Context, text string) ([]float32, error)
}

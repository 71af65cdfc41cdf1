// Package mock provides a test double for the embed.Embedder interface.
package mock

import (
	"context"
	"sync"
)

// Embedder is a mock implementation of embed.Embedder. Zero values return a
// small fixed vector so archive tests can run without configuration.
type Embedder struct {
	mu sync.Mutex

	// Vector is returned by Embed. Nil defaults to a 3-wide unit vector.
	Vector []float32

	// Err, if non-nil, is returned by Embed.
	Err error

	// Texts records every text passed to Embed, in order.
	Texts []string
}

// Embed implements embed.Embedder.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Texts = append(e.Texts, text)
	vec, err := e.Vector, e.Err
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if vec == nil {
		return []float32{1, 0, 0}, nil
	}
	return append([]float32(nil), vec...), nil
}

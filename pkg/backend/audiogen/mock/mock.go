// Package mock provides a test double for the audiogen.Generator interface.
package mock

import (
	"context"
	"sync"

	"github.com/sylvanops/cogate/pkg/backend/audiogen"
)

// Generator is a mock implementation of audiogen.Generator.
// Zero values cause methods to return zero values and nil errors.
type Generator struct {
	mu sync.Mutex

	// Audio is returned by Generate.
	Audio []byte

	// Err, if non-nil, is returned by Generate.
	Err error

	// ModelList is returned by Models.
	ModelList []string

	// Requests records every request passed to Generate, in order.
	Requests []audiogen.Request
}

// Generate implements audiogen.Generator.
func (g *Generator) Generate(_ context.Context, req audiogen.Request) ([]byte, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	audio, err := g.Audio, g.Err
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Models implements audiogen.Generator.
func (g *Generator) Models(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ModelList...), nil
}

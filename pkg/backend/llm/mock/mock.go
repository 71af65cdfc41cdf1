// Package mock provides a test double for the llm.Generator interface.
//
// Use Generator in unit tests to verify the requests the router and pipeline
// build and to feed controlled replies without a live backend. All response
// fields should be set before the first call; mutating them during a
// concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/sylvanops/cogate/pkg/backend/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req llm.Request
}

// Generator is a mock implementation of llm.Generator.
// Zero values cause methods to return zero values and nil errors.
type Generator struct {
	mu sync.Mutex

	// Reply is returned by Generate when ReplyFn is nil.
	Reply string

	// ReplyFn, when set, computes the reply per call (useful for sequencing
	// distinct step outputs in workflow tests).
	ReplyFn func(req llm.Request) (string, error)

	// Err, if non-nil, is returned by Generate.
	Err error

	// ModelList is returned by Models.
	ModelList []string

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.GenerateCalls = append(g.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	fn := g.ReplyFn
	reply, err := g.Reply, g.Err
	g.mu.Unlock()

	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(req)
	}
	return reply, nil
}

// Models implements llm.Generator.
func (g *Generator) Models(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ModelList...), nil
}

// Calls returns a snapshot of recorded Generate invocations.
func (g *Generator) Calls() []GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateCall(nil), g.GenerateCalls...)
}

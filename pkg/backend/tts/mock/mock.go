// Package mock provides a test double for the tts.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/sylvanops/cogate/pkg/backend/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Synthesizer is a mock implementation of tts.Synthesizer.
// Zero values cause methods to return zero values and nil errors.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// VoiceList is returned by Voices.
	VoiceList []tts.Voice

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	audio, err := s.Audio, s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Voices implements tts.Synthesizer.
func (s *Synthesizer) Voices(context.Context) ([]tts.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.Voice(nil), s.VoiceList...), nil
}

// Calls returns a snapshot of recorded Synthesize invocations.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SynthesizeCall(nil), s.SynthesizeCalls...)
}

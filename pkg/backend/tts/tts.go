// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Like the rest of the gateway the surface is batch: one text in, one WAV
// container out. Adapters sitting on streaming engines assemble the full
// clip before returning.
package tts

import (
	"context"
)

// Voice describes one installed voice.
type Voice struct {
	// Name is the voice identifier clients pass in requests.
	Name string `json:"name"`

	// Language is the BCP-47 code the voice speaks, when known.
	Language string `json:"language,omitempty"`

	// SampleRate is the native output rate in Hz, when known.
	SampleRate int `json:"sample_rate,omitempty"`
}

// Request carries one synthesis call.
type Request struct {
	// Text is the sanitized text to speak. Must be non-empty.
	Text string

	// Voice selects an installed voice. Empty means the adapter's default.
	Voice string

	// Speed is a playback-rate multiplier; 0 means the backend default.
	Speed float64
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders req.Text and returns a complete WAV container
	// (PCM s16le). An unknown voice surfaces as KindVoiceNotFound.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// Voices lists the voices this backend can serve.
	Voices(ctx context.Context) ([]Voice, error)
}

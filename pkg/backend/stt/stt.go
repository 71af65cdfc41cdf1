// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The gateway transcribes uploaded audio files, so the interface is batch:
// one WAV blob in, one transcript out. Streaming dictation is out of scope;
// adapters that sit on streaming engines buffer internally.
package stt

import (
	"context"
)

// Request carries one transcription call.
type Request struct {
	// Audio is a complete WAV container (16-bit PCM). Adapters reject other
	// encodings with KindRejected.
	Audio []byte

	// Model selects a specific model on the backend. Empty means the
	// adapter's configured default.
	Model string

	// Language is an optional BCP-47 hint (e.g. "en", "de").
	Language string
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe runs inference on the full audio blob and returns the
	// transcript text. An empty transcript (silence) is returned as "" with a
	// nil error; callers decide whether that is an edge case worth flagging.
	Transcribe(ctx context.Context, req Request) (string, error)

	// Models lists the model identifiers this backend can serve.
	Models(ctx context.Context) ([]string, error)
}

// Package whispercpp provides an stt.Transcriber backed by the whisper.cpp
// CGO bindings, eliminating HTTP overhead entirely. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all calls; each
// call creates its own whisper context because contexts are not thread-safe.
package whispercpp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/wav"
)

// whisper.cpp only accepts 16 kHz mono input.
const requiredSampleRate = 16000

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements stt.Transcriber using whisper.cpp Go bindings (CGO).
type Transcriber struct {
	id        string
	modelName string
	language  string

	mu    sync.Mutex
	model whisperlib.Model
}

// New creates a Transcriber identified by id that loads the whisper.cpp model
// from modelPath. The caller must call Close when done.
func New(id, modelPath string, opts ...Option) (*Transcriber, error) {
	if id == "" {
		return nil, fmt.Errorf("whispercpp: id must not be empty")
	}
	if modelPath == "" {
		return nil, fmt.Errorf("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		id:        id,
		modelName: modelPath,
		language:  "en",
		model:     model,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model != nil {
		err := t.model.Close()
		t.model = nil
		return err
	}
	return nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", backend.Classify(t.id, err)
	}

	pcm, format, err := wav.Decode(req.Audio)
	if err != nil {
		return "", backend.Rejected(t.id, "decode audio: %v", err)
	}
	if format.SampleRate != requiredSampleRate {
		return "", backend.Rejected(t.id, "sample rate %d Hz, need %d Hz", format.SampleRate, requiredSampleRate)
	}

	samples := pcmToFloat32Mono(pcm, format.Channels)

	t.mu.Lock()
	model := t.model
	t.mu.Unlock()
	if model == nil {
		return "", backend.Unavailable(t.id, "model is closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", backend.Unavailable(t.id, "create context").WithCause(err)
	}

	lang := req.Language
	if lang == "" {
		lang = t.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whispercpp: failed to set language, using default",
			"language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", backend.Unavailable(t.id, "process audio").WithCause(err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", backend.Protocol(t.id, "read segment").WithCause(err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Models implements stt.Transcriber. The bindings serve exactly the model
// loaded at construction.
func (t *Transcriber) Models(context.Context) ([]string, error) {
	return []string{t.modelName}, nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to the normalised
// float32 mono samples whisper.cpp expects, averaging channels when the input
// is multi-channel.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			sum += float32(sample) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

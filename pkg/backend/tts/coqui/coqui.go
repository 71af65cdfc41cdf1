// Package coqui provides a tts.Synthesizer backed by a standard Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu) via its REST API: synthesis is performed
// with GET /api/tts using URL query parameters, the voice catalogue comes
// from GET /details.
//
// Usage:
//
//	s, err := coqui.New("coqui", "http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	wav, err := s.Synthesize(ctx, tts.Request{Text: "hello", Voice: "p225"})
package coqui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/tts"
	"github.com/sylvanops/cogate/pkg/wav"
)

const (
	ttsEndpoint     = "/api/tts"
	detailsEndpoint = "/details"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language_id query parameter sent with every request.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// Synthesizer implements tts.Synthesizer against a Coqui TTS server. It is
// safe for concurrent use.
type Synthesizer struct {
	id         string
	serverURL  string
	language   string
	httpClient *http.Client
}

// New creates a Synthesizer identified by id that targets the Coqui server at
// serverURL (e.g. "http://localhost:5002").
func New(id, serverURL string, opts ...Option) (*Synthesizer, error) {
	if id == "" {
		return nil, fmt.Errorf("coqui: id must not be empty")
	}
	if serverURL == "" {
		return nil, fmt.Errorf("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		id:         id,
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// detailsResponse is the JSON body returned by GET /details. Speakers is nil
// for single-speaker models and non-nil for multi-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, backend.Rejected(s.id, "text must not be empty")
	}

	params := url.Values{}
	params.Set("text", text)
	if req.Voice != "" {
		params.Set("speaker_id", req.Voice)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.serverURL+ttsEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backend.Protocol(s.id, "create tts request").WithCause(err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, backend.Classify(s.id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backend.Rejected(s.id, "server returned HTTP %d", resp.StatusCode)
	default:
		return nil, backend.Unavailable(s.id, "server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Protocol(s.id, "read WAV response").WithCause(err)
	}
	if !wav.IsWAV(data) {
		return nil, backend.Protocol(s.id, "response is not a WAV container")
	}
	return data, nil
}

// Voices implements tts.Synthesizer. Multi-speaker models yield one voice per
// speaker; single-speaker models yield a single voice named after the model.
func (s *Synthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, backend.Protocol(s.id, "create details request").WithCause(err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, backend.Classify(s.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.Unavailable(s.id, "details returned HTTP %d", resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, backend.Protocol(s.id, "parse details response").WithCause(err)
	}

	if len(details.Speakers) == 0 {
		return []tts.Voice{{Name: details.ModelName, Language: details.Language}}, nil
	}
	voices := make([]tts.Voice, 0, len(details.Speakers))
	for _, sp := range details.Speakers {
		voices = append(voices, tts.Voice{Name: sp, Language: details.Language})
	}
	return voices, nil
}

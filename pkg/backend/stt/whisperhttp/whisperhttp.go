// Package whisperhttp provides an stt.Transcriber backed by a running
// whisper-server binary, which exposes a REST API at POST /inference.
//
// Usage:
//
//	t, err := whisperhttp.New("whisper", "http://localhost:8080",
//	    whisperhttp.WithLanguage("en"),
//	)
//	text, err := t.Transcribe(ctx, stt.Request{Audio: wavBytes})
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/wav"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g. "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code sent with every request.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s; batch
// inference on long recordings is slow.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.httpClient.Timeout = d }
}

// Transcriber implements stt.Transcriber against a whisper.cpp HTTP server.
// It is safe for concurrent use; the server serialises inference internally.
type Transcriber struct {
	id         string
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Transcriber identified by id that connects to the whisper.cpp
// HTTP server at serverURL (e.g. "http://localhost:8080").
func New(id, serverURL string, opts ...Option) (*Transcriber, error) {
	if id == "" {
		return nil, fmt.Errorf("whisperhttp: id must not be empty")
	}
	if serverURL == "" {
		return nil, fmt.Errorf("whisperhttp: serverURL must not be empty")
	}
	t := &Transcriber{
		id:         id,
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   "en",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if !wav.IsWAV(req.Audio) {
		return "", backend.Rejected(t.id, "audio is not a WAV container")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", backend.Protocol(t.id, "create form file").WithCause(err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return "", backend.Protocol(t.id, "write wav data").WithCause(err)
	}

	lang := req.Language
	if lang == "" {
		lang = t.language
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", backend.Protocol(t.id, "write language field").WithCause(err)
		}
	}
	model := req.Model
	if model == "" {
		model = t.model
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return "", backend.Protocol(t.id, "write model field").WithCause(err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", backend.Protocol(t.id, "close multipart writer").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return "", backend.Protocol(t.id, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", backend.Classify(t.id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", backend.Rejected(t.id, "server returned HTTP %d", resp.StatusCode)
	default:
		return "", backend.Unavailable(t.id, "server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", backend.Protocol(t.id, "read response body").WithCause(err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", backend.Protocol(t.id, "parse JSON response").WithCause(err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Models implements stt.Transcriber. whisper-server serves a single model
// chosen at startup, so only the configured identifier is reported.
func (t *Transcriber) Models(context.Context) ([]string, error) {
	if t.model != "" {
		return []string{t.model}, nil
	}
	return []string{"default"}, nil
}

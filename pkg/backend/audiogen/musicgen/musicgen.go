// Package musicgen provides an audiogen.Generator backed by a MusicGen
// inference server (e.g. the audiocraft FastAPI wrapper): synthesis is
// performed via POST /generate with a JSON body, the response body is a WAV
// clip.
package musicgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/audiogen"
	"github.com/sylvanops/cogate/pkg/wav"
)

var _ audiogen.Generator = (*Generator)(nil)

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithModel sets the model forwarded with every request (e.g.
// "facebook/musicgen-small"). Empty leaves the server default.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 5 min; audio
// generation is by far the slowest capability the gateway fronts.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.httpClient.Timeout = d }
}

// Generator implements audiogen.Generator against a MusicGen HTTP server.
type Generator struct {
	id         string
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Generator identified by id targeting the server at serverURL.
func New(id, serverURL string, opts ...Option) (*Generator, error) {
	if id == "" {
		return nil, fmt.Errorf("musicgen: id must not be empty")
	}
	if serverURL == "" {
		return nil, fmt.Errorf("musicgen: serverURL must not be empty")
	}
	g := &Generator{
		id:         id,
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// generateRequest is the JSON body sent to POST /generate.
type generateRequest struct {
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration,omitempty"`
	Model    string  `json:"model,omitempty"`
}

// Generate implements audiogen.Generator.
func (g *Generator) Generate(ctx context.Context, req audiogen.Request) ([]byte, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, backend.Rejected(g.id, "prompt must not be empty")
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	body, err := json.Marshal(generateRequest{
		Prompt:   prompt,
		Duration: req.Duration,
		Model:    model,
	})
	if err != nil {
		return nil, backend.Protocol(g.id, "marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.serverURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, backend.Protocol(g.id, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, backend.Classify(g.id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backend.Rejected(g.id, "server returned HTTP %d", resp.StatusCode)
	default:
		return nil, backend.Unavailable(g.id, "server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Protocol(g.id, "read response body").WithCause(err)
	}
	if !wav.IsWAV(data) {
		return nil, backend.Protocol(g.id, "response is not a WAV container")
	}
	return data, nil
}

// Models implements audiogen.Generator. The server serves the model chosen
// at startup, so only the configured identifier is reported.
func (g *Generator) Models(context.Context) ([]string, error) {
	if g.model != "" {
		return []string{g.model}, nil
	}
	return []string{"default"}, nil
}

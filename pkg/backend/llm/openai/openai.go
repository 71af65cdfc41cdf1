// Package openai provides a text-generation backend speaking the OpenAI API,
// including self-hosted OpenAI-compatible servers via WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/llm"
)

// Compile-time assertion that Generator satisfies llm.Generator.
var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator using the OpenAI API.
type Generator struct {
	id     string
	client oai.Client
	model  string
	gate   llm.ModelGate
}

// config holds optional configuration for the generator.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Generator.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to target
// any OpenAI-compatible server (vLLM, llama.cpp, LM Studio, …).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Generator identified by id (the backend id used in
// routing policies) with the given default model.
func New(id, apiKey, model string, opts ...Option) (*Generator, error) {
	if id == "" {
		return nil, fmt.Errorf("openai: id must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Generator{id: id, client: oai.NewClient(reqOpts...), model: model}, nil
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", backend.Rejected(g.id, "request has no messages")
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	if err := g.gate.Acquire(g.id, model); err != nil {
		return "", err
	}

	resp, err := g.client.Chat.Completions.New(ctx, g.buildParams(req, model))
	if err != nil {
		g.gate.Release(false)
		return "", g.classify(err)
	}
	g.gate.Release(true)

	if len(resp.Choices) == 0 {
		return "", backend.Protocol(g.id, "empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Models implements llm.Generator. OpenAI-compatible servers expose a model
// listing; failures degrade to the configured default.
func (g *Generator) Models(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx)
	if err != nil {
		return []string{g.model}, nil
	}
	var ids []string
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		ids = []string{g.model}
	}
	return ids, nil
}

// buildParams converts a llm.Request into OpenAI SDK params.
func (g *Generator) buildParams(req llm.Request, model string) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// classify maps SDK errors onto the backend taxonomy using the HTTP status.
func (g *Generator) classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusNotFound:
			// OpenAI-compatible servers answer 404 for an unknown model id.
			return backend.ModelNotFound(g.id, "%s", apierr.Error()).WithCause(err)
		case apierr.StatusCode == http.StatusBadRequest,
			apierr.StatusCode == http.StatusUnprocessableEntity,
			apierr.StatusCode == http.StatusUnauthorized,
			apierr.StatusCode == http.StatusForbidden:
			return backend.Rejected(g.id, "%s", apierr.Error()).WithCause(err)
		case apierr.StatusCode == http.StatusRequestTimeout:
			return backend.Timeout(g.id, "%s", apierr.Error()).WithCause(err)
		case apierr.StatusCode >= 500, apierr.StatusCode == http.StatusTooManyRequests:
			return backend.Unavailable(g.id, "%s", apierr.Error()).WithCause(err)
		default:
			return backend.Protocol(g.id, "unexpected status %d", apierr.StatusCode).WithCause(err)
		}
	}
	return backend.Classify(g.id, err)
}

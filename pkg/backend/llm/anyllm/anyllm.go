// Package anyllm provides a text-generation backend backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	g, err := anyllm.New("ollama", "ollama", "llama3.1", anyllmlib.WithBaseURL("http://gpu-box:11434"))
//	g, err := anyllm.NewAnthropic("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/llm"
)

var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator by wrapping github.com/mozilla-ai/any-llm-go.
type Generator struct {
	id      string
	backend anyllmlib.Provider
	model   string
	gate    llm.ModelGate
}

// New creates a new Generator backed by the given vendor.
//
// id is the backend id used in routing policies. vendor is one of: "openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
// "llamafile". model is the default model (e.g. "gpt-4o", "llama3.1").
//
// opts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the vendor library
// falls back to its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(id, vendor, model string, opts ...anyllmlib.Option) (*Generator, error) {
	if id == "" {
		return nil, fmt.Errorf("anyllm: id must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	be, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}
	return &Generator{id: id, backend: be, model: model}, nil
}

// NewOpenAI creates a Generator backed by OpenAI.
func NewOpenAI(id, model string, opts ...anyllmlib.Option) (*Generator, error) {
	return New(id, "openai", model, opts...)
}

// NewAnthropic creates a Generator backed by Anthropic.
func NewAnthropic(id, model string, opts ...anyllmlib.Option) (*Generator, error) {
	return New(id, "anthropic", model, opts...)
}

// NewGemini creates a Generator backed by Google Gemini.
func NewGemini(id, model string, opts ...anyllmlib.Option) (*Generator, error) {
	return New(id, "gemini", model, opts...)
}

// NewOllama creates a Generator backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(id, model string, opts ...anyllmlib.Option) (*Generator, error) {
	return New(id, "ollama", model, opts...)
}

// NewLlamaCpp creates a Generator backed by a running llama.cpp server.
func NewLlamaCpp(id, model string, opts ...anyllmlib.Option) (*Generator, error) {
	return New(id, "llamacpp", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the vendor name.
func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
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

	resp, err := g.backend.Completion(ctx, g.buildParams(req, model))
	if err != nil {
		g.gate.Release(false)
		return "", backend.Classify(g.id, err)
	}
	g.gate.Release(true)

	if len(resp.Choices) == 0 {
		return "", backend.Protocol(g.id, "empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Models implements llm.Generator. any-llm-go exposes no enumeration API, so
// the configured default model is reported.
func (g *Generator) Models(context.Context) ([]string, error) {
	return []string{g.model}, nil
}

// buildParams converts a llm.Request into any-llm CompletionParams.
func (g *Generator) buildParams(req llm.Request, model string) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

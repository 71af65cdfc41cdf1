package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/llm"
	"github.com/sylvanops/cogate/pkg/backend/tts"
)

// The shims accept the OpenAI and Ollama request shapes so existing clients
// can point at the gateway unchanged. Requests route through the capability
// router like native ones; streaming variants are not offered.

type openAIChatRequest struct {
	Model       string            `json:"model"`
	Messages    []backend.Message `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int             `json:"index"`
	Message      backend.Message `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	var req openAIChatRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.Stream {
		badRequest(w, "InputInvalid", "streaming responses are not supported")
		return
	}
	if len(req.Messages) == 0 {
		badRequest(w, "InputEmpty", "messages is empty")
		return
	}

	// A leading system message maps onto the request's system prompt.
	system := ""
	msgs := req.Messages
	if msgs[0].Role == "system" {
		system = msgs[0].Content
		msgs = msgs[1:]
	}

	reply, backendID, err := s.cfg.Router.GenerateText(r.Context(), llm.Request{
		Messages:    msgs,
		System:      system,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	prompt := 0
	for _, m := range req.Messages {
		prompt += approxTokens(m.Content)
	}
	completion := approxTokens(reply)

	w.Header().Set("X-Backend-Used", backendID)
	writeJSON(w, http.StatusOK, openAIChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openAIChoice{{
			Message:      backend.Message{Role: "assistant", Content: reply},
			FinishReason: "stop",
		}},
		Usage: openAIUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
}

// approxTokens estimates a token count for the usage block. Backends do not
// report real counts, so a words-based estimate stands in.
func approxTokens(text string) int {
	return len(strings.Fields(text))
}

func (s *Server) handleOpenAISpeech(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model          string  `json:"model,omitempty"`
		Input          string  `json:"input"`
		Voice          string  `json:"voice,omitempty"`
		ResponseFormat string  `json:"response_format,omitempty"`
		Speed          float64 `json:"speed,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		badRequest(w, "InputEmpty", "input is empty")
		return
	}
	if req.ResponseFormat != "" && req.ResponseFormat != "wav" {
		badRequest(w, "InputInvalid", fmt.Sprintf("response_format %q is not supported, use wav", req.ResponseFormat))
		return
	}

	start := time.Now()
	audio, backendID, err := s.cfg.Router.Synthesize(r.Context(), tts.Request{
		Text:  req.Input,
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeAudio(w, audio, "", backendID, time.Since(start))
}

type ollamaGenerateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream *bool  `json:"stream,omitempty"`
}

type ollamaGenerateResponse struct {
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
	Response      string    `json:"response"`
	Done          bool      `json:"done"`
	TotalDuration int64     `json:"total_duration"` // nanoseconds, as Ollama reports it
}

func (s *Server) handleOllamaGenerate(w http.ResponseWriter, r *http.Request) {
	var req ollamaGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.Stream != nil && *req.Stream {
		badRequest(w, "InputInvalid", "streaming responses are not supported, set stream to false")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(w, "InputEmpty", "prompt is empty")
		return
	}

	start := time.Now()
	reply, backendID, err := s.cfg.Router.GenerateText(r.Context(), llm.Request{
		Messages: []backend.Message{{Role: "user", Content: req.Prompt}},
		System:   req.System,
		Model:    req.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Backend-Used", backendID)
	writeJSON(w, http.StatusOK, ollamaGenerateResponse{
		Model:         req.Model,
		CreatedAt:     time.Now().UTC(),
		Response:      reply,
		Done:          true,
		TotalDuration: time.Since(start).Nanoseconds(),
	})
}

type ollamaTag struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	tags := []ollamaTag{}
	for _, models := range s.cfg.Router.Models(r.Context()) {
		for _, m := range models {
			tags = append(tags, ollamaTag{Name: m, Model: m, ModifiedAt: now})
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"models": tags})
}

// Package httpapi exposes the gateway's HTTP surface: the conversational
// pipeline, single-stage backend calls, background jobs, workflow control
// with live feedback, inventory and status endpoints, and compatibility
// shims for the OpenAI and Ollama API shapes.
//
// Handlers are registered on a stdlib mux using Go 1.22 method patterns.
// JSON errors share one envelope: {"status":"error","error_kind":...,
// "message":...}; audio responses are a bare audio/wav body with
// X-Session-Id, X-Backend-Used and X-Duration headers.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sylvanops/cogate/internal/health"
	"github.com/sylvanops/cogate/internal/jobs"
	"github.com/sylvanops/cogate/internal/pipeline"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/internal/usage"
	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/internal/workflow/research"
)

// maxAudioUpload bounds uploaded audio bodies (32 MiB).
const maxAudioUpload = 32 << 20

// Config wires the server to its collaborators. Router is required;
// everything else degrades to a 404 or an empty response when nil.
type Config struct {
	Router   *router.Router
	Pipeline *pipeline.Manager
	Jobs     *jobs.Manager
	Engine   *workflow.Engine
	Research *research.Builder
	Usage    *usage.Recorder
	Health   *health.Handler

	// Metrics serves GET /metrics (the Prometheus bridge handler).
	Metrics http.Handler

	// Downloader and Trainer build the runners behind job submissions.
	Downloader *jobs.Downloader
	Trainer    *jobs.Trainer

	// ModelsDir and VoicesDir are the install targets for download jobs.
	ModelsDir string
	VoicesDir string

	// Training is the stage list executed by voice training jobs.
	Training []jobs.TrainStage
}

// Server carries the handler state. Create with New and mount with Routes.
type Server struct {
	cfg Config
}

// New creates a Server over cfg.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	// Conversational pipeline.
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/{id}", s.handleChatStatus)
	mux.HandleFunc("POST /chat/{id}/interrupt", s.handleChatInterrupt)

	// Single-stage calls.
	mux.HandleFunc("POST /stt", s.handleSTT)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /llm", s.handleLLM)
	mux.HandleFunc("POST /audio/generate", s.handleAudioGen)

	// Workflows.
	mux.HandleFunc("POST /workflow/research", s.handleResearch)
	mux.HandleFunc("GET /workflow", s.handleWorkflowList)
	mux.HandleFunc("GET /workflow/{id}/status", s.handleWorkflowStatus)
	mux.HandleFunc("GET /workflow/{id}/feedback", s.handleWorkflowFeedback)
	mux.HandleFunc("POST /workflow/{id}/pause", s.handleWorkflowPause)
	mux.HandleFunc("POST /workflow/{id}/resume", s.handleWorkflowResume)
	mux.HandleFunc("POST /workflow/{id}/modify", s.handleWorkflowModify)
	mux.HandleFunc("POST /workflow/{id}/skip", s.handleWorkflowSkip)
	mux.HandleFunc("POST /workflow/{id}/cancel", s.handleWorkflowCancel)

	// Jobs.
	mux.HandleFunc("POST /jobs/download_model", s.handleDownloadModel)
	mux.HandleFunc("POST /jobs/download_voice", s.handleDownloadVoice)
	mux.HandleFunc("POST /jobs/train_voice", s.handleTrainVoice)
	mux.HandleFunc("GET /jobs/status", s.handleJobList)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("DELETE /jobs/cleanup", s.handleJobCleanup)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleJobCancel)
	mux.HandleFunc("DELETE /jobs", s.handleJobCancelAll)

	// Inventory and status.
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /voices", s.handleVoices)

	// Compatibility shims.
	mux.HandleFunc("POST /v1/chat/completions", s.handleOpenAIChat)
	mux.HandleFunc("POST /v1/audio/speech", s.handleOpenAISpeech)
	mux.HandleFunc("POST /api/generate", s.handleOllamaGenerate)
	mux.HandleFunc("GET /api/tags", s.handleOllamaTags)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// Encode errors past this point mean a dead client; nothing to do.
	_ = json.NewEncoder(w).Encode(v)
}

// writeAudio streams a WAV body with the standard metadata headers.
func writeAudio(w http.ResponseWriter, audio []byte, sessionID, backendID string, d time.Duration) {
	w.Header().Set("Content-Type", "audio/wav")
	if sessionID != "" {
		w.Header().Set("X-Session-Id", sessionID)
	}
	if backendID != "" {
		w.Header().Set("X-Backend-Used", backendID)
	}
	w.Header().Set("X-Duration", d.String())
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

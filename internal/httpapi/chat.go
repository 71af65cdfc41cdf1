package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sylvanops/cogate/internal/pipeline"
	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/audiogen"
	"github.com/sylvanops/cogate/pkg/backend/llm"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/backend/tts"
)

// chatRequest is the JSON body of POST /chat. Audio may alternatively be
// uploaded as a multipart "audio" file part alongside the other fields.
type chatRequest struct {
	Text         string `json:"text,omitempty"`
	Audio        string `json:"audio,omitempty"` // base64 WAV
	Model        string `json:"model,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Format       string `json:"format,omitempty"` // text | audio | both
	SessionID    string `json:"session_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Play         bool   `json:"play,omitempty"`
}

// chatResponse is the JSON shape of a text-format pipeline result.
type chatResponse struct {
	SessionID  string                 `json:"session_id"`
	Transcript string                 `json:"transcript,omitempty"`
	Text       string                 `json:"text"`
	Audio      string                 `json:"audio,omitempty"` // base64 WAV, format=both
	Stages     []pipeline.StageRecord `json:"backend_used_per_stage"`
	DurationMS int64                  `json:"duration_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}

	format := req.Format
	if format == "" {
		format = "text"
	}
	switch format {
	case "text", "audio", "both":
	default:
		badRequest(w, "InputInvalid", "format must be text, audio or both")
		return
	}

	var audio []byte
	if req.Audio != "" {
		audio, err = base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			badRequest(w, "InputInvalid", "audio is not valid base64")
			return
		}
	}

	res, err := s.cfg.Pipeline.Run(r.Context(), pipeline.Request{
		SessionID:    req.SessionID,
		Audio:        audio,
		Text:         req.Text,
		Model:        req.Model,
		Voice:        req.Voice,
		SystemPrompt: req.SystemPrompt,
		WantAudio:    format != "text",
		Play:         req.Play,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if format == "audio" {
		writeAudio(w, res.Audio, res.ID, lastBackend(res.Snapshot), res.Duration)
		return
	}

	resp := chatResponse{
		SessionID:  res.ID,
		Transcript: res.Transcript,
		Text:       res.Reply,
		Stages:     res.Stages,
		DurationMS: res.Duration.Milliseconds(),
	}
	if format == "both" {
		resp.Audio = base64.StdEncoding.EncodeToString(res.Audio)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.cfg.Pipeline.Session(r.PathValue("id"))
	if !ok {
		writeError(w, pipeline.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleChatInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.Interrupt(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeChatRequest reads either a JSON body or a multipart form with an
// "audio" file part.
func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
			return req, err
		}
		req.Text = r.FormValue("text")
		req.Model = r.FormValue("model")
		req.Voice = r.FormValue("voice")
		req.Format = r.FormValue("format")
		req.SessionID = r.FormValue("session_id")
		req.SystemPrompt = r.FormValue("system_prompt")
		req.Play = r.FormValue("play") == "true"

		if f, _, err := r.FormFile("audio"); err == nil {
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxAudioUpload))
			if err != nil {
				return req, err
			}
			req.Audio = base64.StdEncoding.EncodeToString(data)
		}
		return req, nil
	}

	err := decodeJSON(r, &req)
	return req, err
}

// lastBackend returns the backend id of the final completed stage, for the
// X-Backend-Used header on audio responses.
func lastBackend(snap pipeline.Snapshot) string {
	for i := len(snap.Stages) - 1; i >= 0; i-- {
		if snap.Stages[i].Backend != "" {
			return snap.Stages[i].Backend
		}
	}
	return ""
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	audio, model, err := decodeAudioUpload(r)
	if err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if len(audio) == 0 {
		badRequest(w, "InputInvalid", "request has no audio")
		return
	}

	start := time.Now()
	transcript, backendID, err := s.cfg.Router.Transcribe(r.Context(), stt.Request{Audio: audio, Model: model})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript":   transcript,
		"backend_used": backendID,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
}

// decodeAudioUpload accepts a raw audio/wav body, a multipart "audio" file
// part, or a JSON body with a base64 "audio" field.
func decodeAudioUpload(r *http.Request) (audio []byte, model string, err error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "audio/"), ct == "application/octet-stream":
		audio, err = io.ReadAll(io.LimitReader(r.Body, maxAudioUpload))
		model = r.URL.Query().Get("model")
		return audio, model, err

	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
			return nil, "", err
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		audio, err = io.ReadAll(io.LimitReader(f, maxAudioUpload))
		return audio, r.FormValue("model"), err

	default:
		var body struct {
			Audio string `json:"audio"`
			Model string `json:"model,omitempty"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return nil, "", err
		}
		audio, err = base64.StdEncoding.DecodeString(body.Audio)
		return audio, body.Model, err
	}
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string  `json:"text"`
		Voice string  `json:"voice,omitempty"`
		Speed float64 `json:"speed,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(w, "InputEmpty", "text is empty")
		return
	}

	start := time.Now()
	audio, backendID, err := s.cfg.Router.Synthesize(r.Context(), tts.Request{
		Text:  pipeline.Sanitize(req.Text),
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeAudio(w, audio, "", backendID, time.Since(start))
}

func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt      string  `json:"prompt"`
		Model       string  `json:"model,omitempty"`
		System      string  `json:"system,omitempty"`
		Temperature float64 `json:"temperature,omitempty"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(w, "InputEmpty", "prompt is empty")
		return
	}

	start := time.Now()
	reply, backendID, err := s.cfg.Router.GenerateText(r.Context(), llm.Request{
		Messages:    []backend.Message{{Role: "user", Content: req.Prompt}},
		System:      req.System,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":     reply,
		"backend_used": backendID,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAudioGen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   string  `json:"prompt"`
		Duration float64 `json:"duration,omitempty"`
		Model    string  `json:"model,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(w, "InputEmpty", "prompt is empty")
		return
	}

	start := time.Now()
	audio, backendID, err := s.cfg.Router.GenerateAudio(r.Context(), audiogen.Request{
		Prompt:   req.Prompt,
		Duration: req.Duration,
		Model:    req.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeAudio(w, audio, "", backendID, time.Since(start))
}

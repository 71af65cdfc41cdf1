package httpapi

import (
	"bytes"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sylvanops/cogate/pkg/backend"
)

// multipartAudio builds a multipart body with an "audio" file part plus the
// given form fields, returning the body and its Content-Type.
func multipartAudio(t *testing.T, audio string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "input.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(audio)); err != nil {
		t.Fatalf("write audio part: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestChat_Text(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"text": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[chatResponse](t, rec)
	if resp.Text != "mock reply" {
		t.Errorf("text = %q, want mock reply", resp.Text)
	}
	if resp.SessionID == "" {
		t.Error("session_id is empty")
	}
	if len(resp.Stages) == 0 || resp.Stages[len(resp.Stages)-1].Backend == "" {
		t.Errorf("stages = %+v, want at least the llm stage with a backend", resp.Stages)
	}
}

func TestChat_AudioResponse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"text": "hi", "format": "audio"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("RIFF-fake-wav")) {
		t.Errorf("body = %q, want the synthesized audio", rec.Body.Bytes())
	}
	if got := rec.Header().Get("X-Backend-Used"); got != "tts-1" {
		t.Errorf("X-Backend-Used = %q, want tts-1", got)
	}
	if rec.Header().Get("X-Session-Id") == "" {
		t.Error("X-Session-Id is empty")
	}
	if rec.Header().Get("X-Duration") == "" {
		t.Error("X-Duration is empty")
	}
}

func TestChat_AudioInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	audio := base64.StdEncoding.EncodeToString([]byte("fake-wav"))
	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"audio": audio, "format": "both"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[chatResponse](t, rec)
	if resp.Transcript != "spoken words" {
		t.Errorf("transcript = %q, want the mock transcript", resp.Transcript)
	}
	if resp.Audio == "" {
		t.Error("format=both returned no audio")
	}
	if got, _ := base64.StdEncoding.DecodeString(resp.Audio); !bytes.Equal(got, []byte("RIFF-fake-wav")) {
		t.Errorf("audio = %q, want the synthesized bytes", got)
	}
}

func TestChat_Multipart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body, ct := multipartAudio(t, "fake-wav", map[string]string{"format": "text"})
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[chatResponse](t, rec)
	if resp.Transcript != "spoken words" {
		t.Errorf("transcript = %q, want the mock transcript", resp.Transcript)
	}
}

func TestChat_InvalidFormat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"text": "hi", "format": "telepathy"})
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestChat_NoInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{})
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestChat_UnknownField(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"text": "hi", "speak": true})
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestChat_StatusAfterRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat", map[string]any{"text": "hi", "session_id": "s-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.doJSON(t, http.MethodGet, "/chat/s-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status lookup = %d: %s", rec.Code, rec.Body.String())
	}
	snap := decodeBody[struct {
		SessionID string `json:"session_id"`
		Stage     string `json:"stage"`
	}](t, rec)
	if snap.SessionID != "s-1" || snap.Stage != "done" {
		t.Errorf("snapshot = %+v, want s-1/done", snap)
	}
}

func TestChat_InterruptUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/chat/ghost/interrupt", nil)
	wantError(t, rec, http.StatusNotFound, "NotFound")
}

func TestSTT_RawBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/stt?model=tiny", bytes.NewReader([]byte("fake-wav")))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		Transcript  string `json:"transcript"`
		BackendUsed string `json:"backend_used"`
	}](t, rec)
	if resp.Transcript != "spoken words" || resp.BackendUsed != "stt-1" {
		t.Errorf("response = %+v, want mock transcript from stt-1", resp)
	}

	calls := env.stt.Calls()
	if len(calls) != 1 || calls[0].Req.Model != "tiny" {
		t.Fatalf("transcribe calls = %+v, want one call with model tiny", calls)
	}
}

func TestSTT_JSONBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	audio := base64.StdEncoding.EncodeToString([]byte("fake-wav"))
	rec := env.doJSON(t, http.MethodPost, "/stt", map[string]any{"audio": audio})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSTT_NoAudio(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/stt", map[string]any{"audio": ""})
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestTTS(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/tts", map[string]any{"text": "Use **bold** sparingly", "voice": "ava"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}

	calls := env.tts.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req.Text; bytes.ContainsRune([]byte(got), '*') {
		t.Errorf("synthesized text %q still contains markdown", got)
	}
	if calls[0].Req.Voice != "ava" {
		t.Errorf("voice = %q, want ava", calls[0].Req.Voice)
	}
}

func TestTTS_EmptyText(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/tts", map[string]any{"text": "   "})
	wantError(t, rec, http.StatusBadRequest, "InputEmpty")
}

func TestTTS_UnknownVoice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tts.Err = backend.VoiceNotFound("tts-1", "voice %q is not installed", "ghost")

	rec := env.doJSON(t, http.MethodPost, "/tts", map[string]any{"text": "hi", "voice": "ghost"})
	wantError(t, rec, http.StatusNotFound, "VoiceNotFound")
}

func TestLLM(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/llm", map[string]any{"prompt": "hi", "system": "be terse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		Response    string `json:"response"`
		BackendUsed string `json:"backend_used"`
	}](t, rec)
	if resp.Response != "mock reply" || resp.BackendUsed != "llm-1" {
		t.Errorf("response = %+v, want mock reply from llm-1", resp)
	}

	calls := env.llm.Calls()
	if len(calls) != 1 || calls[0].Req.System != "be terse" {
		t.Fatalf("generate calls = %+v, want one call with the system prompt", calls)
	}
}

func TestLLM_EmptyPrompt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/llm", map[string]any{"prompt": ""})
	wantError(t, rec, http.StatusBadRequest, "InputEmpty")
}

func TestLLM_UnknownModel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.llm.Err = backend.ModelNotFound("llm-1", "model %q is not served", "ghost-7b")

	rec := env.doJSON(t, http.MethodPost, "/llm", map[string]any{"prompt": "hi", "model": "ghost-7b"})
	wantError(t, rec, http.StatusNotFound, "ModelNotFound")
}

func TestAudioGenerate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/audio/generate", map[string]any{"prompt": "soft rain", "duration": 4.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("RIFF-fake-music")) {
		t.Errorf("body = %q, want the generated audio", rec.Body.Bytes())
	}
	if got := rec.Header().Get("X-Backend-Used"); got != "audio-1" {
		t.Errorf("X-Backend-Used = %q, want audio-1", got)
	}
}

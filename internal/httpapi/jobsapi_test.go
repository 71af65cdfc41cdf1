package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/sylvanops/cogate/internal/jobs"
)

// fileServer serves fixed bodies for download jobs.
func fileServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitForJob(t *testing.T, m *jobs.Manager, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return job
}

func TestDownloadModel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	files := fileServer(t, map[string]string{"/tiny.bin": "model-bytes"})

	rec := env.doJSON(t, http.MethodPost, "/jobs/download_model", map[string]any{
		"model_id": files.URL + "/tiny.bin",
		"name":     "tiny.bin",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		JobID string `json:"job_id"`
	}](t, rec)
	if resp.JobID == "" {
		t.Fatal("job_id is empty")
	}

	job := waitForJob(t, env.jobs, resp.JobID)
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s (%s), want completed", job.Status, job.Error)
	}

	rec = env.doJSON(t, http.MethodGet, "/jobs/"+resp.JobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status lookup = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[jobs.Job](t, rec)
	if got.Kind != jobs.KindDownloadModel || got.Name != "tiny.bin" {
		t.Errorf("job = %+v, want download_model tiny.bin", got)
	}
}

func TestDownloadModel_MissingFields(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/jobs/download_model", map[string]any{"name": "tiny.bin"})
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestDownloadModel_DuplicateConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	release := make(chan struct{})
	blocked := func(ctx context.Context, h *jobs.Handle) error {
		<-release
		return nil
	}
	if _, err := env.jobs.Submit(jobs.KindDownloadModel, "tiny.bin", blocked); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer close(release)

	rec := env.doJSON(t, http.MethodPost, "/jobs/download_model", map[string]any{
		"model_id": "http://unused.invalid/tiny.bin",
		"name":     "tiny.bin",
	})
	wantError(t, rec, http.StatusConflict, "JobAlreadyExists")
}

func TestDownloadVoice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	files := fileServer(t, map[string]string{
		"/ava.onnx":      "voice-blob",
		"/ava.onnx.json": `{"sample_rate":22050}`,
	})

	rec := env.doJSON(t, http.MethodPost, "/jobs/download_voice", map[string]any{
		"voice_name": "ava",
		"model_url":  files.URL + "/ava.onnx",
		"config_url": files.URL + "/ava.onnx.json",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		JobID string `json:"job_id"`
	}](t, rec)

	job := waitForJob(t, env.jobs, resp.JobID)
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s (%s), want completed", job.Status, job.Error)
	}
}

func TestTrainVoice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/jobs/train_voice", map[string]any{
		"voice_name": "ava",
		"text":       "the quick brown fox",
		"audio":      "", // transcript only
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		JobID string `json:"job_id"`
	}](t, rec)

	job := waitForJob(t, env.jobs, resp.JobID)
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s (%s), want completed", job.Status, job.Error)
	}
}

func TestTrainVoice_WritesSamples(t *testing.T) {
	t.Parallel()

	voicesDir := t.TempDir()
	srv := New(Config{VoicesDir: voicesDir})
	dir, err := srv.writeTrainingSamples("ava", "hello there", "")
	if err != nil {
		t.Fatalf("writeTrainingSamples: %v", err)
	}
	if dir != filepath.Join(voicesDir, "training", "ava") {
		t.Errorf("dir = %q, want it under training/ava", dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "hello there" {
		t.Errorf("transcript = %q", data)
	}
}

func TestSubstituteStages(t *testing.T) {
	t.Parallel()

	in := []jobs.TrainStage{{Name: "prep", Cmd: "prep.sh", Args: []string{"--voice", "{voice}", "--in", "{samples}"}}}
	out := substituteStages(in, "ava", "/data/samples")
	want := []string{"--voice", "ava", "--in", "/data/samples"}
	for i, a := range out[0].Args {
		if a != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, a, want[i])
		}
	}
	if in[0].Args[1] != "{voice}" {
		t.Error("substituteStages mutated its input")
	}
}

func TestJobList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	noop := func(ctx context.Context, h *jobs.Handle) error { return nil }
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		job, err := env.jobs.Submit(jobs.KindDownloadModel, name, noop)
		if err != nil {
			t.Fatalf("Submit(%s): %v", name, err)
		}
		waitForJob(t, env.jobs, job.ID)
	}

	rec := env.doJSON(t, http.MethodGet, "/jobs/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[[]jobs.Job](t, rec); len(got) != 3 {
		t.Errorf("jobs = %d, want 3", len(got))
	}

	rec = env.doJSON(t, http.MethodGet, "/jobs/status?limit=1", nil)
	if got := decodeBody[[]jobs.Job](t, rec); len(got) != 1 {
		t.Errorf("limited jobs = %d, want 1", len(got))
	}

	rec = env.doJSON(t, http.MethodGet, "/jobs/status?limit=soon", nil)
	wantError(t, rec, http.StatusBadRequest, "InputInvalid")
}

func TestJobCancel_RequiresConfirm(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	release := make(chan struct{})
	blocked := func(ctx context.Context, h *jobs.Handle) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	job, err := env.jobs.Submit(jobs.KindDownloadModel, "big.bin", blocked)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer close(release)

	rec := env.doJSON(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	wantError(t, rec, http.StatusBadRequest, "JobCancelRefused")

	rec = env.doJSON(t, http.MethodDelete, "/jobs/"+job.ID+"?confirm=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirmed cancel = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[jobs.Job](t, rec)
	if !got.CancelRequested {
		t.Error("cancel_requested not set after confirmed cancel")
	}
}

func TestJobCancelAll(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	release := make(chan struct{})
	blocked := func(ctx context.Context, h *jobs.Handle) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var submitted []string
	for _, name := range []string{"a.bin", "b.bin"} {
		job, err := env.jobs.Submit(jobs.KindDownloadModel, name, blocked)
		if err != nil {
			t.Fatalf("Submit(%s): %v", name, err)
		}
		submitted = append(submitted, job.ID)
	}
	defer close(release)
	sort.Strings(submitted)

	rec := env.doJSON(t, http.MethodDelete, "/jobs?kind=download_model&confirm=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string][]string](t, rec)
	if !slices.Equal(resp["cancelled"], submitted) {
		t.Errorf("cancelled = %v, want %v", resp["cancelled"], submitted)
	}
}

func TestJobCleanup_RouteWinsOverID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	noop := func(ctx context.Context, h *jobs.Handle) error { return nil }
	job, err := env.jobs.Submit(jobs.KindDownloadModel, "a.bin", noop)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForJob(t, env.jobs, job.ID)

	rec := env.doJSON(t, http.MethodDelete, "/jobs/cleanup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]int](t, rec)
	if resp["removed_count"] != 1 {
		t.Errorf("removed_count = %d, want 1", resp["removed_count"])
	}
}

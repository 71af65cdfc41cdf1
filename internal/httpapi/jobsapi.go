package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sylvanops/cogate/internal/jobs"
)

func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID string `json:"model_id"` // download URL of the model file
		Name    string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.ModelID == "" || req.Name == "" {
		badRequest(w, "InputInvalid", "model_id and name are required")
		return
	}

	dest := filepath.Join(s.cfg.ModelsDir, filepath.Base(req.Name))
	job, err := s.cfg.Jobs.Submit(jobs.KindDownloadModel, req.Name,
		s.cfg.Downloader.DownloadModel(req.ModelID, dest))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleDownloadVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoiceName string `json:"voice_name"`
		ModelURL  string `json:"model_url"`
		ConfigURL string `json:"config_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.VoiceName == "" || req.ModelURL == "" || req.ConfigURL == "" {
		badRequest(w, "InputInvalid", "voice_name, model_url and config_url are required")
		return
	}

	name := filepath.Base(req.VoiceName)
	blobDest := filepath.Join(s.cfg.VoicesDir, name+".onnx")
	sidecarDest := filepath.Join(s.cfg.VoicesDir, name+".onnx.json")
	job, err := s.cfg.Jobs.Submit(jobs.KindDownloadVoice, req.VoiceName,
		s.cfg.Downloader.DownloadVoice(req.ModelURL, blobDest, req.ConfigURL, sidecarDest))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleTrainVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoiceName string `json:"voice_name"`
		Text      string `json:"text"`
		Audio     string `json:"audio"` // base64 WAV of recorded samples
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.VoiceName == "" {
		badRequest(w, "InputInvalid", "voice_name is required")
		return
	}
	if len(s.cfg.Training) == 0 {
		badRequest(w, "InputInvalid", "no training stages configured")
		return
	}

	samplesDir, err := s.writeTrainingSamples(req.VoiceName, req.Text, req.Audio)
	if err != nil {
		writeError(w, fmt.Errorf("prepare training samples: %w", err))
		return
	}

	stages := substituteStages(s.cfg.Training, req.VoiceName, samplesDir)
	job, err := s.cfg.Jobs.Submit(jobs.KindTrainVoice, req.VoiceName,
		s.cfg.Trainer.TrainVoice(stages))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// writeTrainingSamples lays out the uploaded recording and its transcript
// under the voices dir for the training subprocesses to pick up.
func (s *Server) writeTrainingSamples(voice, text, audioB64 string) (string, error) {
	dir := filepath.Join(s.cfg.VoicesDir, "training", filepath.Base(voice))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if audioB64 != "" {
		audio, err := base64.StdEncoding.DecodeString(audioB64)
		if err != nil {
			return "", fmt.Errorf("audio is not valid base64: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "samples.wav"), audio, 0o644); err != nil {
			return "", err
		}
	}
	if text != "" {
		if err := os.WriteFile(filepath.Join(dir, "transcript.txt"), []byte(text), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// substituteStages expands the {voice} and {samples} placeholders in the
// configured stage arguments.
func substituteStages(stages []jobs.TrainStage, voice, samplesDir string) []jobs.TrainStage {
	rep := strings.NewReplacer("{voice}", voice, "{samples}", samplesDir)
	out := make([]jobs.TrainStage, len(stages))
	for i, st := range stages {
		args := make([]string, len(st.Args))
		for j, a := range st.Args {
			args[j] = rep.Replace(a)
		}
		out[i] = jobs.TrainStage{Name: st.Name, Cmd: st.Cmd, Args: args}
	}
	return out
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.Filter{
		Kind:   jobs.Kind(q.Get("kind")),
		Status: jobs.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "InputInvalid", "limit must be an integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "InputInvalid", "offset must be an integer")
			return
		}
		f.Offset = n
	}

	list := s.cfg.Jobs.List(f)
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Jobs.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	job, err := s.cfg.Jobs.Cancel(r.PathValue("id"), confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancelAll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	confirm := q.Get("confirm") == "true"
	ids, err := s.cfg.Jobs.CancelAll(jobs.Kind(q.Get("kind")), confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"cancelled": ids})
}

func (s *Server) handleJobCleanup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed_count": s.cfg.Jobs.Cleanup()})
}

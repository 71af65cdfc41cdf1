package httpapi

import (
	"net/http"

	"github.com/sylvanops/cogate/internal/jobs"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/internal/usage"
	"github.com/sylvanops/cogate/internal/workflow"
)

// statusResponse is the GET /status body: backend health plus usage
// aggregates and the live job and workflow inventories.
type statusResponse struct {
	Backends     []router.Descriptor  `json:"backends"`
	Models       []usage.ModelStats   `json:"models"`
	FastestModel string               `json:"fastest_model,omitempty"`
	BackendUsage []usage.BackendStats `json:"backend_usage"`
	ActiveJobs   int                  `json:"active_jobs"`
	ActiveFlows  int                  `json:"active_workflows"`
	TotalJobs    int                  `json:"total_jobs"`
	TotalFlows   int                  `json:"total_workflows"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Backends:     s.cfg.Router.Descriptors(),
		Models:       []usage.ModelStats{},
		BackendUsage: []usage.BackendStats{},
	}
	if resp.Backends == nil {
		resp.Backends = []router.Descriptor{}
	}

	if s.cfg.Usage != nil {
		if stats := s.cfg.Usage.ModelStats(); stats != nil {
			resp.Models = stats
		}
		if stats := s.cfg.Usage.BackendStats(); stats != nil {
			resp.BackendUsage = stats
		}
		resp.FastestModel = s.cfg.Usage.FastestModel()
	}

	if s.cfg.Jobs != nil {
		all := s.cfg.Jobs.List(jobs.Filter{})
		resp.TotalJobs = len(all)
		for _, j := range all {
			if j.Status == jobs.StatusQueued || j.Status == jobs.StatusRunning {
				resp.ActiveJobs++
			}
		}
	}

	if s.cfg.Engine != nil {
		flows := s.cfg.Engine.List()
		resp.TotalFlows = len(flows)
		for _, f := range flows {
			if f.Status == workflow.StatusRunning || f.Status == workflow.StatusPaused {
				resp.ActiveFlows++
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.cfg.Router.Models(r.Context())})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": s.cfg.Router.Voices(r.Context())})
}

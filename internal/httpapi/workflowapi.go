package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/internal/workflow/research"
)

// researchRequest is the body of POST /workflow/research.
type researchRequest struct {
	Query        string          `json:"query"`
	WorkflowType string          `json:"workflow_type,omitempty"`
	Async        bool            `json:"async,omitempty"`
	Options      researchOptions `json:"options,omitempty"`
}

type researchOptions struct {
	Model     string `json:"model,omitempty"`
	Direction string `json:"direction,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "InputEmpty", "query is empty")
		return
	}
	if req.WorkflowType != "" && req.WorkflowType != "deep_research" {
		badRequest(w, "InputInvalid", "unknown workflow_type "+strconv.Quote(req.WorkflowType))
		return
	}

	params := make(map[string]any)
	if req.Options.Model != "" {
		params["model"] = req.Options.Model
	}
	if req.Options.Direction != "" {
		params["direction"] = req.Options.Direction
	}

	// The execution must outlive the submitting request so status polling
	// and feedback subscribers keep working.
	x, err := s.cfg.Engine.Start(context.WithoutCancel(r.Context()),
		s.cfg.Research.Definition(), req.Query, params)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Async {
		writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": x.ID()})
		return
	}

	select {
	case <-x.Done():
	case <-r.Context().Done():
		// The client went away; the run keeps going and stays queryable.
		writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": x.ID()})
		return
	}

	if err := x.Err(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":          x.Result().Output(research.StepFinalize),
		"execution_summary": x.Snapshot(),
	})
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, _ *http.Request) {
	list := s.cfg.Engine.List()
	if list == nil {
		list = []workflow.Snapshot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, x.Snapshot())
}

func (s *Server) handleWorkflowPause(w http.ResponseWriter, r *http.Request) {
	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	x.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	x.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkflowCancel(w http.ResponseWriter, r *http.Request) {
	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	x.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkflowModify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind      string         `json:"kind"`
		Label     string         `json:"label,omitempty"`
		Params    map[string]any `json:"params,omitempty"`
		Direction string         `json:"direction,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	kind := workflow.ModType(req.Kind)
	switch kind {
	case workflow.ModParameters, workflow.ModDirection, workflow.ModSkip, workflow.ModRetry:
	default:
		badRequest(w, "InputInvalid", "kind must be parameters, direction, skip or retry")
		return
	}

	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	x.Modify(workflow.Modification{
		Type:       kind,
		StepLabel:  req.Label,
		Parameters: req.Params,
		Direction:  req.Direction,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkflowSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label  string `json:"label"`
		Reason string `json:"reason,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "InputInvalid", err.Error())
		return
	}
	if req.Label == "" {
		badRequest(w, "InputInvalid", "label is required")
		return
	}

	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	x.Modify(workflow.Modification{Type: workflow.ModSkip, StepLabel: req.Label})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

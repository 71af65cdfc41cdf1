package httpapi

import (
	"errors"
	"net/http"

	"github.com/sylvanops/cogate/internal/jobs"
	"github.com/sylvanops/cogate/internal/pipeline"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/pkg/backend"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// writeError maps err onto the error taxonomy and writes the envelope.
func writeError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	writeJSON(w, status, errorBody{Status: "error", ErrorKind: kind, Message: err.Error()})
}

// badRequest writes a 400 with an explicit kind, for decode-level failures
// that never reach a typed error.
func badRequest(w http.ResponseWriter, kind, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", ErrorKind: kind, Message: msg})
}

// classify maps an error to its (error_kind, HTTP status) pair. Backend
// taxonomy kinds pass through verbatim so clients see the same
// classification the router acted on.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, pipeline.ErrNoInput):
		return "InputInvalid", http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInputEmpty):
		return "InputEmpty", http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSessionActive):
		return "SessionActive", http.StatusConflict
	case errors.Is(err, pipeline.ErrSessionNotFound),
		errors.Is(err, workflow.ErrExecutionNotFound):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, jobs.ErrJobNotFound):
		return "JobNotFound", http.StatusNotFound
	case errors.Is(err, pipeline.ErrCancelled),
		errors.Is(err, workflow.ErrCancelled):
		return "Cancelled", http.StatusConflict
	case errors.Is(err, jobs.ErrJobExists):
		return "JobAlreadyExists", http.StatusConflict
	case errors.Is(err, jobs.ErrCancelRefused):
		return "JobCancelRefused", http.StatusBadRequest
	case errors.Is(err, workflow.ErrStepFailed):
		return "StepFailed", http.StatusInternalServerError
	case errors.Is(err, router.ErrNoBackend):
		return string(backend.KindUnavailable), http.StatusServiceUnavailable
	}

	if kind, ok := backend.KindOf(err); ok {
		switch kind {
		case backend.KindUnavailable:
			return string(kind), http.StatusServiceUnavailable
		case backend.KindTimeout:
			return string(kind), http.StatusGatewayTimeout
		case backend.KindRejected:
			return string(kind), http.StatusBadRequest
		case backend.KindVoiceNotFound, backend.KindModelNotFound:
			return string(kind), http.StatusNotFound
		case backend.KindBusy:
			return string(kind), http.StatusConflict
		case backend.KindProtocol:
			return string(kind), http.StatusBadGateway
		}
	}

	return "Internal", http.StatusInternalServerError
}

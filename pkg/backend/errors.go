package backend

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an adapter failure. The router bases its fallback decision
// solely on the kind: Unavailable and Timeout may fall back, Rejected never
// does, Protocol marks the backend unhealthy and then may fall back.
type Kind string

const (
	// KindUnavailable means the backend did not respond at all (connection
	// refused, DNS failure, or an open health-check cooldown).
	KindUnavailable Kind = "BackendUnavailable"

	// KindTimeout means the backend exceeded the per-call deadline.
	KindTimeout Kind = "BackendTimeout"

	// KindRejected means the backend explicitly refused the request. The
	// request itself is at fault; trying another backend would only hide a
	// client-side error.
	KindRejected Kind = "BackendRejected"

	// KindProtocol means the backend replied with an unparseable or
	// unexpected shape.
	KindProtocol Kind = "BackendProtocol"

	// KindBusy means the adapter refused because a conflicting model load is
	// in flight.
	KindBusy Kind = "BackendBusy"

	// KindVoiceNotFound means the request named a voice the backend does not
	// serve. Like Rejected, the router never falls back on it.
	KindVoiceNotFound Kind = "VoiceNotFound"

	// KindModelNotFound means the request named a model the backend does not
	// serve. Like Rejected, the router never falls back on it.
	KindModelNotFound Kind = "ModelNotFound"
)

// Error is the typed failure returned by every adapter. It wraps an optional
// cause so errors.Is/As keep working through the classification layer.
type Error struct {
	// Kind is the failure classification driving routing decisions.
	Kind Kind

	// Backend names the adapter that produced the failure (e.g. "ollama").
	Backend string

	// Message is a short human-readable description.
	Message string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy of e carrying err as its wrapped cause.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// Unavailable constructs a KindUnavailable error.
func Unavailable(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// Timeout constructs a KindTimeout error.
func Timeout(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// Rejected constructs a KindRejected error.
func Rejected(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindRejected, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// Protocol constructs a KindProtocol error.
func Protocol(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// Busy constructs a KindBusy error.
func Busy(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindBusy, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// VoiceNotFound constructs a KindVoiceNotFound error.
func VoiceNotFound(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindVoiceNotFound, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// ModelNotFound constructs a KindModelNotFound error.
func ModelNotFound(backendID, format string, args ...any) *Error {
	return &Error{Kind: KindModelNotFound, Backend: backendID, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err. Context deadline and
// cancellation errors map to KindTimeout so adapters may return them
// unwrapped. The second return is false when err carries no classification,
// in which case the caller should treat it as KindProtocol (an adapter
// returned something it never declared).
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	return "", false
}

// Retryable reports whether err is a failure the router may answer by trying
// the next backend in the policy chain.
func Retryable(err error) bool {
	switch k, ok := KindOf(err); {
	case !ok:
		return false
	case k == KindUnavailable, k == KindTimeout, k == KindProtocol:
		return true
	}
	return false
}

// Classify wraps err from a plain HTTP/transport call into an *Error using a
// status-independent heuristic: context deadline → Timeout, everything else →
// Unavailable. Adapters use it for transport-level failures where no response
// was received.
func Classify(backendID string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(backendID, "deadline exceeded").WithCause(err)
	}
	return Unavailable(backendID, "%v", err).WithCause(err)
}

// Package observe provides observability primitives for the gateway:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware tying them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge (see [InitProvider]) so the standard /metrics
// endpoint keeps working. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all gateway metrics.
const meterName = "github.com/sylvanops/cogate"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use.
type Metrics struct {
	// BackendDuration tracks one backend call. Attributes: capability,
	// backend, outcome.
	BackendDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end conversational pipeline latency.
	PipelineDuration metric.Float64Histogram

	// StageDuration tracks one pipeline stage. Attribute: stage.
	StageDuration metric.Float64Histogram

	// WorkflowStepDuration tracks one workflow step. Attributes: workflow,
	// step, status.
	WorkflowStepDuration metric.Float64Histogram

	// BackendRequests counts backend calls. Attributes: capability,
	// backend, outcome.
	BackendRequests metric.Int64Counter

	// BackendFallbacks counts fallback activations. Attributes:
	// capability, from, to.
	BackendFallbacks metric.Int64Counter

	// JobTransitions counts background job status changes. Attributes:
	// kind, status.
	JobTransitions metric.Int64Counter

	// ActiveSessions tracks live pipeline sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveWorkflows tracks running workflow executions.
	ActiveWorkflows metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds, sized for
// interactive backend calls up to long generation runs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation
// fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendDuration, err = m.Float64Histogram("cogate.backend.duration",
		metric.WithDescription("Latency of one backend call by capability, backend and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("cogate.pipeline.duration",
		metric.WithDescription("End-to-end conversational pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("cogate.pipeline.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WorkflowStepDuration, err = m.Float64Histogram("cogate.workflow.step.duration",
		metric.WithDescription("Latency of one workflow step by workflow, step and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.BackendRequests, err = m.Int64Counter("cogate.backend.requests",
		metric.WithDescription("Total backend calls by capability, backend and outcome."),
	); err != nil {
		return nil, err
	}
	if met.BackendFallbacks, err = m.Int64Counter("cogate.backend.fallbacks",
		metric.WithDescription("Total fallback activations by capability."),
	); err != nil {
		return nil, err
	}
	if met.JobTransitions, err = m.Int64Counter("cogate.job.transitions",
		metric.WithDescription("Total background job status changes by kind and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("cogate.active_sessions",
		metric.WithDescription("Number of live pipeline sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkflows, err = m.Int64UpDownCounter("cogate.active_workflows",
		metric.WithDescription("Number of running workflow executions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cogate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen
// with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity
// at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackendCall records one backend call's counter and histogram with
// the standard attribute set.
//
// All Record and Add helpers are nil-receiver safe so instrumented
// components need no metrics wiring in tests.
func (m *Metrics) RecordBackendCall(ctx context.Context, capability, backendID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("backend", backendID),
		attribute.String("outcome", outcome),
	)
	m.BackendRequests.Add(ctx, 1, attrs)
	m.BackendDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFallback records a fallback activation from one backend to the
// next.
func (m *Metrics) RecordFallback(ctx context.Context, capability, from, to string) {
	if m == nil {
		return
	}
	m.BackendFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordWorkflowStep records the duration and outcome of one workflow
// step.
func (m *Metrics) RecordWorkflowStep(ctx context.Context, workflowName, step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowStepDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("workflow", workflowName),
			attribute.String("step", step),
			attribute.String("status", status),
		),
	)
}

// RecordJobTransition records a background job status change.
func (m *Metrics) RecordJobTransition(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.JobTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordPipeline records one end-to-end conversational pipeline run.
func (m *Metrics) RecordPipeline(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.Record(ctx, d.Seconds())
}

// AddActiveSessions moves the live-session gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// AddActiveWorkflows moves the running-workflow gauge by delta.
func (m *Metrics) AddActiveWorkflows(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Add(ctx, delta)
}

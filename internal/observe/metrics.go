// Package observe provides application-wide observability primitives for
// voicegate: OpenTelemetry metrics and HTTP middleware that records them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicegate metrics.
const meterName = "github.com/adacab/voicegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// QuoteLatency tracks time from request_quote to quote delivery.
	QuoteLatency metric.Float64Histogram

	// CallDuration tracks total call length.
	CallDuration metric.Float64Histogram

	// WebhookDuration tracks dispatch webhook round-trip latency.
	WebhookDuration metric.Float64Histogram

	// --- Counters ---

	// Calls counts calls by terminal status. Use with attribute:
	//   attribute.String("status", ...)
	Calls metric.Int64Counter

	// ToolCalls counts model tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// BargeIns counts caller interruptions that cancelled a response.
	BargeIns metric.Int64Counter

	// PhantomTranscripts counts user transcripts rejected as hallucinated.
	PhantomTranscripts metric.Int64Counter

	// GuardTrips counts assistant responses cancelled by an
	// anti-hallucination guard. Use with attribute:
	//   attribute.String("guard", ...)
	GuardTrips metric.Int64Counter

	// WebhookErrors counts failed dispatch webhook exchanges.
	WebhookErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// dialog latencies: webhook round trips in the sub-second range up to whole
// calls of several minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.QuoteLatency, err = m.Float64Histogram("voicegate.quote.latency",
		metric.WithDescription("Time from quote request to quote delivery."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voicegate.call.duration",
		metric.WithDescription("Total call duration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WebhookDuration, err = m.Float64Histogram("voicegate.webhook.duration",
		metric.WithDescription("Dispatch webhook round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Calls, err = m.Int64Counter("voicegate.calls",
		metric.WithDescription("Total calls by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicegate.tool.calls",
		metric.WithDescription("Total model tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicegate.barge_ins",
		metric.WithDescription("Caller interruptions that cancelled an assistant response."),
	); err != nil {
		return nil, err
	}
	if met.PhantomTranscripts, err = m.Int64Counter("voicegate.phantom_transcripts",
		metric.WithDescription("User transcripts rejected as hallucinated."),
	); err != nil {
		return nil, err
	}
	if met.GuardTrips, err = m.Int64Counter("voicegate.guard_trips",
		metric.WithDescription("Assistant responses cancelled by an anti-hallucination guard."),
	); err != nil {
		return nil, err
	}
	if met.WebhookErrors, err = m.Int64Counter("voicegate.webhook.errors",
		metric.WithDescription("Failed dispatch webhook exchanges."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voicegate.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicegate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCallEnd records a call completion: the terminal status counter and
// the duration histogram.
func (m *Metrics) RecordCallEnd(ctx context.Context, status string, seconds float64) {
	m.Calls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.CallDuration.Record(ctx, seconds)
}

// RecordGuardTrip records an anti-hallucination guard firing.
func (m *Metrics) RecordGuardTrip(ctx context.Context, guard string) {
	m.GuardTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("guard", guard)))
}

// Package observe provides application-wide observability primitives for
// Trunkline: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Trunkline metrics.
const meterName = "github.com/trunkline/trunkline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Gauges ---

	// ActiveSessions tracks the number of live bridge sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Counters ---

	// FramesForwarded counts audio frames relayed through the bridge. Use
	// with attribute: attribute.String("direction", ...).
	FramesForwarded metric.Int64Counter

	// TranscodeErrors counts frames dropped by a codec or framing failure.
	// Use with attribute: attribute.String("direction", ...).
	TranscodeErrors metric.Int64Counter

	// CallsPlaced counts outbound call attempts. Use with attribute:
	//   attribute.String("status", ...)
	CallsPlaced metric.Int64Counter

	// --- Histograms ---

	// SessionDuration tracks how long a bridge session stayed up.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// phone-call durations.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("trunkline.active_sessions",
		metric.WithDescription("Number of live bridge sessions."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesForwarded, err = m.Int64Counter("trunkline.frames.forwarded",
		metric.WithDescription("Audio frames relayed through the bridge by direction."),
	); err != nil {
		return nil, err
	}
	if met.TranscodeErrors, err = m.Int64Counter("trunkline.transcode.errors",
		metric.WithDescription("Frames dropped by codec or framing failures by direction."),
	); err != nil {
		return nil, err
	}
	if met.CallsPlaced, err = m.Int64Counter("trunkline.calls.placed",
		metric.WithDescription("Outbound call attempts by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("trunkline.session.duration",
		metric.WithDescription("Bridge session lifetime."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("trunkline.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCallPlaced is a convenience method that records an outbound call
// attempt with its status.
func (m *Metrics) RecordCallPlaced(ctx context.Context, status string) {
	m.CallsPlaced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

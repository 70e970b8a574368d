// Package observe provides application-wide observability primitives for
// the gateway: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/FutureUnreal/WhaleWhisper"

// Metrics holds all OpenTelemetry metric instruments for the gateway. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Hub (duplex socket) counters ---

	// HubConnections counts peers that completed the websocket handshake.
	HubConnections metric.Int64Counter

	// HubDisconnections counts peers whose connection closed, for any reason.
	HubDisconnections metric.Int64Counter

	// HubAuthFailures counts rejected module.authenticate attempts.
	HubAuthFailures metric.Int64Counter

	// ActiveConnections tracks the number of currently connected peers.
	ActiveConnections metric.Int64UpDownCounter

	// --- Provider adapter latency/errors ---

	// ProviderCallDuration tracks LLM provider call latency. Use with
	// attribute.String("provider", ...).
	ProviderCallDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider call failures by provider id.
	ProviderErrors metric.Int64Counter

	// --- Dispatcher ---

	// DispatcherErrors counts error events the dispatcher emitted, by
	// taxonomy category (attribute.String("category", ...)).
	DispatcherErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for an LLM-backed request/response pipeline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HubConnections, err = m.Int64Counter("gateway.hub.connections",
		metric.WithDescription("Total peers that completed the websocket handshake."),
	); err != nil {
		return nil, err
	}
	if met.HubDisconnections, err = m.Int64Counter("gateway.hub.disconnections",
		metric.WithDescription("Total peer disconnections."),
	); err != nil {
		return nil, err
	}
	if met.HubAuthFailures, err = m.Int64Counter("gateway.hub.auth_failures",
		metric.WithDescription("Total rejected module.authenticate attempts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("gateway.hub.active_connections",
		metric.WithDescription("Number of currently connected peers."),
	); err != nil {
		return nil, err
	}

	if met.ProviderCallDuration, err = m.Float64Histogram("gateway.provider.call.duration",
		metric.WithDescription("Latency of LLM provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("gateway.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gateway.provider.errors",
		metric.WithDescription("Total provider call failures by provider id."),
	); err != nil {
		return nil, err
	}

	if met.DispatcherErrors, err = m.Int64Counter("gateway.dispatcher.errors",
		metric.WithDescription("Total error events emitted by the dispatcher, by category."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("gateway.http.request.duration",
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

// RecordHubConnect records a peer completing the websocket handshake.
func (m *Metrics) RecordHubConnect(ctx context.Context) {
	m.HubConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
}

// RecordHubDisconnect records a peer's connection closing.
func (m *Metrics) RecordHubDisconnect(ctx context.Context) {
	m.HubDisconnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, -1)
}

// RecordHubAuthFailure records a rejected module.authenticate attempt.
func (m *Metrics) RecordHubAuthFailure(ctx context.Context) {
	m.HubAuthFailures.Add(ctx, 1)
}

// RecordProviderCall is a convenience method that records a provider call's
// latency and request counter with the standard attribute set.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderCallDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}

// RecordDispatcherError is a convenience method that records a dispatcher
// error counter increment by taxonomy category.
func (m *Metrics) RecordDispatcherError(ctx context.Context, category string) {
	m.DispatcherErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

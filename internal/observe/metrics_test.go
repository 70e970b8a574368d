package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordHubConnectAndDisconnect(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHubConnect(ctx)
	m.RecordHubConnect(ctx)
	m.RecordHubDisconnect(ctx)

	rm := collect(t, reader)

	conns := findMetric(rm, "gateway.hub.connections")
	if conns == nil {
		t.Fatal("gateway.hub.connections not found")
	}
	sum, ok := conns.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("hub.connections = %+v, want 2", sum)
	}

	disconns := findMetric(rm, "gateway.hub.disconnections")
	if disconns == nil {
		t.Fatal("gateway.hub.disconnections not found")
	}
	sum, ok = disconns.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("hub.disconnections = %+v, want 1", sum)
	}

	active := findMetric(rm, "gateway.hub.active_connections")
	if active == nil {
		t.Fatal("gateway.hub.active_connections not found")
	}
	sum, ok = active.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("hub.active_connections = %+v, want 1", sum)
	}
}

func TestRecordHubAuthFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHubAuthFailure(ctx)

	rm := collect(t, reader)
	met := findMetric(rm, "gateway.hub.auth_failures")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("auth_failures = %+v, want 1", sum)
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "openai", "ok", 0.2)
	m.RecordProviderCall(ctx, "openai", "error", 0.1)

	rm := collect(t, reader)

	duration := findMetric(rm, "gateway.provider.call.duration")
	if duration == nil {
		t.Fatal("gateway.provider.call.duration not found")
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("provider call duration = %+v, want count 2", hist)
	}

	errs := findMetric(rm, "gateway.provider.errors")
	if errs == nil {
		t.Fatal("gateway.provider.errors not found")
	}
	sum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("provider.errors = %+v, want 1", sum)
	}

	reqs := findMetric(rm, "gateway.provider.requests")
	if reqs == nil {
		t.Fatal("gateway.provider.requests not found")
	}
	sum, ok = reqs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("provider.requests is not a sum")
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("provider.requests total = %d, want 2", total)
	}
}

func TestRecordDispatcherError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDispatcherError(ctx, "validation")
	m.RecordDispatcherError(ctx, "validation")
	m.RecordDispatcherError(ctx, "upstream")

	rm := collect(t, reader)
	met := findMetric(rm, "gateway.dispatcher.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "category" && kv.Value.AsString() == "validation" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with category=validation not found")
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "gateway.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
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

func TestPrefetchDuration_RecordsSamples(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PrefetchDuration.Record(ctx, 0.123)
	m.PrefetchDuration.Record(ctx, 0.456)

	rm := collect(t, reader)
	met := findMetric(rm, "echoreplay.prefetch.duration")
	if met == nil {
		t.Fatal("metric echoreplay.prefetch.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestRecordMediaFetch_CountsByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMediaFetch(ctx, "ok")
	m.RecordMediaFetch(ctx, "ok")
	m.RecordMediaFetch(ctx, "expired")

	rm := collect(t, reader)
	met := findMetric(rm, "echoreplay.media.fetches")
	if met == nil {
		t.Fatal("metric echoreplay.media.fetches not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key("status")); found {
			byStatus[v.AsString()] = dp.Value
		}
	}
	if byStatus["ok"] != 2 {
		t.Errorf("ok fetches = %d, want 2", byStatus["ok"])
	}
	if byStatus["expired"] != 1 {
		t.Errorf("expired fetches = %d, want 1", byStatus["expired"])
	}
}

func TestActiveReplays_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveReplays.Add(ctx, 1)
	m.ActiveReplays.Add(ctx, 1)
	m.ActiveReplays.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "echoreplay.active_replays")
	if met == nil {
		t.Fatal("metric echoreplay.active_replays not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active replays = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}

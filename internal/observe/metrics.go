// Package observe provides observability primitives for echoreplay:
// OpenTelemetry metrics with a Prometheus exporter bridge.
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

// meterName is the instrumentation scope name used for all echoreplay metrics.
const meterName = "github.com/MrWong99/echoreplay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PrefetchDuration tracks the wall-clock latency of a full bulk media
	// prefetch for one session load.
	PrefetchDuration metric.Float64Histogram

	// MediaFetches counts individual media resolutions. Use with attribute:
	//   attribute.String("status", "ok"|"expired"|"failed")
	MediaFetches metric.Int64Counter

	// SegmentsBuilt counts segments produced by segmentation. Use with
	// attribute: attribute.String("type", ...)
	SegmentsBuilt metric.Int64Counter

	// Regenerations counts expired-reference regeneration attempts. Use with
	// attribute: attribute.String("status", "ok"|"failed")
	Regenerations metric.Int64Counter

	// PlaybackDegradations counts records or segments that played as
	// timing-only placeholders because their media was unavailable. Use with
	// attribute: attribute.String("reason", ...)
	PlaybackDegradations metric.Int64Counter

	// AggregatorFlushes counts quiet-period flushes during live capture. Use
	// with attribute: attribute.String("source", "user"|"ai")
	AggregatorFlushes metric.Int64Counter

	// IngestRecords counts records received over the live capture feed. Use
	// with attribute: attribute.String("kind", ...)
	IngestRecords metric.Int64Counter

	// ActiveReplays tracks the number of currently playing replay sessions.
	ActiveReplays metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// bulk blob-store prefetches.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PrefetchDuration, err = m.Float64Histogram("echoreplay.prefetch.duration",
		metric.WithDescription("Latency of a full bulk media prefetch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MediaFetches, err = m.Int64Counter("echoreplay.media.fetches",
		metric.WithDescription("Total media resolutions by status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsBuilt, err = m.Int64Counter("echoreplay.segments.built",
		metric.WithDescription("Total conversation segments produced by type."),
	); err != nil {
		return nil, err
	}
	if met.Regenerations, err = m.Int64Counter("echoreplay.media.regenerations",
		metric.WithDescription("Total expired-reference regeneration attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDegradations, err = m.Int64Counter("echoreplay.playback.degradations",
		metric.WithDescription("Total timing-only playback degradations by reason."),
	); err != nil {
		return nil, err
	}
	if met.AggregatorFlushes, err = m.Int64Counter("echoreplay.aggregator.flushes",
		metric.WithDescription("Total quiet-period aggregator flushes by source."),
	); err != nil {
		return nil, err
	}
	if met.IngestRecords, err = m.Int64Counter("echoreplay.ingest.records",
		metric.WithDescription("Total records received over the live capture feed by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveReplays, err = m.Int64UpDownCounter("echoreplay.active_replays",
		metric.WithDescription("Number of currently playing replay sessions."),
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

// RecordMediaFetch records one media resolution outcome.
func (m *Metrics) RecordMediaFetch(ctx context.Context, status string) {
	m.MediaFetches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordMediaFetches records n media resolutions with the same outcome.
func (m *Metrics) RecordMediaFetches(ctx context.Context, status string, n int64) {
	if n == 0 {
		return
	}
	m.MediaFetches.Add(ctx, n,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSegment records one built segment of the given type.
func (m *Metrics) RecordSegment(ctx context.Context, segType string) {
	m.SegmentsBuilt.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", segType)),
	)
}

// RecordRegenerations records n regeneration attempts with one outcome.
func (m *Metrics) RecordRegenerations(ctx context.Context, status string, n int64) {
	m.Regenerations.Add(ctx, n,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDegradation records one timing-only playback degradation.
func (m *Metrics) RecordDegradation(ctx context.Context, reason string) {
	m.PlaybackDegradations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

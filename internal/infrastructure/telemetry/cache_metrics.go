package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Replay outcomes
const (
	OutcomeReplayed  = "replayed"
	OutcomeConflict  = "conflict"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// CacheMetrics records the activity of the offline cache.
type CacheMetrics struct {
	preloadedRecords  *Counter
	preloadFailures   *Counter
	preloadDuration   *Histogram
	evictedRecords    *Counter
	replayedOps       *Counter
	pendingOperations *Gauge
}

// NewCacheMetrics creates the cache instruments on meter.
func NewCacheMetrics(meter metric.Meter) (*CacheMetrics, error) {
	var (
		m   CacheMetrics
		err error
	)
	if m.preloadedRecords, err = NewCounter(meter,
		"offline_preloaded_records_total",
		"Reference records written to the local store by preload",
		"{record}"); err != nil {
		return nil, err
	}
	if m.preloadFailures, err = NewCounter(meter,
		"offline_preload_failures_total",
		"Preloads that failed and left the cache unchanged",
		"{preload}"); err != nil {
		return nil, err
	}
	if m.preloadDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "offline_preload_duration_seconds",
		Description: "Duration of a full preload of one entity type",
		Unit:        "s",
		Boundaries:  FetchDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.evictedRecords, err = NewCounter(meter,
		"offline_evicted_records_total",
		"Records removed by age-based cleanup",
		"{record}"); err != nil {
		return nil, err
	}
	if m.replayedOps, err = NewCounter(meter,
		"offline_replayed_operations_total",
		"Pending operations processed by replay, by outcome",
		"{operation}"); err != nil {
		return nil, err
	}
	if m.pendingOperations, err = NewGauge(meter,
		"offline_pending_operations",
		"Operations waiting to be replayed",
		"{operation}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopCacheMetrics returns metrics that record nothing.
func NoopCacheMetrics() *CacheMetrics {
	m, _ := NewCacheMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordPreload records one preload of entityType.
func (m *CacheMetrics) RecordPreload(ctx context.Context, entityType string, written int, elapsed time.Duration, err error) {
	attrs := []attribute.KeyValue{AttrEntityType.String(entityType)}
	m.preloadDuration.RecordDuration(ctx, elapsed, attrs...)
	if err != nil {
		m.preloadFailures.Inc(ctx, attrs...)
		return
	}
	m.preloadedRecords.Add(ctx, int64(written), attrs...)
}

// RecordEviction records n records evicted from entityType.
func (m *CacheMetrics) RecordEviction(ctx context.Context, entityType string, n int64) {
	m.evictedRecords.Add(ctx, n, AttrEntityType.String(entityType))
}

// RecordReplay records one replayed operation and its outcome.
func (m *CacheMetrics) RecordReplay(ctx context.Context, operationType, outcome string) {
	m.replayedOps.Inc(ctx, AttrOperationType.String(operationType), AttrOutcome.String(outcome))
}

// RecordPending records the current pending operation count.
func (m *CacheMetrics) RecordPending(ctx context.Context, n int) {
	m.pendingOperations.Record(ctx, int64(n))
}

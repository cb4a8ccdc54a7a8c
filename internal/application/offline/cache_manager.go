// Package offline keeps a local copy of ERP reference data (providers and
// clients) usable while the backend is unreachable, and queues writes made in
// the meantime for later replay.
package offline

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Defaults of the cache policy
const (
	DefaultRetention                  = 7 * 24 * time.Hour
	DefaultPendingOperationsThreshold = 500
)

// RemoteSource is the ERP backend as seen by the cache
type RemoteSource interface {
	FetchProviders(ctx context.Context) ([]offline.Provider, error)
	FetchClients(ctx context.Context) ([]offline.Client, error)
	Replay(ctx context.Context, op offline.PendingOperation) error
}

// SchemaMigrator upgrades the local store to the record shape of this build
type SchemaMigrator interface {
	MigrateDatabase(ctx context.Context) error
	TargetVersion() uint
}

// CacheManager preloads, evicts, clears and inspects the local store.
//
// Operations are not serialized against each other: upserts are
// last-write-wins and eviction is by age, so concurrent calls converge.
// Replay is the exception and runs one at a time.
type CacheManager struct {
	store            offline.LocalStore
	remote           RemoteSource
	migrator         SchemaMigrator
	logger           *zap.Logger
	metrics          *telemetry.CacheMetrics
	validate         *validator.Validate
	retention        time.Duration
	pendingThreshold int
	now              func() time.Time

	syncMu sync.Mutex
}

// ManagerOption configures a CacheManager
type ManagerOption func(*CacheManager)

// WithRetention sets how long records are kept after they were fetched
func WithRetention(d time.Duration) ManagerOption {
	return func(m *CacheManager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithPendingThreshold sets the pending operation count above which the cache is reported unhealthy
func WithPendingThreshold(n int) ManagerOption {
	return func(m *CacheManager) {
		if n > 0 {
			m.pendingThreshold = n
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics *telemetry.CacheMetrics) ManagerOption {
	return func(m *CacheManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithClock sets the time source used for FetchedAt and cutoffs
func WithClock(now func() time.Time) ManagerOption {
	return func(m *CacheManager) {
		m.now = now
	}
}

// NewCacheManager creates a CacheManager. migrator may be nil, in which case
// MigrateDatabase is a no-op and the health check skips the version check.
func NewCacheManager(store offline.LocalStore, remote RemoteSource, migrator SchemaMigrator, logger *zap.Logger, opts ...ManagerOption) *CacheManager {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	m := &CacheManager{
		store:            store,
		remote:           remote,
		migrator:         migrator,
		logger:           logger.Named("cache_manager"),
		metrics:          telemetry.NoopCacheMetrics(),
		validate:         v,
		retention:        DefaultRetention,
		pendingThreshold: DefaultPendingOperationsThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Retention returns the configured retention period
func (m *CacheManager) Retention() time.Duration {
	return m.retention
}

// MigrateDatabase brings the local store up to the current record shape
func (m *CacheManager) MigrateDatabase(ctx context.Context) error {
	if m.migrator == nil {
		return nil
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "cache_manager", "migrate")
	defer span.End()

	if err := m.migrator.MigrateDatabase(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// SchemaStatus reports the store's schema version against the one the code expects
func (m *CacheManager) SchemaStatus(ctx context.Context) (*SchemaStatus, error) {
	current, err := m.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{Current: current, Target: current}
	if m.migrator != nil {
		status.Target = m.migrator.TargetVersion()
	}
	status.UpToDate = status.Current == status.Target
	return status, nil
}

// PreloadProviders fetches every provider and upserts it into the store
func (m *CacheManager) PreloadProviders(ctx context.Context) (*PreloadResult, error) {
	return preload(ctx, m, offline.EntityTypeProvider, m.remote.FetchProviders)
}

// PreloadClients fetches every client and upserts it into the store
func (m *CacheManager) PreloadClients(ctx context.Context) (*PreloadResult, error) {
	return preload(ctx, m, offline.EntityTypeClient, m.remote.FetchClients)
}

// preload is best-effort: when the backend cannot be reached the failure is
// logged, the store is left untouched and the result is marked Skipped.
// Storage failures are returned.
func preload[T offline.Entity](ctx context.Context, m *CacheManager, entityType offline.EntityType, fetch func(context.Context) ([]T, error)) (*PreloadResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cache_manager", "preload",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, entityType.String()),
		telemetry.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	result := &PreloadResult{EntityType: entityType}
	finish := func(err error) {
		result.Duration = time.Since(start)
		m.metrics.RecordPreload(ctx, entityType.String(), result.Written, result.Duration, err)
		telemetry.SetAttributes(span, telemetry.SpanAttrRecordCount, result.Written)
		telemetry.RecordError(span, err)
	}

	entities, err := fetch(ctx)
	if err != nil {
		result.Skipped = true
		result.Reason = err.Error()
		m.logger.Warn("Preload skipped, backend unreachable",
			zap.String("entity_type", entityType.String()),
			zap.Error(err),
		)
		finish(err)
		return result, nil
	}
	result.Fetched = len(entities)

	fetchedAt := m.now()
	for _, entity := range entities {
		record, err := offline.NewCacheRecord(entity, fetchedAt)
		if err == nil {
			err = record.Validate()
		}
		if err != nil {
			m.logger.Warn("Skipping malformed record",
				zap.String("entity_type", entityType.String()),
				zap.String("id", entity.EntityID()),
				zap.Error(err),
			)
			continue
		}
		if err := m.store.Put(ctx, record); err != nil {
			m.logger.Error("Preload aborted, local store failed",
				zap.String("entity_type", entityType.String()),
				zap.Int("written", result.Written),
				zap.Error(err),
			)
			result.Aborted = true
			result.Reason = err.Error()
			finish(err)
			return result, nil
		}
		result.Written++
	}

	finish(nil)
	m.logger.Info("Preload complete",
		zap.String("entity_type", entityType.String()),
		zap.Int("fetched", result.Fetched),
		zap.Int("written", result.Written),
		zap.Duration("elapsed", result.Duration),
	)
	return result, nil
}

// CleanOldData evicts records fetched more than the retention period ago.
// Every tracked entity type is attempted even if one fails.
func (m *CacheManager) CleanOldData(ctx context.Context) (*CleanupResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cache_manager", "clean_old_data")
	defer span.End()

	cutoff := m.now().Add(-m.retention)
	result := &CleanupResult{
		Cutoff:  cutoff,
		Evicted: make(map[offline.EntityType]int64),
	}

	var errs error
	for _, entityType := range offline.TrackedEntityTypes() {
		n, err := m.store.DeleteStale(ctx, entityType, cutoff)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result.Evicted[entityType] = n
		m.metrics.RecordEviction(ctx, entityType.String(), n)
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrRecordCount, result.Total())
	if errs != nil {
		telemetry.RecordError(span, errs)
		m.logger.Error("Cleanup incomplete", zap.Time("cutoff", cutoff), zap.Error(errs))
		return result, errs
	}

	m.logger.Info("Cleanup complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("evicted", result.Total()),
	)
	return result, nil
}

// ClearAllCache removes every record and every pending operation.
// The schema version is kept.
func (m *CacheManager) ClearAllCache(ctx context.Context) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "cache_manager", "clear_all")
	defer span.End()

	err := multierr.Combine(
		m.store.Clear(ctx),
		m.store.ClearOperations(ctx),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		m.logger.Error("Failed to clear cache", zap.Error(err))
		return err
	}
	m.metrics.RecordPending(ctx, 0)
	m.logger.Info("Cache cleared")
	return nil
}

// GetCacheStats computes the cache summary from the store.
// LastSync is the most recent FetchedAt across all records, nil when empty.
func (m *CacheManager) GetCacheStats(ctx context.Context) (*offline.CacheStats, error) {
	stats := &offline.CacheStats{}

	for _, entityType := range offline.TrackedEntityTypes() {
		records, err := m.store.GetAll(ctx, entityType)
		if err != nil {
			return nil, err
		}
		switch entityType {
		case offline.EntityTypeProvider:
			stats.ProvidersCount = len(records)
		case offline.EntityTypeClient:
			stats.ClientsCount = len(records)
		}
		for _, r := range records {
			stats.CacheSize += r.Size()
			if stats.LastSync == nil || r.FetchedAt.After(*stats.LastSync) {
				fetchedAt := r.FetchedAt
				stats.LastSync = &fetchedAt
			}
		}
	}

	pending, err := m.pendingCount(ctx)
	if err != nil {
		return nil, err
	}
	stats.PendingOperationsCount = pending
	return stats, nil
}

// CheckCacheHealth runs the integrity checks. It never fails; every failed
// check becomes an issue in the report. A failed preload is not an issue.
func (m *CacheManager) CheckCacheHealth(ctx context.Context) offline.HealthReport {
	report := offline.HealthReport{IsHealthy: true, Issues: []string{}}

	if err := m.store.Ping(ctx); err != nil {
		report.AddIssue(fmt.Sprintf("local store is unreadable: %v", err))
	} else {
		for _, entityType := range offline.TrackedEntityTypes() {
			if _, err := m.store.GetAll(ctx, entityType); err != nil {
				report.AddIssue(fmt.Sprintf("cannot read cached %s: %v", entityType, err))
			}
		}
	}

	pending, err := m.pendingCount(ctx)
	switch {
	case err != nil:
		report.AddIssue(fmt.Sprintf("cannot read pending operations: %v", err))
	case pending > m.pendingThreshold:
		report.AddIssue(fmt.Sprintf("%d pending operations exceed the limit of %d", pending, m.pendingThreshold))
	}

	if m.migrator != nil {
		version, err := m.store.SchemaVersion(ctx)
		switch {
		case err != nil:
			report.AddIssue(fmt.Sprintf("cannot read schema version: %v", err))
		case version != m.migrator.TargetVersion():
			report.AddIssue(fmt.Sprintf("schema version %d does not match expected %d", version, m.migrator.TargetVersion()))
		}
	}

	if !report.IsHealthy {
		m.logger.Warn("Cache health check failed", zap.Strings("issues", report.Issues))
	}
	return report
}

func (m *CacheManager) pendingCount(ctx context.Context) (int, error) {
	ops, err := m.store.ListOperations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, op := range ops {
		if !op.Synced {
			n++
		}
	}
	return n, nil
}

// GetProvider returns the cached provider with id
func (m *CacheManager) GetProvider(ctx context.Context, id string) (*offline.Provider, error) {
	return getCached[offline.Provider](ctx, m.store, offline.EntityTypeProvider, id)
}

// GetClient returns the cached client with id
func (m *CacheManager) GetClient(ctx context.Context, id string) (*offline.Client, error) {
	return getCached[offline.Client](ctx, m.store, offline.EntityTypeClient, id)
}

// ListProviders returns every cached provider ordered by id
func (m *CacheManager) ListProviders(ctx context.Context) ([]offline.Provider, error) {
	return listCached[offline.Provider](ctx, m.store, offline.EntityTypeProvider)
}

// ListClients returns every cached client ordered by id
func (m *CacheManager) ListClients(ctx context.Context) ([]offline.Client, error) {
	return listCached[offline.Client](ctx, m.store, offline.EntityTypeClient)
}

func getCached[T any](ctx context.Context, store offline.RecordStore, entityType offline.EntityType, id string) (*T, error) {
	record, err := store.Get(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	entity, err := offline.DecodeEntity[T](*record)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func listCached[T any](ctx context.Context, store offline.RecordStore, entityType offline.EntityType) ([]T, error) {
	records, err := store.GetAll(ctx, entityType)
	if err != nil {
		return nil, err
	}
	entities := make([]T, 0, len(records))
	for _, r := range records {
		entity, err := offline.DecodeEntity[T](r)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// EnqueueOperation validates req and appends it to the replay queue
func (m *CacheManager) EnqueueOperation(ctx context.Context, req EnqueueOperationRequest) (*offline.PendingOperation, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, err
	}

	op, err := offline.NewPendingOperation(
		offline.OperationType(req.OperationType),
		offline.EntityType(req.EntityType),
		req.EntityID,
		req.Payload,
		m.now(),
	)
	if err != nil {
		return nil, err
	}
	if err := m.store.AppendOperation(ctx, op); err != nil {
		return nil, err
	}

	m.logger.Info("Operation queued for replay",
		zap.String("id", op.ID.String()),
		zap.Int64("sequence", op.Sequence),
		zap.String("operation_type", string(op.OperationType)),
		zap.String("entity_type", op.EntityType.String()),
	)
	if pending, err := m.pendingCount(ctx); err == nil {
		m.metrics.RecordPending(ctx, pending)
	}
	return op, nil
}

// ListPendingOperations returns the operations waiting for replay in order
func (m *CacheManager) ListPendingOperations(ctx context.Context) ([]offline.PendingOperation, error) {
	ops, err := m.store.ListOperations(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]offline.PendingOperation, 0, len(ops))
	for _, op := range ops {
		if !op.Synced {
			pending = append(pending, op)
		}
	}
	return pending, nil
}

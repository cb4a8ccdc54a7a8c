package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCacheStore implements offline.LocalStore on a SQL database through GORM.
// Tables are expected to exist; run Database.Migrate first.
type GormCacheStore struct {
	database *Database
	db       *gorm.DB
}

var _ offline.LocalStore = (*GormCacheStore)(nil)

// NewGormCacheStore creates a store over database. Close closes database.
func NewGormCacheStore(database *Database) *GormCacheStore {
	return &GormCacheStore{database: database, db: database.DB}
}

// Get returns the record for (entityType, id)
func (s *GormCacheStore) Get(ctx context.Context, entityType offline.EntityType, id string) (*offline.CacheRecord, error) {
	var m models.CacheRecordModel
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(entityType), id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, offline.ErrRecordNotFound
	}
	if err != nil {
		return nil, offline.NewStorageError("get", err)
	}
	record := m.ToDomain()
	return &record, nil
}

// GetAll returns every record of entityType ordered by id
func (s *GormCacheStore) GetAll(ctx context.Context, entityType offline.EntityType) ([]offline.CacheRecord, error) {
	var rows []models.CacheRecordModel
	if err := s.db.WithContext(ctx).
		Where("entity_type = ?", string(entityType)).
		Order("entity_id ASC").
		Find(&rows).Error; err != nil {
		return nil, offline.NewStorageError("get_all", err)
	}

	records := make([]offline.CacheRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// Put upserts record; the last write for a key wins
func (s *GormCacheStore) Put(ctx context.Context, record offline.CacheRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m := models.CacheRecordModelFromDomain(record)
	m.FetchedAt = m.FetchedAt.UTC()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
		}).
		Create(m).Error
	return offline.NewStorageError("put", err)
}

// Delete removes the record for (entityType, id) if present
func (s *GormCacheStore) Delete(ctx context.Context, entityType offline.EntityType, id string) error {
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(entityType), id).
		Delete(&models.CacheRecordModel{}).Error
	return offline.NewStorageError("delete", err)
}

// Clear removes the records of entityTypes, or every record when none are given
func (s *GormCacheStore) Clear(ctx context.Context, entityTypes ...offline.EntityType) error {
	tx := s.db.WithContext(ctx)
	if len(entityTypes) == 0 {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	} else {
		names := make([]string, len(entityTypes))
		for i, t := range entityTypes {
			names[i] = string(t)
		}
		tx = tx.Where("entity_type IN ?", names)
	}
	return offline.NewStorageError("clear", tx.Delete(&models.CacheRecordModel{}).Error)
}

// DeleteStale removes records of entityType fetched before cutoff
func (s *GormCacheStore) DeleteStale(ctx context.Context, entityType offline.EntityType, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("entity_type = ? AND fetched_at < ?", string(entityType), cutoff.UTC()).
		Delete(&models.CacheRecordModel{})
	if result.Error != nil {
		return 0, offline.NewStorageError("delete_stale", result.Error)
	}
	return result.RowsAffected, nil
}

// AppendOperation inserts op and sets op.Sequence from the database
func (s *GormCacheStore) AppendOperation(ctx context.Context, op *offline.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	m := models.PendingOperationModelFromDomain(op)
	m.CreatedAt = m.CreatedAt.UTC()

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return offline.NewStorageError("append_operation", err)
	}
	op.Sequence = m.Seq
	return nil
}

// ListOperations returns all operations in replay order
func (s *GormCacheStore) ListOperations(ctx context.Context) ([]offline.PendingOperation, error) {
	var rows []models.PendingOperationModel
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, offline.NewStorageError("list_operations", err)
	}

	ops := make([]offline.PendingOperation, len(rows))
	for i := range rows {
		ops[i] = rows[i].ToDomain()
	}
	return ops, nil
}

// MarkOperationSynced flags the operation as replayed
func (s *GormCacheStore) MarkOperationSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	syncedAt = syncedAt.UTC()
	return s.updateOperation(ctx, "mark_synced", id, map[string]any{
		"synced":     true,
		"synced_at":  &syncedAt,
		"last_error": "",
	})
}

// RecordOperationFailure bumps the attempt counter and stores reason
func (s *GormCacheStore) RecordOperationFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return s.updateOperation(ctx, "record_failure", id, map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
	})
}

func (s *GormCacheStore) updateOperation(ctx context.Context, op string, id uuid.UUID, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&models.PendingOperationModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return offline.NewStorageError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return offline.ErrOperationNotFound
	}
	return nil
}

// DeleteOperation removes the operation if present
func (s *GormCacheStore) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.PendingOperationModel{}).Error
	return offline.NewStorageError("delete_operation", err)
}

// ClearOperations removes every pending operation
func (s *GormCacheStore) ClearOperations(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.PendingOperationModel{}).Error
	return offline.NewStorageError("clear_operations", err)
}

// SchemaVersion returns the stored record-shape version, 0 when unset
func (s *GormCacheStore) SchemaVersion(ctx context.Context) (uint, error) {
	var meta models.StoreMetaModel
	err := s.db.WithContext(ctx).Where("key = ?", models.SchemaVersionKey).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, offline.NewStorageError("schema_version", err)
	}

	v, err := strconv.ParseUint(meta.Value, 10, 32)
	if err != nil {
		return 0, offline.NewStorageError("schema_version", err)
	}
	return uint(v), nil
}

// SetSchemaVersion stores version
func (s *GormCacheStore) SetSchemaVersion(ctx context.Context, version uint) error {
	meta := models.StoreMetaModel{
		Key:   models.SchemaVersionKey,
		Value: strconv.FormatUint(uint64(version), 10),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&meta).Error
	return offline.NewStorageError("set_schema_version", err)
}

// Ping verifies the database answers
func (s *GormCacheStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return offline.NewStorageError("ping", err)
	}
	return offline.NewStorageError("ping", sqlDB.PingContext(ctx))
}

// Close closes the underlying database
func (s *GormCacheStore) Close() error {
	return s.database.Close()
}

package models

import (
	"encoding/json"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/google/uuid"
)

// SchemaVersionKey is the store_meta key holding the record-shape version
const SchemaVersionKey = "schema_version"

// CacheRecordModel is the persistence model of offline.CacheRecord
type CacheRecordModel struct {
	EntityType string    `gorm:"primaryKey;type:varchar(32)"`
	EntityID   string    `gorm:"primaryKey;type:varchar(128)"`
	Payload    string    `gorm:"type:text;not null"`
	FetchedAt  time.Time `gorm:"not null;index:idx_cache_records_fetched_at"`
}

// TableName returns the table name for GORM
func (CacheRecordModel) TableName() string {
	return "cache_records"
}

// ToDomain converts the model to a CacheRecord
func (m *CacheRecordModel) ToDomain() offline.CacheRecord {
	return offline.CacheRecord{
		EntityType: offline.EntityType(m.EntityType),
		ID:         m.EntityID,
		Payload:    json.RawMessage(m.Payload),
		FetchedAt:  m.FetchedAt,
	}
}

// CacheRecordModelFromDomain converts a CacheRecord to its model
func CacheRecordModelFromDomain(r offline.CacheRecord) *CacheRecordModel {
	return &CacheRecordModel{
		EntityType: string(r.EntityType),
		EntityID:   r.ID,
		Payload:    string(r.Payload),
		FetchedAt:  r.FetchedAt,
	}
}

// PendingOperationModel is the persistence model of offline.PendingOperation.
// Seq is assigned by the database and defines replay order.
type PendingOperationModel struct {
	Seq           int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID            uuid.UUID `gorm:"column:id;type:uuid;uniqueIndex;not null"`
	OperationType string    `gorm:"type:varchar(16);not null"`
	EntityType    string    `gorm:"type:varchar(32);not null"`
	EntityID      string    `gorm:"type:varchar(128);not null;default:''"`
	Payload       *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	Synced        bool      `gorm:"not null;default:false"`
	SyncedAt      *time.Time
	Attempts      int    `gorm:"not null;default:0"`
	LastError     string `gorm:"type:text;not null;default:''"`
}

// TableName returns the table name for GORM
func (PendingOperationModel) TableName() string {
	return "pending_operations"
}

// ToDomain converts the model to a PendingOperation
func (m *PendingOperationModel) ToDomain() offline.PendingOperation {
	op := offline.PendingOperation{
		ID:            m.ID,
		Sequence:      m.Seq,
		OperationType: offline.OperationType(m.OperationType),
		EntityType:    offline.EntityType(m.EntityType),
		EntityID:      m.EntityID,
		CreatedAt:     m.CreatedAt,
		Synced:        m.Synced,
		SyncedAt:      m.SyncedAt,
		Attempts:      m.Attempts,
		LastError:     m.LastError,
	}
	if m.Payload != nil {
		op.Payload = json.RawMessage(*m.Payload)
	}
	return op
}

// PendingOperationModelFromDomain converts a PendingOperation to its model.
// Seq is left zero so the database assigns it.
func PendingOperationModelFromDomain(op *offline.PendingOperation) *PendingOperationModel {
	m := &PendingOperationModel{
		ID:            op.ID,
		OperationType: string(op.OperationType),
		EntityType:    string(op.EntityType),
		EntityID:      op.EntityID,
		CreatedAt:     op.CreatedAt,
		Synced:        op.Synced,
		SyncedAt:      op.SyncedAt,
		Attempts:      op.Attempts,
		LastError:     op.LastError,
	}
	if len(op.Payload) > 0 {
		payload := string(op.Payload)
		m.Payload = &payload
	}
	return m
}

// StoreMetaModel is a key/value row of store metadata
type StoreMetaModel struct {
	Key   string `gorm:"primaryKey;type:varchar(64)"`
	Value string `gorm:"type:text;not null"`
}

// TableName returns the table name for GORM
func (StoreMetaModel) TableName() string {
	return "store_meta"
}

package offline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStore persists CacheRecords keyed by (EntityType, ID)
type RecordStore interface {
	// Get returns the record for the key or ErrRecordNotFound
	Get(ctx context.Context, entityType EntityType, id string) (*CacheRecord, error)

	// GetAll returns every record of the given type
	GetAll(ctx context.Context, entityType EntityType) ([]CacheRecord, error)

	// Put inserts or replaces the record (last write wins)
	Put(ctx context.Context, record CacheRecord) error

	// Delete removes the record; deleting a missing record is not an error
	Delete(ctx context.Context, entityType EntityType, id string) error

	// Clear removes every record of the given types, or of all types when none are given
	Clear(ctx context.Context, entityTypes ...EntityType) error

	// DeleteStale removes records of entityType fetched before cutoff and returns how many
	DeleteStale(ctx context.Context, entityType EntityType, cutoff time.Time) (int64, error)
}

// OperationStore persists PendingOperations in insertion order
type OperationStore interface {
	// AppendOperation stores op and assigns its Sequence
	AppendOperation(ctx context.Context, op *PendingOperation) error

	// ListOperations returns all retained operations ordered by Sequence
	ListOperations(ctx context.Context) ([]PendingOperation, error)

	// MarkOperationSynced flags the operation as replayed
	MarkOperationSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error

	// RecordOperationFailure increments the attempt counter and stores the last error
	RecordOperationFailure(ctx context.Context, id uuid.UUID, reason string) error

	// DeleteOperation removes the operation; deleting a missing one is not an error
	DeleteOperation(ctx context.Context, id uuid.UUID) error

	// ClearOperations removes every pending operation
	ClearOperations(ctx context.Context) error
}

// SchemaStore holds the version marker of the persisted record shape
type SchemaStore interface {
	// SchemaVersion returns the stored version, 0 when the store was never initialized
	SchemaVersion(ctx context.Context) (uint, error)

	// SetSchemaVersion overwrites the stored version
	SetSchemaVersion(ctx context.Context, version uint) error
}

// LocalStore is the durable key-value store behind the offline cache.
// Every failure is reported as a *StorageError.
type LocalStore interface {
	RecordStore
	OperationStore
	SchemaStore

	// Ping verifies the store is readable
	Ping(ctx context.Context) error

	// Close releases the store's resources
	Close() error
}

// CacheStats is a derived summary of the cache, computed on demand
// @name CacheStats
type CacheStats struct {
	ProvidersCount         int        `json:"providersCount"`
	ClientsCount           int        `json:"clientsCount"`
	PendingOperationsCount int        `json:"pendingOperationsCount"`
	LastSync               *time.Time `json:"lastSync"`
	CacheSize              int64      `json:"cacheSize"`
}

// HealthReport is the result of a cache integrity check
// @name HealthReport
type HealthReport struct {
	IsHealthy bool     `json:"isHealthy"`
	Issues    []string `json:"issues"`
}

// AddIssue records a failed check
func (h *HealthReport) AddIssue(issue string) {
	h.IsHealthy = false
	h.Issues = append(h.Issues, issue)
}

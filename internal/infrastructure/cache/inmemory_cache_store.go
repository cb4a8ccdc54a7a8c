package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/google/uuid"
)

// ErrStoreClosed is the cause reported by a closed in-memory store
var ErrStoreClosed = errors.New("store is closed")

// InMemoryCacheStore implements offline.LocalStore with maps.
// Nothing survives the process; it is meant for tests and as the fallback
// when the configured store cannot be opened.
type InMemoryCacheStore struct {
	mu      sync.RWMutex
	records map[offline.EntityType]map[string]offline.CacheRecord
	ops     []offline.PendingOperation
	nextSeq int64
	version uint
	closed  bool
}

var _ offline.LocalStore = (*InMemoryCacheStore)(nil)

// NewInMemoryCacheStore creates an empty in-memory store
func NewInMemoryCacheStore() *InMemoryCacheStore {
	return &InMemoryCacheStore{
		records: make(map[offline.EntityType]map[string]offline.CacheRecord),
	}
}

func (s *InMemoryCacheStore) check(op string) error {
	if s.closed {
		return offline.NewStorageError(op, ErrStoreClosed)
	}
	return nil
}

// Get returns a copy of the record for (entityType, id)
func (s *InMemoryCacheStore) Get(_ context.Context, entityType offline.EntityType, id string) (*offline.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get"); err != nil {
		return nil, err
	}

	record, ok := s.records[entityType][id]
	if !ok {
		return nil, offline.ErrRecordNotFound
	}
	record.Payload = append([]byte(nil), record.Payload...)
	return &record, nil
}

// GetAll returns every record of entityType ordered by id
func (s *InMemoryCacheStore) GetAll(_ context.Context, entityType offline.EntityType) ([]offline.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get_all"); err != nil {
		return nil, err
	}

	bucket := s.records[entityType]
	records := make([]offline.CacheRecord, 0, len(bucket))
	for _, r := range bucket {
		r.Payload = append([]byte(nil), r.Payload...)
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Put stores record, replacing any previous one with the same key
func (s *InMemoryCacheStore) Put(_ context.Context, record offline.CacheRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put"); err != nil {
		return err
	}

	bucket, ok := s.records[record.EntityType]
	if !ok {
		bucket = make(map[string]offline.CacheRecord)
		s.records[record.EntityType] = bucket
	}
	record.Payload = append([]byte(nil), record.Payload...)
	bucket[record.ID] = record
	return nil
}

// Delete removes the record if present
func (s *InMemoryCacheStore) Delete(_ context.Context, entityType offline.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete"); err != nil {
		return err
	}

	delete(s.records[entityType], id)
	return nil
}

// Clear removes the records of entityTypes, or all records when none are given
func (s *InMemoryCacheStore) Clear(_ context.Context, entityTypes ...offline.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("clear"); err != nil {
		return err
	}

	if len(entityTypes) == 0 {
		s.records = make(map[offline.EntityType]map[string]offline.CacheRecord)
		return nil
	}
	for _, t := range entityTypes {
		delete(s.records, t)
	}
	return nil
}

// DeleteStale removes records of entityType fetched before cutoff
func (s *InMemoryCacheStore) DeleteStale(_ context.Context, entityType offline.EntityType, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete_stale"); err != nil {
		return 0, err
	}

	var deleted int64
	for id, r := range s.records[entityType] {
		if r.IsStale(cutoff) {
			delete(s.records[entityType], id)
			deleted++
		}
	}
	return deleted, nil
}

// AppendOperation stores a copy of op and assigns op.Sequence
func (s *InMemoryCacheStore) AppendOperation(_ context.Context, op *offline.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("append_operation"); err != nil {
		return err
	}

	s.nextSeq++
	op.Sequence = s.nextSeq
	stored := *op
	stored.Payload = append([]byte(nil), op.Payload...)
	s.ops = append(s.ops, stored)
	return nil
}

// ListOperations returns copies of all operations in replay order
func (s *InMemoryCacheStore) ListOperations(_ context.Context) ([]offline.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list_operations"); err != nil {
		return nil, err
	}

	ops := make([]offline.PendingOperation, len(s.ops))
	copy(ops, s.ops)
	return ops, nil
}

// MarkOperationSynced flags the operation as replayed
func (s *InMemoryCacheStore) MarkOperationSynced(_ context.Context, id uuid.UUID, syncedAt time.Time) error {
	return s.updateOperation("mark_synced", id, func(op *offline.PendingOperation) {
		op.MarkSynced(syncedAt)
	})
}

// RecordOperationFailure bumps the attempt counter and stores reason
func (s *InMemoryCacheStore) RecordOperationFailure(_ context.Context, id uuid.UUID, reason string) error {
	return s.updateOperation("record_failure", id, func(op *offline.PendingOperation) {
		op.RecordFailure(reason)
	})
}

func (s *InMemoryCacheStore) updateOperation(name string, id uuid.UUID, fn func(*offline.PendingOperation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(name); err != nil {
		return err
	}

	for i := range s.ops {
		if s.ops[i].ID == id {
			fn(&s.ops[i])
			return nil
		}
	}
	return offline.ErrOperationNotFound
}

// DeleteOperation removes the operation if present
func (s *InMemoryCacheStore) DeleteOperation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete_operation"); err != nil {
		return err
	}

	for i := range s.ops {
		if s.ops[i].ID == id {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

// ClearOperations removes every operation
func (s *InMemoryCacheStore) ClearOperations(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("clear_operations"); err != nil {
		return err
	}

	s.ops = nil
	return nil
}

// SchemaVersion returns the stored version
func (s *InMemoryCacheStore) SchemaVersion(_ context.Context) (uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("schema_version"); err != nil {
		return 0, err
	}
	return s.version, nil
}

// SetSchemaVersion stores version
func (s *InMemoryCacheStore) SetSchemaVersion(_ context.Context, version uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set_schema_version"); err != nil {
		return err
	}
	s.version = version
	return nil
}

// Ping fails once the store is closed
func (s *InMemoryCacheStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping")
}

// Close marks the store closed; later calls fail with a StorageError
func (s *InMemoryCacheStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

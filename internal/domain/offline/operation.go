package offline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType is the kind of mutation recorded while offline
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid reports whether o is a known operation type
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// PendingOperation is a write attempted while the backend was unreachable.
// Operations are replayed in Sequence order, which the store assigns on append.
// @name PendingOperation
type PendingOperation struct {
	ID            uuid.UUID       `json:"id"`
	Sequence      int64           `json:"sequence"`
	OperationType OperationType   `json:"operation_type"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Synced        bool            `json:"synced"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
}

// NewPendingOperation creates an unsynced operation stamped with now
func NewPendingOperation(opType OperationType, entityType EntityType, entityID string, payload json.RawMessage, now time.Time) (*PendingOperation, error) {
	op := &PendingOperation{
		ID:            uuid.New(),
		OperationType: opType,
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
		CreatedAt:     now,
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// Validate checks the operation carries what replay needs
func (o *PendingOperation) Validate() error {
	if !o.OperationType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperationType, o.OperationType)
	}
	if !o.EntityType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, o.EntityType)
	}
	if o.OperationType != OperationCreate && o.EntityID == "" {
		return ErrMissingEntityID
	}
	if o.OperationType != OperationDelete {
		if len(o.Payload) == 0 || !json.Valid(o.Payload) {
			return ErrInvalidPayload
		}
	}
	return nil
}

// MarkSynced flags the operation as replayed successfully
func (o *PendingOperation) MarkSynced(now time.Time) {
	o.Synced = true
	o.SyncedAt = &now
	o.LastError = ""
}

// RecordFailure counts a failed replay attempt. An empty reason keeps the previous one.
func (o *PendingOperation) RecordFailure(reason string) {
	o.Attempts++
	if reason != "" {
		o.LastError = reason
	}
}

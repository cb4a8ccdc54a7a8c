package offline

import (
	"errors"
	"fmt"

	"github.com/erp/offline/internal/domain/shared"
)

var (
	// ErrRecordNotFound is returned when no record exists for a key
	ErrRecordNotFound = shared.NewDomainError("NOT_FOUND", "Cached record not found")

	// ErrOperationNotFound is returned when a pending operation does not exist
	ErrOperationNotFound = shared.NewDomainError("NOT_FOUND", "Pending operation not found")

	ErrInvalidEntityType    = shared.NewDomainError("INVALID_INPUT", "Invalid entity type")
	ErrInvalidOperationType = shared.NewDomainError("INVALID_INPUT", "Invalid operation type")
	ErrMissingEntityID      = shared.NewDomainError("INVALID_INPUT", "Entity ID is required")
	ErrInvalidPayload       = shared.NewDomainError("INVALID_INPUT", "Payload must be valid JSON")
)

// StorageError reports a failure of the local persistent store
// (I/O, quota, serialization). Callers must catch it; it never crashes the host.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err as a StorageError for op.
// A nil err yields nil so call sites can wrap unconditionally.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Error implements error
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *StorageError) Unwrap() error {
	return e.Err
}

// MigrationError reports a failed schema migration step.
// Version is the step that failed; the store stays at the previous version.
type MigrationError struct {
	Version     uint
	Description string
	Err         error
}

// Error implements error
func (e *MigrationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("migration %d: %v", e.Version, e.Err)
	}
	return fmt.Sprintf("migration %d (%s): %v", e.Version, e.Description, e.Err)
}

// Unwrap returns the underlying cause
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NetworkError reports a failed call to the ERP backend
type NetworkError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error implements error
func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network: %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network: %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsMigrationError reports whether err is or wraps a MigrationError
func IsMigrationError(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}

// IsNetworkError reports whether err is or wraps a NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

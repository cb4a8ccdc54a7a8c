package offline

import (
	"encoding/json"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/scheduler"
)

// EnqueueOperationRequest describes a write made while the backend is unreachable
// @name EnqueueOperationRequest
type EnqueueOperationRequest struct {
	OperationType string          `json:"operation_type" validate:"required,oneof=create update delete"`
	EntityType    string          `json:"entity_type" validate:"required,oneof=providers clients"`
	EntityID      string          `json:"entity_id" validate:"required_unless=OperationType create,max=100"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// PreloadResult summarizes one preload of an entity type.
// Skipped is set when the backend could not be reached; the cache is then unchanged.
// Aborted is set when the local store failed part way; Written records were kept.
type PreloadResult struct {
	EntityType offline.EntityType `json:"entity_type"`
	Fetched    int                `json:"fetched"`
	Written    int                `json:"written"`
	Skipped    bool               `json:"skipped"`
	Aborted    bool               `json:"aborted"`
	Reason     string             `json:"reason,omitempty"`
	Duration   time.Duration      `json:"duration_ns"`
}

// CleanupResult summarizes one age-based eviction pass
type CleanupResult struct {
	Cutoff  time.Time                    `json:"cutoff"`
	Evicted map[offline.EntityType]int64 `json:"evicted"`
}

// Total returns the number of records evicted across entity types
func (r CleanupResult) Total() int64 {
	var total int64
	for _, n := range r.Evicted {
		total += n
	}
	return total
}

// SyncResult summarizes one replay of pending operations
// @name SyncResult
type SyncResult struct {
	Replayed  int    `json:"replayed"`
	Conflicts int    `json:"conflicts"`
	Discarded int    `json:"discarded"`
	Remaining int    `json:"remaining"`
	LastError string `json:"last_error,omitempty"`
}

// SchemaStatus compares the stored schema version with the target version
// @name SchemaStatus
type SchemaStatus struct {
	Current  uint `json:"current"`
	Target   uint `json:"target"`
	UpToDate bool `json:"up_to_date"`
}

// CoordinatorStatus is a snapshot of the coordinator for diagnostics
// @name CoordinatorStatus
type CoordinatorStatus struct {
	State     State                   `json:"state"`
	Online    bool                    `json:"online"`
	StartedAt *time.Time              `json:"started_at,omitempty"`
	LastSync  *SyncResult             `json:"last_sync,omitempty"`
	Cleanup   scheduler.CleanupStatus `json:"cleanup"`
}

// Package offline holds the domain model of the offline reference-data cache:
// cached records, pending operations queued while the ERP backend is unreachable,
// and the storage contract every local store backend implements.
package offline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType tags the kind of reference entity held in a CacheRecord
type EntityType string

const (
	EntityTypeProvider EntityType = "providers"
	EntityTypeClient   EntityType = "clients"
)

// TrackedEntityTypes returns the entity types the cache preloads and evicts
func TrackedEntityTypes() []EntityType {
	return []EntityType{EntityTypeProvider, EntityTypeClient}
}

// IsValid reports whether t is one of the tracked entity types
func (t EntityType) IsValid() bool {
	for _, tracked := range TrackedEntityTypes() {
		if t == tracked {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (t EntityType) String() string {
	return string(t)
}

// CacheRecord wraps a cached reference entity.
// The key is (EntityType, ID); a later Put for the same key replaces the record.
type CacheRecord struct {
	EntityType EntityType      `json:"entity_type"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Key returns the composite store key of the record
func (r CacheRecord) Key() string {
	return RecordKey(r.EntityType, r.ID)
}

// Size returns the approximate serialized size of the record in bytes
func (r CacheRecord) Size() int64 {
	return int64(len(r.Payload) + len(r.ID) + len(r.EntityType))
}

// IsStale reports whether the record was fetched before cutoff
func (r CacheRecord) IsStale(cutoff time.Time) bool {
	return r.FetchedAt.Before(cutoff)
}

// Validate checks the record can be persisted
func (r CacheRecord) Validate() error {
	if !r.EntityType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, r.EntityType)
	}
	if r.ID == "" {
		return ErrMissingEntityID
	}
	if len(r.Payload) == 0 || !json.Valid(r.Payload) {
		return ErrInvalidPayload
	}
	return nil
}

// RecordKey builds the composite key used by key-value backends
func RecordKey(entityType EntityType, id string) string {
	return string(entityType) + ":" + id
}

// Entity is implemented by the reference entities the cache can hold
type Entity interface {
	EntityID() string
	EntityType() EntityType
}

// NewCacheRecord serializes entity into a CacheRecord fetched at fetchedAt
func NewCacheRecord[T Entity](entity T, fetchedAt time.Time) (CacheRecord, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return CacheRecord{}, fmt.Errorf("failed to encode %s %s: %w", entity.EntityType(), entity.EntityID(), err)
	}
	return CacheRecord{
		EntityType: entity.EntityType(),
		ID:         entity.EntityID(),
		Payload:    payload,
		FetchedAt:  fetchedAt,
	}, nil
}

// DecodeEntity decodes the payload of a record into T
func DecodeEntity[T any](record CacheRecord) (T, error) {
	var entity T
	if err := json.Unmarshal(record.Payload, &entity); err != nil {
		return entity, fmt.Errorf("failed to decode %s %s: %w", record.EntityType, record.ID, err)
	}
	return entity, nil
}

// Provider is a supplier of goods, cached for purchasing screens
// @name Provider
type Provider struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	ShortName   string          `json:"short_name,omitempty"`
	Type        string          `json:"type,omitempty"`
	Status      string          `json:"status"`
	ContactName string          `json:"contact_name,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Email       string          `json:"email,omitempty"`
	Address     string          `json:"address,omitempty"`
	CreditDays  int             `json:"credit_days"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Balance     decimal.Decimal `json:"balance"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EntityID implements Entity
func (p Provider) EntityID() string { return p.ID }

// EntityType implements Entity
func (p Provider) EntityType() EntityType { return EntityTypeProvider }

// Client is a customer, cached for point-of-sale screens
// @name Client
type Client struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	ShortName   string          `json:"short_name,omitempty"`
	Type        string          `json:"type,omitempty"`
	Level       string          `json:"level,omitempty"`
	Status      string          `json:"status"`
	ContactName string          `json:"contact_name,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Email       string          `json:"email,omitempty"`
	Address     string          `json:"address,omitempty"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Balance     decimal.Decimal `json:"balance"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EntityID implements Entity
func (c Client) EntityID() string { return c.ID }

// EntityType implements Entity
func (c Client) EntityType() EntityType { return EntityTypeClient }

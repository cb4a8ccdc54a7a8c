package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "offline:"

// RedisCacheStore implements offline.LocalStore on Redis.
//
// Layout under the key prefix:
//
//	records:{type}   hash    id -> stored record JSON
//	fetched:{type}   zset    id scored by fetched_at (unix micros), drives DeleteStale
//	ops              zset    operation id scored by sequence
//	op:{id}          string  operation JSON
//	ops:seq          counter last assigned sequence
//	schema_version   string
type RedisCacheStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ offline.LocalStore = (*RedisCacheStore)(nil)

// storedRecord is the JSON kept in the records hash
type storedRecord struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewRedisCacheStore connects to the Redis server in cfg and verifies it answers
func NewRedisCacheStore(ctx context.Context, cfg config.RedisConfig) (*RedisCacheStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheStoreWithClient creates a store over an existing client
func NewRedisCacheStoreWithClient(client *redis.Client, keyPrefix string) *RedisCacheStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisCacheStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisCacheStore) recordsKey(t offline.EntityType) string {
	return s.keyPrefix + "records:" + string(t)
}

func (s *RedisCacheStore) fetchedKey(t offline.EntityType) string {
	return s.keyPrefix + "fetched:" + string(t)
}

func (s *RedisCacheStore) opsKey() string     { return s.keyPrefix + "ops" }
func (s *RedisCacheStore) opsSeqKey() string  { return s.keyPrefix + "ops:seq" }
func (s *RedisCacheStore) versionKey() string { return s.keyPrefix + "schema_version" }

func (s *RedisCacheStore) opKey(id uuid.UUID) string {
	return s.keyPrefix + "op:" + id.String()
}

func fetchedScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Get returns the record for (entityType, id)
func (s *RedisCacheStore) Get(ctx context.Context, entityType offline.EntityType, id string) (*offline.CacheRecord, error) {
	raw, err := s.client.HGet(ctx, s.recordsKey(entityType), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, offline.ErrRecordNotFound
	}
	if err != nil {
		return nil, offline.NewStorageError("get", err)
	}

	record, err := decodeRecord(entityType, id, raw)
	if err != nil {
		return nil, offline.NewStorageError("get", err)
	}
	return &record, nil
}

// GetAll returns every record of entityType, unordered
func (s *RedisCacheStore) GetAll(ctx context.Context, entityType offline.EntityType) ([]offline.CacheRecord, error) {
	all, err := s.client.HGetAll(ctx, s.recordsKey(entityType)).Result()
	if err != nil {
		return nil, offline.NewStorageError("get_all", err)
	}

	records := make([]offline.CacheRecord, 0, len(all))
	for id, raw := range all {
		record, err := decodeRecord(entityType, id, []byte(raw))
		if err != nil {
			return nil, offline.NewStorageError("get_all", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeRecord(entityType offline.EntityType, id string, raw []byte) (offline.CacheRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return offline.CacheRecord{}, fmt.Errorf("decode record %s: %w", offline.RecordKey(entityType, id), err)
	}
	return offline.CacheRecord{
		EntityType: entityType,
		ID:         id,
		Payload:    stored.Payload,
		FetchedAt:  stored.FetchedAt,
	}, nil
}

// Put writes the record and its fetched_at index in one transaction
func (s *RedisCacheStore) Put(ctx context.Context, record offline.CacheRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(storedRecord{Payload: record.Payload, FetchedAt: record.FetchedAt})
	if err != nil {
		return offline.NewStorageError("put", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordsKey(record.EntityType), record.ID, raw)
		pipe.ZAdd(ctx, s.fetchedKey(record.EntityType), redis.Z{
			Score:  fetchedScore(record.FetchedAt),
			Member: record.ID,
		})
		return nil
	})
	return offline.NewStorageError("put", err)
}

// Delete removes the record if present
func (s *RedisCacheStore) Delete(ctx context.Context, entityType offline.EntityType, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.recordsKey(entityType), id)
		pipe.ZRem(ctx, s.fetchedKey(entityType), id)
		return nil
	})
	return offline.NewStorageError("delete", err)
}

// Clear removes the records of entityTypes, or every record key under the prefix when none are given
func (s *RedisCacheStore) Clear(ctx context.Context, entityTypes ...offline.EntityType) error {
	var keys []string
	if len(entityTypes) == 0 {
		for _, pattern := range []string{s.keyPrefix + "records:*", s.keyPrefix + "fetched:*"} {
			iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				keys = append(keys, iter.Val())
			}
			if err := iter.Err(); err != nil {
				return offline.NewStorageError("clear", err)
			}
		}
	} else {
		for _, t := range entityTypes {
			keys = append(keys, s.recordsKey(t), s.fetchedKey(t))
		}
	}

	if len(keys) == 0 {
		return nil
	}
	return offline.NewStorageError("clear", s.client.Del(ctx, keys...).Err())
}

// deleteStaleScript selects and removes stale ids in one step so a record
// refreshed by a concurrent Put is never evicted. KEYS[1] is the records hash,
// KEYS[2] the fetched-at index and ARGV[1] the exclusive max score.
var deleteStaleScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local removed = 0
for i = 1, #ids, 1000 do
	local chunk = {unpack(ids, i, math.min(i + 999, #ids))}
	removed = removed + redis.call('HDEL', KEYS[1], unpack(chunk))
	redis.call('ZREM', KEYS[2], unpack(chunk))
end
return removed
`)

// DeleteStale removes records of entityType fetched before cutoff
func (s *RedisCacheStore) DeleteStale(ctx context.Context, entityType offline.EntityType, cutoff time.Time) (int64, error) {
	keys := []string{s.recordsKey(entityType), s.fetchedKey(entityType)}
	maxScore := "(" + strconv.FormatFloat(fetchedScore(cutoff), 'f', 0, 64)

	removed, err := deleteStaleScript.Run(ctx, s.client, keys, maxScore).Int64()
	if err != nil {
		return 0, offline.NewStorageError("delete_stale", err)
	}
	return removed, nil
}

// AppendOperation assigns the next sequence and stores op
func (s *RedisCacheStore) AppendOperation(ctx context.Context, op *offline.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	seq, err := s.client.Incr(ctx, s.opsSeqKey()).Result()
	if err != nil {
		return offline.NewStorageError("append_operation", err)
	}
	op.Sequence = seq

	raw, err := json.Marshal(op)
	if err != nil {
		return offline.NewStorageError("append_operation", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.opKey(op.ID), raw, 0)
		pipe.ZAdd(ctx, s.opsKey(), redis.Z{Score: float64(seq), Member: op.ID.String()})
		return nil
	})
	return offline.NewStorageError("append_operation", err)
}

// ListOperations returns all operations in sequence order
func (s *RedisCacheStore) ListOperations(ctx context.Context) ([]offline.PendingOperation, error) {
	ids, err := s.client.ZRange(ctx, s.opsKey(), 0, -1).Result()
	if err != nil {
		return nil, offline.NewStorageError("list_operations", err)
	}
	if len(ids) == 0 {
		return []offline.PendingOperation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyPrefix + "op:" + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, offline.NewStorageError("list_operations", err)
	}

	ops := make([]offline.PendingOperation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between ZRANGE and MGET
			continue
		}
		var op offline.PendingOperation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, offline.NewStorageError("list_operations", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// MarkOperationSynced flags the operation as replayed
func (s *RedisCacheStore) MarkOperationSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	return s.updateOperation(ctx, "mark_synced", id, func(op *offline.PendingOperation) {
		op.MarkSynced(syncedAt)
	})
}

// RecordOperationFailure bumps the attempt counter and stores reason
func (s *RedisCacheStore) RecordOperationFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return s.updateOperation(ctx, "record_failure", id, func(op *offline.PendingOperation) {
		op.RecordFailure(reason)
	})
}

// updateOperation rewrites the operation JSON under WATCH so concurrent updates retry
func (s *RedisCacheStore) updateOperation(ctx context.Context, name string, id uuid.UUID, fn func(*offline.PendingOperation)) error {
	key := s.opKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var op offline.PendingOperation
		if err := json.Unmarshal(raw, &op); err != nil {
			return err
		}
		fn(&op)
		updated, err := json.Marshal(&op)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return offline.ErrOperationNotFound
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return offline.NewStorageError(name, err)
		}
	}
	return offline.NewStorageError(name, redis.TxFailedErr)
}

// DeleteOperation removes the operation if present
func (s *RedisCacheStore) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.opKey(id))
		pipe.ZRem(ctx, s.opsKey(), id.String())
		return nil
	})
	return offline.NewStorageError("delete_operation", err)
}

// ClearOperations removes every operation; the sequence counter keeps counting
func (s *RedisCacheStore) ClearOperations(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.opsKey(), 0, -1).Result()
	if err != nil {
		return offline.NewStorageError("clear_operations", err)
	}

	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, s.opsKey())
	for _, id := range ids {
		keys = append(keys, s.keyPrefix+"op:"+id)
	}
	return offline.NewStorageError("clear_operations", s.client.Del(ctx, keys...).Err())
}

// SchemaVersion returns the stored version, 0 when unset
func (s *RedisCacheStore) SchemaVersion(ctx context.Context) (uint, error) {
	v, err := s.client.Get(ctx, s.versionKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, offline.NewStorageError("schema_version", err)
	}
	return uint(v), nil
}

// SetSchemaVersion stores version
func (s *RedisCacheStore) SetSchemaVersion(ctx context.Context, version uint) error {
	err := s.client.Set(ctx, s.versionKey(), strconv.FormatUint(uint64(version), 10), 0).Err()
	return offline.NewStorageError("set_schema_version", err)
}

// Ping verifies the server answers
func (s *RedisCacheStore) Ping(ctx context.Context) error {
	return offline.NewStorageError("ping", s.client.Ping(ctx).Err())
}

// Close closes the Redis client
func (s *RedisCacheStore) Close() error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client
func (s *RedisCacheStore) GetClient() *redis.Client {
	return s.client
}

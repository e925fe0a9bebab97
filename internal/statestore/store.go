// Package statestore implements the shared state store gateway (C2):
// per-equipment live settings, per-job status, and the advisory locks
// used by the batch enqueuer and lead-lag manager. It is a thin,
// typed wrapper over a Redis-compatible KV store.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/automatabms/corefabric/internal/types"
)

const (
	settingsKeyPrefix = "hvaccp:settings:"
	statusKeyPrefix   = "hvaccp:status:"
	lockKeyPrefix     = "hvaccp:lock:"
	equipmentListKey  = "hvaccp:cache:equipmentList"
	equipmentResultPrefix = "hvaccp:cache:result:"
	leadLagGroupPrefix = "hvaccp:leadlag:"
)

// Config holds the connection parameters for the backing Redis
// instance. There is deliberately no connection-pool tuning exposed
// beyond what go-redis defaults to; the gateway's load profile is
// small relative to what a default pool handles.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is the shared state store gateway. All methods are safe for
// concurrent use; the underlying go-redis client is itself
// goroutine-safe.
type Store struct {
	client *redis.Client
}

// New creates a Store backed by a real Redis connection.
func New(cfg Config) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewWithClient wraps an existing go-redis client, letting tests point
// the gateway at a miniredis instance.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetSettings reads the current operator-facing target state for
// equipmentID. Returns a StoreError with Kind ErrKindNotFound if no
// settings have ever been written for this equipment.
func (s *Store) GetSettings(ctx context.Context, equipmentID string) (*types.EquipmentSettings, error) {
	key := settingsKeyPrefix + equipmentID
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, newNotFoundError(key)
	}
	if err != nil {
		return nil, newConnectionError(key, err)
	}

	var settings types.EquipmentSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, newInvalidValueError(key, err)
	}
	return &settings, nil
}

// PutSettings writes settings for its equipment, without a TTL —
// EquipmentSettings expires only when the equipment is decommissioned,
// never on a clock. Rejects the write if settings.LastModified does
// not strictly exceed the currently stored value, enforcing Invariant
// 4 (lastModified strictly increases across writes).
func (s *Store) PutSettings(ctx context.Context, settings *types.EquipmentSettings) error {
	key := settingsKeyPrefix + settings.EquipmentID

	existing, err := s.GetSettings(ctx, settings.EquipmentID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if existing != nil && settings.LastModified <= existing.LastModified {
		return newInvalidValueError(key, fmt.Errorf("lastModified %q does not advance past %q", settings.LastModified, existing.LastModified))
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return newInvalidValueError(key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return newConnectionError(key, err)
	}
	return nil
}

// GetStatus reads the polled outcome of a queued job.
func (s *Store) GetStatus(ctx context.Context, jobID string) (*types.JobStatus, error) {
	key := statusKeyPrefix + jobID
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, newNotFoundError(key)
	}
	if err != nil {
		return nil, newConnectionError(key, err)
	}

	var status types.JobStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, newInvalidValueError(key, err)
	}
	return &status, nil
}

// PutStatus writes a job's polled status with the ~5-minute TTL
// specified for JobStatus records (§4.2).
func (s *Store) PutStatus(ctx context.Context, jobID string, status *types.JobStatus, ttl time.Duration) error {
	key := statusKeyPrefix + jobID
	raw, err := json.Marshal(status)
	if err != nil {
		return newInvalidValueError(key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return newConnectionError(key, err)
	}
	return nil
}

// AcquireLock attempts to take an advisory lock, returning true if it
// succeeded. Locks are advisory: if the TTL expires under a crashed
// holder, the next attempt simply takes the lock (safe because C3
// dedupes on jobKey).
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := lockKeyPrefix + key
	ok, err := s.client.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil {
		return false, newConnectionError(lockKey, err)
	}
	return ok, nil
}

// ReleaseLock releases an advisory lock early, ahead of its TTL. It is
// safe to call even if the lock was never held or already expired.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	lockKey := lockKeyPrefix + key
	if err := s.client.Del(ctx, lockKey).Err(); err != nil {
		return newConnectionError(lockKey, err)
	}
	return nil
}

// GetEquipmentListCache reads the cached full equipment roster (TTL
// 4h cache), used by the batch enqueuer to avoid re-reading the roster
// source on every 60s tick.
func (s *Store) GetEquipmentListCache(ctx context.Context) ([]types.Equipment, bool, error) {
	raw, err := s.client.Get(ctx, equipmentListKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newConnectionError(equipmentListKey, err)
	}
	var list []types.Equipment
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false, newInvalidValueError(equipmentListKey, err)
	}
	return list, true, nil
}

// PutEquipmentListCache refreshes the cached equipment roster.
func (s *Store) PutEquipmentListCache(ctx context.Context, list []types.Equipment, ttl time.Duration) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return newInvalidValueError(equipmentListKey, err)
	}
	if err := s.client.Set(ctx, equipmentListKey, raw, ttl).Err(); err != nil {
		return newConnectionError(equipmentListKey, err)
	}
	return nil
}

// GetEquipmentResultCache reads the short-lived (2-minute) cached
// result of processing a single equipment item, used by the
// single-equipment cron path (§6) to avoid redoing work on retry.
func (s *Store) GetEquipmentResultCache(ctx context.Context, equipmentID string) (map[string]interface{}, bool, error) {
	key := equipmentResultPrefix + equipmentID
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newConnectionError(key, err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, newInvalidValueError(key, err)
	}
	return result, true, nil
}

// PutEquipmentResultCache writes the single-equipment result cache
// entry with its 2-minute TTL.
func (s *Store) PutEquipmentResultCache(ctx context.Context, equipmentID string, result map[string]interface{}, ttl time.Duration) error {
	key := equipmentResultPrefix + equipmentID
	raw, err := json.Marshal(result)
	if err != nil {
		return newInvalidValueError(key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return newConnectionError(key, err)
	}
	return nil
}

// GetLeadLagGroup reads the runtime record for one lead-lag group
// (current lead, next scheduled changeover, failover state). Returns a
// StoreError with Kind ErrKindNotFound if the group has never been
// written, which callers treat as "seed it from the roster".
func (s *Store) GetLeadLagGroup(ctx context.Context, groupID string) (*types.LeadLagGroup, error) {
	key := leadLagGroupPrefix + groupID
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, newNotFoundError(key)
	}
	if err != nil {
		return nil, newConnectionError(key, err)
	}
	var group types.LeadLagGroup
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, newInvalidValueError(key, err)
	}
	return &group, nil
}

// PutLeadLagGroup writes the runtime record for one lead-lag group,
// without a TTL: a group's lead/failover state persists until the
// lead-lag manager next changes it, never expiring on a clock.
func (s *Store) PutLeadLagGroup(ctx context.Context, group *types.LeadLagGroup) error {
	key := leadLagGroupPrefix + group.GroupID
	raw, err := json.Marshal(group)
	if err != nil {
		return newInvalidValueError(key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return newConnectionError(key, err)
	}
	return nil
}

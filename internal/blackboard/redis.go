package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// RedisAdapter persists blackboard entries as one Redis string per key plus
// a per-run key set. The conditional write runs inside a WATCH/MULTI
// transaction: if any other writer touches the entry between the version
// check and the EXEC, the transaction aborts and the write is reported as a
// version conflict.
type RedisAdapter struct {
	rdb *redis.Client
}

// NewRedisAdapter creates an adapter over an existing client.
func NewRedisAdapter(rdb *redis.Client) *RedisAdapter {
	return &RedisAdapter{rdb: rdb}
}

func (a *RedisAdapter) entryKey(tenantID, runID, key string) string {
	return fmt.Sprintf("backplane:%s:blackboard:%s:entry:%s", tenantID, runID, key)
}

func (a *RedisAdapter) keysKey(tenantID, runID string) string {
	return fmt.Sprintf("backplane:%s:blackboard:%s:keys", tenantID, runID)
}

// Write performs the conditional write.
func (a *RedisAdapter) Write(ctx context.Context, req WriteRequest) (model.BlackboardEntry, error) {
	entryKey := a.entryKey(req.TenantID, req.RunID, req.Key)
	keysKey := a.keysKey(req.TenantID, req.RunID)

	var stored model.BlackboardEntry
	txn := func(tx *redis.Tx) error {
		var current model.BlackboardEntry
		var currentVersion int64
		exists := true

		raw, err := tx.Get(ctx, entryKey).Result()
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("blackboard: read entry: %w", err)
		} else {
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("blackboard: unmarshal entry: %w", err)
			}
			currentVersion = current.Version
		}

		if !req.Force {
			if req.mustNotExist() {
				if exists {
					return fault.VersionConflict(req.Key, 0, currentVersion)
				}
			} else if currentVersion != *req.ExpectedVersion {
				return fault.VersionConflict(req.Key, *req.ExpectedVersion, currentVersion)
			}
		}

		stored = model.BlackboardEntry{
			Key:       req.Key,
			Value:     req.Value,
			Version:   currentVersion + 1,
			RunID:     req.RunID,
			CreatedBy: req.Actor,
			CreatedAt: req.Now,
			UpdatedBy: req.Actor,
			UpdatedAt: req.Now,
		}
		if exists {
			stored.CreatedBy = current.CreatedBy
			stored.CreatedAt = current.CreatedAt
		}
		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("blackboard: marshal entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, entryKey, payload, 0)
			pipe.SAdd(ctx, keysKey, req.Key)
			return nil
		})
		return err
	}

	err := a.rdb.Watch(ctx, txn, entryKey)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent writer advanced the entry between check and EXEC.
		return model.BlackboardEntry{}, a.conflict(ctx, req)
	}
	if err != nil {
		return model.BlackboardEntry{}, err
	}
	return stored, nil
}

// conflict re-reads the current version to build the typed conflict error.
func (a *RedisAdapter) conflict(ctx context.Context, req WriteRequest) error {
	var current int64
	raw, err := a.rdb.Get(ctx, a.entryKey(req.TenantID, req.RunID, req.Key)).Result()
	if err == nil {
		var entry model.BlackboardEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
			current = entry.Version
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("blackboard: read current version: %w", err)
	}
	var expected int64
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	return fault.VersionConflict(req.Key, expected, current)
}

// Read returns the entry for key, or ErrEntryNotFound.
func (a *RedisAdapter) Read(ctx context.Context, tenantID, runID, key string) (model.BlackboardEntry, error) {
	raw, err := a.rdb.Get(ctx, a.entryKey(tenantID, runID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return model.BlackboardEntry{}, ErrEntryNotFound
	}
	if err != nil {
		return model.BlackboardEntry{}, fmt.Errorf("blackboard: read entry: %w", err)
	}
	var entry model.BlackboardEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return model.BlackboardEntry{}, fmt.Errorf("blackboard: unmarshal entry: %w", err)
	}
	return entry, nil
}

// ListKeys returns all keys in the run.
func (a *RedisAdapter) ListKeys(ctx context.Context, tenantID, runID string) ([]string, error) {
	keys, err := a.rdb.SMembers(ctx, a.keysKey(tenantID, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("blackboard: list keys: %w", err)
	}
	return keys, nil
}

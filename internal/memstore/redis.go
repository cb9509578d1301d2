package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/overcast-ai/backplane/internal/model"
)

// RedisAdapter persists memory entries as JSON strings with a companion key
// set per (tenant, mode, user) prefix. Expiry stays lazy at the service
// level, so entries carry no Redis-native TTL.
type RedisAdapter struct {
	rdb *redis.Client
}

func NewRedisAdapter(rdb *redis.Client) *RedisAdapter {
	return &RedisAdapter{rdb: rdb}
}

func entryKey(tenantID string, mode model.Mode, userID, key string) string {
	return fmt.Sprintf("backplane:%s:memstore:%s:%s:entry:%s", tenantID, mode, userID, key)
}

func keysKey(tenantID string, mode model.Mode, userID string) string {
	return fmt.Sprintf("backplane:%s:memstore:%s:%s:keys", tenantID, mode, userID)
}

func (a *RedisAdapter) Set(ctx context.Context, entry model.MemoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memstore: marshal entry: %w", err)
	}
	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(entry.TenantID, entry.Mode, entry.UserID, entry.Key), raw, 0)
		pipe.SAdd(ctx, keysKey(entry.TenantID, entry.Mode, entry.UserID), entry.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("memstore: set entry: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Get(ctx context.Context, tenantID string, mode model.Mode, userID, key string) (model.MemoryEntry, error) {
	raw, err := a.rdb.Get(ctx, entryKey(tenantID, mode, userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.MemoryEntry{}, ErrKeyNotFound
	}
	if err != nil {
		return model.MemoryEntry{}, fmt.Errorf("memstore: get entry: %w", err)
	}
	var entry model.MemoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.MemoryEntry{}, fmt.Errorf("memstore: unmarshal entry: %w", err)
	}
	return entry, nil
}

func (a *RedisAdapter) Delete(ctx context.Context, tenantID string, mode model.Mode, userID, key string) error {
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entryKey(tenantID, mode, userID, key))
		pipe.SRem(ctx, keysKey(tenantID, mode, userID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("memstore: delete entry: %w", err)
	}
	return nil
}

func (a *RedisAdapter) List(ctx context.Context, tenantID string, mode model.Mode, userID string) ([]model.MemoryEntry, error) {
	keys, err := a.rdb.SMembers(ctx, keysKey(tenantID, mode, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("memstore: list keys: %w", err)
	}
	sort.Strings(keys)

	var entries []model.MemoryEntry
	for _, key := range keys {
		entry, err := a.Get(ctx, tenantID, mode, userID, key)
		if errors.Is(err, ErrKeyNotFound) {
			// Stale index member; the entry was deleted out of band.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Package memstore implements the Memory Store: TTL-scoped session state
// keyed by the 4-part composite (tenant, mode, user, key), resolved per
// request through the routing registry.
//
// Expiry is enforced lazily at access time with the service's own clock,
// regardless of any backend-native TTL support. There is no background
// sweeper.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

// ErrKeyNotFound is returned by adapters when a key has no entry.
var ErrKeyNotFound = errors.New("memstore: key not found")

// Adapter is the per-backend persistence contract for memory entries.
// No query shape crosses a user or mode boundary: every operation carries
// the full composite key prefix.
type Adapter interface {
	Set(ctx context.Context, entry model.MemoryEntry) error
	Get(ctx context.Context, tenantID string, mode model.Mode, userID, key string) (model.MemoryEntry, error)
	Delete(ctx context.Context, tenantID string, mode model.Mode, userID, key string) error
	// List returns all entries under the (tenant, mode, user) prefix,
	// including expired ones; the service filters them.
	List(ctx context.Context, tenantID string, mode model.Mode, userID string) ([]model.MemoryEntry, error)
}

// memoryAdapters holds one MemoryAdapter per route id for the process
// lifetime, so per-request service instances share state.
var memoryAdapters sync.Map

// Factories returns the adapter constructors for every supported backend type.
func Factories(pools *backends.Pools) map[model.BackendType]routing.AdapterFactory[Adapter] {
	return map[model.BackendType]routing.AdapterFactory[Adapter]{
		model.BackendPostgres: func(ctx context.Context, route model.ResourceRoute) (Adapter, error) {
			pool, err := pools.Postgres(ctx, route.Config["dsn"])
			if err != nil {
				return nil, err
			}
			return NewPostgresAdapter(pool), nil
		},
		model.BackendRedis: func(_ context.Context, route model.ResourceRoute) (Adapter, error) {
			rdb, err := pools.Redis(route.Config["url"])
			if err != nil {
				return nil, err
			}
			return NewRedisAdapter(rdb), nil
		},
		model.BackendFilesystem: func(_ context.Context, route model.ResourceRoute) (Adapter, error) {
			return NewFilesystemAdapter(route.Config["dir"])
		},
		model.BackendMemory: func(_ context.Context, route model.ResourceRoute) (Adapter, error) {
			a, _ := memoryAdapters.LoadOrStore(route.ID, NewMemoryAdapter())
			return a.(*MemoryAdapter), nil
		},
	}
}

// Package blackboard implements the Blackboard Store: optimistic-concurrency
// shared key/value state scoped to a run, resolved per request through the
// routing registry.
//
// Conflict detection is a conditional write at the adapter boundary, a
// compare-and-set in the backend's own primitives, never a read-then-write
// at the service layer. Concurrent writers in different processes cannot
// race between the check and the write.
package blackboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

// ErrEntryNotFound is returned by adapters when a key has no entry.
var ErrEntryNotFound = errors.New("blackboard: entry not found")

// WriteRequest carries one conditional write.
//
// ExpectedVersion nil or 0 asserts the key must not exist yet. Force skips
// the version check entirely (blind overwrite); the version still advances
// by exactly 1 from whatever was stored.
type WriteRequest struct {
	TenantID        string
	RunID           string
	Key             string
	Value           map[string]any
	ExpectedVersion *int64
	Force           bool
	Actor           string
	Now             time.Time
}

// mustNotExist reports whether the request asserts key absence.
func (r WriteRequest) mustNotExist() bool {
	return !r.Force && (r.ExpectedVersion == nil || *r.ExpectedVersion == 0)
}

// Adapter is the per-backend persistence contract for blackboard entries.
type Adapter interface {
	// Write performs the conditional write, returning the stored entry on
	// success or a typed version-conflict error without touching storage.
	Write(ctx context.Context, req WriteRequest) (model.BlackboardEntry, error)
	// Read returns the entry for key, or ErrEntryNotFound.
	Read(ctx context.Context, tenantID, runID, key string) (model.BlackboardEntry, error)
	// ListKeys returns all keys with entries in the run.
	ListKeys(ctx context.Context, tenantID, runID string) ([]string, error)
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

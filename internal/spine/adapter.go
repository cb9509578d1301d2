// Package spine implements the Event Spine: an append-only audit/telemetry
// ledger with cursor-exclusive replay, resolved per request through the
// routing registry.
package spine

import (
	"context"

	"github.com/google/uuid"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

// ListQuery narrows a replay. AfterEventID is exclusive: returned events
// start strictly after that id in (timestamp, event_id) order. Adapters must
// return a typed invalid-cursor error when the id names no event in the run.
type ListQuery struct {
	TenantID     string
	RunID        string
	AfterEventID *uuid.UUID
	EventType    model.SpineEventType
	Limit        int
}

// Adapter is the per-backend persistence contract for spine events.
// Implemented once per concrete backend.
type Adapter interface {
	AppendEvent(ctx context.Context, event model.SpineEvent) error
	ListEvents(ctx context.Context, q ListQuery) ([]model.SpineEvent, error)
}

// Factories returns the adapter constructors for every supported backend
// type. Connection strings come from the resolved route's config; live
// connections come from the shared pools.
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
			// One store per route for the process lifetime: services are
			// constructed per request and must observe each other's appends.
			a, _ := memoryAdapters.LoadOrStore(route.ID, NewMemoryAdapter())
			return a.(*MemoryAdapter), nil
		},
	}
}

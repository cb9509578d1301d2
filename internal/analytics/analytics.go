// Package analytics implements the analytics sink: a write-only metric
// stream resolved per request through the routing registry. Records are
// append-only and never read back through this service; aggregation happens
// downstream.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

// Adapter is the per-backend persistence contract for analytics records.
type Adapter interface {
	Record(ctx context.Context, rec model.AnalyticsRecord) error
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

// Deps are the process-wide dependencies shared by every Sink instance.
type Deps struct {
	Registry *routing.Registry
	Pools    *backends.Pools
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Sink is a per-request analytics writer bound to one identity.
type Sink struct {
	identity routing.Identity
	res      routing.Resolution[Adapter]
	logger   *slog.Logger
	timeout  time.Duration
	nowFn    func() time.Time
}

// New constructs a Sink for id. Returns the typed missing-route rejection
// (code "analytics.missing_route", status 503) when no route exists and
// id.Mode is sellable.
func New(ctx context.Context, deps Deps, id routing.Identity) (*Sink, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := routing.Resolve(ctx, deps.Registry, model.ResourceAnalytics, id, Factories(deps.Pools), logger)
	if err != nil {
		return nil, err
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		identity: id,
		res:      res,
		logger:   logger,
		timeout:  timeout,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record writes one metric observation.
func (s *Sink) Record(ctx context.Context, metric string, value float64, dimensions map[string]string) error {
	if metric == "" {
		return fault.Validation("metric is required")
	}
	if s.res.Degraded() {
		return fault.DegradedWrite(string(model.ResourceAnalytics))
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceAnalytics, s.res.Route.BackendType); err != nil {
		return err
	}

	rec := model.AnalyticsRecord{
		Metric:     metric,
		TenantID:   s.identity.TenantID,
		Mode:       s.identity.Mode,
		Value:      value,
		Dimensions: dimensions,
		OccurredAt: s.nowFn(),
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.res.Adapter.Record(opCtx, rec); err != nil {
		return fault.BackendIO("analytics: record metric", err)
	}
	return nil
}

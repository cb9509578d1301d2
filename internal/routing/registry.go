package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// Registry is the process-wide handle to the route store. It is read-mostly
// after startup and safe for concurrent use by many request goroutines; the
// backing store's own concurrency guarantees suffice, so the registry adds
// no locking of its own.
type Registry struct {
	store  RouteStore
	logger *slog.Logger
}

// NewRegistry creates a registry over an explicitly chosen store. A nil
// store is a fatal initialization error: there is no silent in-memory
// fallback outside of test wiring.
func NewRegistry(store RouteStore, logger *slog.Logger) (*Registry, error) {
	if store == nil {
		return nil, fault.MissingRegistryBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}, nil
}

// Upsert validates and stores route, replacing any record under the same
// exact key. ID and CreatedAt are assigned on first insert and preserved on
// replace; UpdatedAt is always refreshed.
func (r *Registry) Upsert(ctx context.Context, route model.ResourceRoute) (model.ResourceRoute, error) {
	if err := route.Validate(); err != nil {
		return model.ResourceRoute{}, fault.Validation("invalid route: %v", err)
	}
	now := time.Now().UTC()
	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = now
	}
	route.UpdatedAt = now

	stored, err := r.store.Upsert(ctx, route)
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: upsert %s: %w", route.RouteKey, err)
	}
	return stored, nil
}

// Get returns the route for the exact key, or ErrRouteNotFound. A route
// stored without a project is never returned for a lookup with one, and
// vice versa.
func (r *Registry) Get(ctx context.Context, key model.RouteKey) (model.ResourceRoute, error) {
	if err := key.Validate(); err != nil {
		return model.ResourceRoute{}, fault.Validation("invalid route key: %v", err)
	}
	return r.store.Get(ctx, key)
}

// List returns routes matching filter.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]model.ResourceRoute, error) {
	routes, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("routing: list routes: %w", err)
	}
	return routes, nil
}

// Delete removes the route for the exact key.
func (r *Registry) Delete(ctx context.Context, key model.RouteKey) error {
	if err := key.Validate(); err != nil {
		return fault.Validation("invalid route key: %v", err)
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("routing: delete %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity to the backing store.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close releases the backing store.
func (r *Registry) Close() error {
	return r.store.Close()
}

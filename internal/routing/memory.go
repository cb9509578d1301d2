package routing

import (
	"context"
	"sync"

	"github.com/overcast-ai/backplane/internal/model"
)

// MemoryRouteStore is a mutex-protected in-memory RouteStore.
//
// Test wiring only: the registry constructor refuses to default to it, and
// config refuses to select it without the explicit escape hatch.
type MemoryRouteStore struct {
	mu     sync.RWMutex
	routes map[model.RouteKey]model.ResourceRoute
}

// NewMemoryRouteStore creates an empty in-memory store.
func NewMemoryRouteStore() *MemoryRouteStore {
	return &MemoryRouteStore{routes: make(map[model.RouteKey]model.ResourceRoute)}
}

// Upsert replaces the route under route.RouteKey, preserving identity fields
// of an existing record.
func (s *MemoryRouteStore) Upsert(_ context.Context, route model.ResourceRoute) (model.ResourceRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.routes[route.RouteKey]; ok {
		route.ID = prior.ID
		route.CreatedAt = prior.CreatedAt
	}
	s.routes[route.RouteKey] = cloneRoute(route)
	return route, nil
}

// Get returns the route for the exact key or ErrRouteNotFound.
func (s *MemoryRouteStore) Get(_ context.Context, key model.RouteKey) (model.ResourceRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[key]
	if !ok {
		return model.ResourceRoute{}, ErrRouteNotFound
	}
	return cloneRoute(route), nil
}

// List returns routes matching filter.
func (s *MemoryRouteStore) List(_ context.Context, filter ListFilter) ([]model.ResourceRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ResourceRoute
	for _, route := range s.routes {
		if filter.ResourceKind != "" && route.ResourceKind != filter.ResourceKind {
			continue
		}
		if filter.TenantID != "" && route.TenantID != filter.TenantID {
			continue
		}
		out = append(out, cloneRoute(route))
	}
	return out, nil
}

// Delete removes the route for key. Absent keys are a no-op.
func (s *MemoryRouteStore) Delete(_ context.Context, key model.RouteKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, key)
	return nil
}

// Ping always succeeds.
func (s *MemoryRouteStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryRouteStore) Close() error { return nil }

// cloneRoute copies the config map so callers cannot mutate stored state.
func cloneRoute(r model.ResourceRoute) model.ResourceRoute {
	if r.Config != nil {
		cfg := make(map[string]string, len(r.Config))
		for k, v := range r.Config {
			cfg[k] = v
		}
		r.Config = cfg
	}
	return r
}

// MemoryAuditLog collects audit entries in memory for tests.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []RouteAuditEntry
}

// NewMemoryAuditLog creates an empty audit log.
func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

// Append records entry.
func (l *MemoryAuditLog) Append(_ context.Context, entry RouteAuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a snapshot of recorded entries.
func (l *MemoryAuditLog) Entries() []RouteAuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RouteAuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

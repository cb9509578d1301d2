package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// Identity carries the tenant/env/project/mode a durable service is
// constructed for. Services are built per logical request; the identity is
// fixed for the life of the instance.
type Identity struct {
	TenantID  string
	Env       string
	ProjectID string
	UserID    string
	Mode      model.Mode
}

// RouteKey returns the exact-match lookup key for kind under this identity.
func (id Identity) RouteKey(kind model.ResourceKind) model.RouteKey {
	return model.RouteKey{
		ResourceKind: kind,
		TenantID:     id.TenantID,
		Env:          id.Env,
		ProjectID:    id.ProjectID,
	}
}

// ResolveState is the construction state machine shared by every durable
// service: UNRESOLVED -> RESOLVING -> {RESOLVED, REJECTED, DEGRADED}.
type ResolveState int

const (
	StateUnresolved ResolveState = iota
	StateResolving
	StateResolved
	StateRejected
	StateDegraded
)

// String returns the state name for logs.
func (s ResolveState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateDegraded:
		return "degraded"
	default:
		return "unresolved"
	}
}

// AdapterFactory builds a concrete backend adapter from a resolved route.
type AdapterFactory[T any] func(ctx context.Context, route model.ResourceRoute) (T, error)

// Resolution is the outcome of resolving a service's adapter. In the
// DEGRADED state Adapter is the zero value; reads must return empty/absent
// and writes must fail loudly.
type Resolution[T any] struct {
	State   ResolveState
	Adapter T
	Route   model.ResourceRoute
}

// Degraded reports whether the service runs without a backend (lab only).
func (r Resolution[T]) Degraded() bool { return r.State == StateDegraded }

// Resolve looks up the route for kind under id and constructs the matching
// adapter. The behavior on a missing route is the shared reject-or-degrade
// contract:
//
//   - mode != lab: a typed missing-route rejection with code
//     "<kind>.missing_route" and status 503, propagated unmodified;
//   - mode == lab: a single warning, then a DEGRADED resolution.
//
// There is no automatic retry on rejection; the caller constructs a new
// instance after fixing the route. Every durable service must consume this
// function as-is; a service that falls back to an unrouted local store is
// defective.
func Resolve[T any](ctx context.Context, reg *Registry, kind model.ResourceKind, id Identity,
	factories map[model.BackendType]AdapterFactory[T], logger *slog.Logger) (Resolution[T], error) {

	res := Resolution[T]{State: StateResolving}

	route, err := reg.Get(ctx, id.RouteKey(kind))
	if errors.Is(err, ErrRouteNotFound) {
		if id.Mode == model.ModeLab {
			// One de-duplicated warning per instance; reads stay silent.
			logger.Warn("route not configured, continuing degraded (lab mode)",
				"resource_kind", kind,
				"tenant_id", id.TenantID,
				"env", id.Env,
				"project_id", id.ProjectID)
			res.State = StateDegraded
			return res, nil
		}
		res.State = StateRejected
		return res, fault.MissingRoute(string(kind), id.RouteKey(kind).String())
	}
	if err != nil {
		res.State = StateRejected
		return res, fmt.Errorf("routing: resolve %s: %w", kind, err)
	}

	factory, ok := factories[route.BackendType]
	if !ok {
		res.State = StateRejected
		return res, fault.UnsupportedBackend(string(kind), string(route.BackendType))
	}

	adapter, err := factory(ctx, route)
	if err != nil {
		res.State = StateRejected
		return res, fault.BackendIO(fmt.Sprintf("routing: construct %s adapter for %s", route.BackendType, kind), err)
	}

	res.State = StateResolved
	res.Adapter = adapter
	res.Route = route
	return res, nil
}

// Package routing implements the binding-and-enforcement core: the route
// registry, the backend-class durability guard, the resolve-or-reject
// construction pattern shared by the durable services, the control-plane
// mutation service, and startup diagnostics.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/overcast-ai/backplane/internal/model"
)

// ErrRouteNotFound is returned when no route exists for an exact key.
var ErrRouteNotFound = errors.New("routing: route not found")

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	ResourceKind model.ResourceKind
	TenantID     string
}

// RouteStore is the persistence contract for resource routes. Lookups are
// exact-match on the full 4-tuple key; implementations must never apply
// wildcard or hierarchical fallback.
type RouteStore interface {
	// Upsert replaces the route stored under route.RouteKey, preserving the
	// original ID and CreatedAt when a record already exists.
	Upsert(ctx context.Context, route model.ResourceRoute) (model.ResourceRoute, error)
	// Get returns the route for key, or ErrRouteNotFound.
	Get(ctx context.Context, key model.RouteKey) (model.ResourceRoute, error)
	// List returns routes matching filter, unordered.
	List(ctx context.Context, filter ListFilter) ([]model.ResourceRoute, error)
	// Delete removes the route for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key model.RouteKey) error
	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// RouteAuditEntry is an append-only record of a control-plane mutation.
type RouteAuditEntry struct {
	Actor      string               `json:"actor"`
	Operation  string               `json:"operation"` // "upsert" or "delete"
	RouteKey   model.RouteKey       `json:"route_key"`
	Before     *model.ResourceRoute `json:"before,omitempty"`
	After      *model.ResourceRoute `json:"after,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// AuditLog records control-plane mutations. The target is immutable.
type AuditLog interface {
	Append(ctx context.Context, entry RouteAuditEntry) error
}

// Package notify delivers best-effort, realtime route-change advisories on
// per-tenant streams. The registry write is the single source of truth;
// losing an advisory is acceptable, losing the write is not, so publish
// failures must never fail a control-plane mutation.
package notify

import (
	"context"
	"time"

	"github.com/overcast-ai/backplane/internal/model"
)

// Advisory types published on route mutations.
const (
	TypeRouteChanged         = "ROUTE_CHANGED"
	TypeRouteBackendSwitched = "ROUTE_BACKEND_SWITCHED"
	TypeRouteDeleted         = "ROUTE_DELETED"
)

// RouteChange is the advisory payload published after a route mutation.
type RouteChange struct {
	Type                string            `json:"type"`
	RouteKey            model.RouteKey    `json:"route_key"`
	BackendType         model.BackendType `json:"backend_type,omitempty"`
	PreviousBackendType model.BackendType `json:"previous_backend_type,omitempty"`
	Actor               string            `json:"actor,omitempty"`
	OccurredAt          time.Time         `json:"occurred_at"`
}

// Notifier publishes route-change advisories to the tenant's stream.
type Notifier interface {
	PublishRouteChange(ctx context.Context, change RouteChange) error
	Close() error
}

// Noop discards all advisories. Used when no stream backend is configured.
type Noop struct{}

// PublishRouteChange discards change.
func (Noop) PublishRouteChange(context.Context, RouteChange) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

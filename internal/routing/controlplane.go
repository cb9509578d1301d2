package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/notify"
)

// ControlPlane mutates routes with audit and switch-history tracking.
// It sits beside the request path, never on it: mutations are rare,
// operator-driven point writes serialized by the store's own last-writer-wins
// semantics.
type ControlPlane struct {
	registry *Registry
	audit    AuditLog
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewControlPlane creates the control-plane service. audit and notifier may
// not be nil; pass notify.Noop{} when no stream backend is configured.
func NewControlPlane(registry *Registry, audit AuditLog, notifier notify.Notifier, logger *slog.Logger) *ControlPlane {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlPlane{registry: registry, audit: audit, notifier: notifier, logger: logger}
}

// UpsertRoute persists route and records who changed what. If backend_type
// changed relative to the prior record and the caller supplied no explicit
// previous_backend_type, it is derived from the prior record and
// last_switch_time is stamped.
//
// Order matters: the registry write is the durable source of truth and
// happens first; the audit append and the per-tenant advisory are
// best-effort and never fail the mutation.
func (cp *ControlPlane) UpsertRoute(ctx context.Context, route model.ResourceRoute, actor string) (model.ResourceRoute, error) {
	var prior *model.ResourceRoute
	existing, err := cp.registry.Get(ctx, route.RouteKey)
	switch {
	case err == nil:
		prior = &existing
	case errors.Is(err, ErrRouteNotFound):
		// First binding for this key.
	default:
		return model.ResourceRoute{}, err
	}

	switched := prior != nil && prior.BackendType != route.BackendType
	if switched && route.PreviousBackendType == "" {
		route.PreviousBackendType = prior.BackendType
		now := time.Now().UTC()
		route.LastSwitchTime = &now
	}

	stored, err := cp.registry.Upsert(ctx, route)
	if err != nil {
		return model.ResourceRoute{}, err
	}

	cp.recordAudit(ctx, RouteAuditEntry{
		Actor:      actor,
		Operation:  "upsert",
		RouteKey:   stored.RouteKey,
		Before:     prior,
		After:      &stored,
		OccurredAt: time.Now().UTC(),
	})

	advisoryType := notify.TypeRouteChanged
	if switched {
		advisoryType = notify.TypeRouteBackendSwitched
	}
	cp.publish(ctx, notify.RouteChange{
		Type:                advisoryType,
		RouteKey:            stored.RouteKey,
		BackendType:         stored.BackendType,
		PreviousBackendType: stored.PreviousBackendType,
		Actor:               actor,
		OccurredAt:          time.Now().UTC(),
	})

	return stored, nil
}

// DeleteRoute removes the route for key with the same audit and advisory
// treatment as upserts. Deleting an absent key is a no-op.
func (cp *ControlPlane) DeleteRoute(ctx context.Context, key model.RouteKey, actor string) error {
	var prior *model.ResourceRoute
	existing, err := cp.registry.Get(ctx, key)
	switch {
	case err == nil:
		prior = &existing
	case errors.Is(err, ErrRouteNotFound):
		return nil
	default:
		return err
	}

	if err := cp.registry.Delete(ctx, key); err != nil {
		return err
	}

	cp.recordAudit(ctx, RouteAuditEntry{
		Actor:      actor,
		Operation:  "delete",
		RouteKey:   key,
		Before:     prior,
		OccurredAt: time.Now().UTC(),
	})
	cp.publish(ctx, notify.RouteChange{
		Type:                notify.TypeRouteDeleted,
		RouteKey:            key,
		PreviousBackendType: prior.BackendType,
		Actor:               actor,
		OccurredAt:          time.Now().UTC(),
	})
	return nil
}

func (cp *ControlPlane) recordAudit(ctx context.Context, entry RouteAuditEntry) {
	if err := cp.audit.Append(ctx, entry); err != nil {
		cp.logger.Error("control plane: audit append failed",
			"route_key", entry.RouteKey.String(), "operation", entry.Operation, "error", err)
	}
}

func (cp *ControlPlane) publish(ctx context.Context, change notify.RouteChange) {
	if err := cp.notifier.PublishRouteChange(ctx, change); err != nil {
		// Advisory only. The registry write already succeeded.
		cp.logger.Warn("control plane: route advisory publish failed",
			"route_key", change.RouteKey.String(), "type", change.Type, "error", err)
	}
}

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/overcast-ai/backplane/internal/model"
)

// Diagnostics is a warning-first startup health view over the fixed critical
// resource set. Unlike the per-operation reject-or-degrade contract, it only
// observes: a missing route here is a warning line, never an error, and
// process startup proceeds regardless. Both failure philosophies coexist
// deliberately.
type Diagnostics struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDiagnostics creates a diagnostics view over registry.
func NewDiagnostics(registry *Registry, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{registry: registry, logger: logger}
}

// CheckRoutes reports, per critical resource kind, whether a route is
// configured for (tenant, env). It never returns an error: lookup failures
// count as not configured.
func (d *Diagnostics) CheckRoutes(ctx context.Context, tenantID, env string) map[model.ResourceKind]model.RouteHealthStatus {
	statuses := make(map[model.ResourceKind]model.RouteHealthStatus, len(model.CriticalResourceKinds))
	for _, kind := range model.CriticalResourceKinds {
		status := model.RouteHealthStatus{ResourceKind: kind}
		route, err := d.registry.Get(ctx, model.RouteKey{
			ResourceKind: kind,
			TenantID:     tenantID,
			Env:          env,
		})
		switch {
		case err == nil:
			status.IsConfigured = true
			status.BackendType = route.BackendType
		case errors.Is(err, ErrRouteNotFound):
			// Not configured.
		default:
			d.logger.Warn("diagnostics: route check failed",
				"resource_kind", kind, "tenant_id", tenantID, "env", env, "error", err)
		}
		statuses[kind] = status
	}
	return statuses
}

// StartupDiagnostics renders a human-readable health summary, listing
// missing critical resources as warnings.
func (d *Diagnostics) StartupDiagnostics(ctx context.Context, tenantID, env string) string {
	statuses := d.CheckRoutes(ctx, tenantID, env)

	var b strings.Builder
	fmt.Fprintf(&b, "route diagnostics for tenant=%s env=%s\n", tenantID, env)
	for _, kind := range model.CriticalResourceKinds {
		status := statuses[kind]
		if status.IsConfigured {
			fmt.Fprintf(&b, "  ok      %-18s backend=%s\n", kind, status.BackendType)
		} else {
			fmt.Fprintf(&b, "  WARNING %-18s no route configured\n", kind)
		}
	}
	return b.String()
}

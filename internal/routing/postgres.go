package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overcast-ai/backplane/internal/model"
)

// PostgresRouteStore persists routes in the resource_routes table. Upserts
// ride on the unique (resource_kind, tenant_id, env, project_id) constraint,
// so concurrent writers to the same key serialize on the row with
// last-writer-wins semantics.
type PostgresRouteStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRouteStore creates a store over an existing pool. The pool is
// shared process-wide; Close here does not close it.
func NewPostgresRouteStore(pool *pgxpool.Pool) *PostgresRouteStore {
	return &PostgresRouteStore{pool: pool}
}

const routeColumns = `id, resource_kind, tenant_id, env, project_id, backend_type, config,
	required, created_at, updated_at, previous_backend_type, switch_rationale, last_switch_time`

// Upsert replaces the route stored under route.RouteKey, preserving the
// original id and created_at when the key already exists.
func (s *PostgresRouteStore) Upsert(ctx context.Context, route model.ResourceRoute) (model.ResourceRoute, error) {
	cfg, err := json.Marshal(route.Config)
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: marshal route config: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO resource_routes (`+routeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (resource_kind, tenant_id, env, project_id) DO UPDATE SET
			backend_type = EXCLUDED.backend_type,
			config = EXCLUDED.config,
			required = EXCLUDED.required,
			updated_at = EXCLUDED.updated_at,
			previous_backend_type = EXCLUDED.previous_backend_type,
			switch_rationale = EXCLUDED.switch_rationale,
			last_switch_time = EXCLUDED.last_switch_time
		RETURNING `+routeColumns,
		route.ID, route.ResourceKind, route.TenantID, route.Env, route.ProjectID,
		route.BackendType, cfg, route.Required, route.CreatedAt, route.UpdatedAt,
		route.PreviousBackendType, route.SwitchRationale, route.LastSwitchTime,
	)
	stored, err := scanRoute(row)
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: upsert route: %w", err)
	}
	return stored, nil
}

// Get returns the route for the exact key or ErrRouteNotFound.
func (s *PostgresRouteStore) Get(ctx context.Context, key model.RouteKey) (model.ResourceRoute, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+routeColumns+`
		FROM resource_routes
		WHERE resource_kind = $1 AND tenant_id = $2 AND env = $3 AND project_id = $4`,
		key.ResourceKind, key.TenantID, key.Env, key.ProjectID,
	)
	route, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ResourceRoute{}, ErrRouteNotFound
	}
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: get route: %w", err)
	}
	return route, nil
}

// List returns routes matching filter.
func (s *PostgresRouteStore) List(ctx context.Context, filter ListFilter) ([]model.ResourceRoute, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+routeColumns+`
		FROM resource_routes
		WHERE ($1 = '' OR resource_kind = $1)
		  AND ($2 = '' OR tenant_id = $2)
		ORDER BY tenant_id, resource_kind, env, project_id`,
		string(filter.ResourceKind), filter.TenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("routing: list routes: %w", err)
	}
	defer rows.Close()

	var out []model.ResourceRoute
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan route: %w", err)
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

// Delete removes the route for key. Absent keys are a no-op.
func (s *PostgresRouteStore) Delete(ctx context.Context, key model.RouteKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM resource_routes
		WHERE resource_kind = $1 AND tenant_id = $2 AND env = $3 AND project_id = $4`,
		key.ResourceKind, key.TenantID, key.Env, key.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("routing: delete route: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresRouteStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the shared pool is owned by the process.
func (s *PostgresRouteStore) Close() error { return nil }

func scanRoute(row pgx.Row) (model.ResourceRoute, error) {
	var (
		route      model.ResourceRoute
		cfg        []byte
		lastSwitch *time.Time
	)
	err := row.Scan(
		&route.ID, &route.ResourceKind, &route.TenantID, &route.Env, &route.ProjectID,
		&route.BackendType, &cfg, &route.Required, &route.CreatedAt, &route.UpdatedAt,
		&route.PreviousBackendType, &route.SwitchRationale, &lastSwitch,
	)
	if err != nil {
		return model.ResourceRoute{}, err
	}
	route.LastSwitchTime = lastSwitch
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &route.Config); err != nil {
			return model.ResourceRoute{}, fmt.Errorf("unmarshal route config: %w", err)
		}
	}
	return route, nil
}

// PostgresAuditLog appends control-plane mutations to route_audit_log.
// The target table is immutable.
type PostgresAuditLog struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditLog creates an audit log over an existing pool.
func NewPostgresAuditLog(pool *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{pool: pool}
}

// Append records entry.
func (l *PostgresAuditLog) Append(ctx context.Context, entry RouteAuditEntry) error {
	var beforeJSON, afterJSON []byte
	var err error
	if entry.Before != nil {
		if beforeJSON, err = json.Marshal(entry.Before); err != nil {
			return fmt.Errorf("routing: marshal audit before_data: %w", err)
		}
	}
	if entry.After != nil {
		if afterJSON, err = json.Marshal(entry.After); err != nil {
			return fmt.Errorf("routing: marshal audit after_data: %w", err)
		}
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO route_audit_log (
			actor, operation, resource_kind, tenant_id, env, project_id,
			before_data, after_data, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Actor, entry.Operation, entry.RouteKey.ResourceKind, entry.RouteKey.TenantID,
		entry.RouteKey.Env, entry.RouteKey.ProjectID, beforeJSON, afterJSON, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("routing: insert audit entry: %w", err)
	}
	return nil
}

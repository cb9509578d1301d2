package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/overcast-ai/backplane/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS resource_routes (
	id                    TEXT PRIMARY KEY,
	resource_kind         TEXT NOT NULL,
	tenant_id             TEXT NOT NULL,
	env                   TEXT NOT NULL,
	project_id            TEXT NOT NULL DEFAULT '',
	backend_type          TEXT NOT NULL,
	config                TEXT NOT NULL DEFAULT '{}',
	required              INTEGER NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	previous_backend_type TEXT NOT NULL DEFAULT '',
	switch_rationale      TEXT NOT NULL DEFAULT '',
	last_switch_time      TEXT,
	UNIQUE (resource_kind, tenant_id, env, project_id)
);`

// SQLiteRouteStore persists routes in a local SQLite file. Suitable for
// single-node deployments where the registry itself has no HA requirement;
// the routes it serves can still point at shared durable backends.
type SQLiteRouteStore struct {
	db *sql.DB
}

// NewSQLiteRouteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteRouteStore(ctx context.Context, path string) (*SQLiteRouteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("routing: open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent control-plane calls.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("routing: init sqlite schema: %w", err)
	}
	return &SQLiteRouteStore{db: db}, nil
}

// Upsert replaces the route stored under route.RouteKey, preserving the
// original id and created_at when the key already exists.
func (s *SQLiteRouteStore) Upsert(ctx context.Context, route model.ResourceRoute) (model.ResourceRoute, error) {
	cfg, err := json.Marshal(route.Config)
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: marshal route config: %w", err)
	}
	var lastSwitch any
	if route.LastSwitchTime != nil {
		lastSwitch = route.LastSwitchTime.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_routes (
			id, resource_kind, tenant_id, env, project_id, backend_type, config,
			required, created_at, updated_at, previous_backend_type,
			switch_rationale, last_switch_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_kind, tenant_id, env, project_id) DO UPDATE SET
			backend_type = excluded.backend_type,
			config = excluded.config,
			required = excluded.required,
			updated_at = excluded.updated_at,
			previous_backend_type = excluded.previous_backend_type,
			switch_rationale = excluded.switch_rationale,
			last_switch_time = excluded.last_switch_time`,
		route.ID.String(), route.ResourceKind, route.TenantID, route.Env, route.ProjectID,
		route.BackendType, string(cfg), route.Required,
		route.CreatedAt.UTC().Format(time.RFC3339Nano),
		route.UpdatedAt.UTC().Format(time.RFC3339Nano),
		route.PreviousBackendType, route.SwitchRationale, lastSwitch,
	)
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: upsert route: %w", err)
	}
	return s.Get(ctx, route.RouteKey)
}

// Get returns the route for the exact key or ErrRouteNotFound.
func (s *SQLiteRouteStore) Get(ctx context.Context, key model.RouteKey) (model.ResourceRoute, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_kind, tenant_id, env, project_id, backend_type, config,
			required, created_at, updated_at, previous_backend_type,
			switch_rationale, last_switch_time
		FROM resource_routes
		WHERE resource_kind = ? AND tenant_id = ? AND env = ? AND project_id = ?`,
		key.ResourceKind, key.TenantID, key.Env, key.ProjectID,
	)
	route, err := scanSQLiteRoute(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ResourceRoute{}, ErrRouteNotFound
	}
	if err != nil {
		return model.ResourceRoute{}, fmt.Errorf("routing: get route: %w", err)
	}
	return route, nil
}

// List returns routes matching filter.
func (s *SQLiteRouteStore) List(ctx context.Context, filter ListFilter) ([]model.ResourceRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_kind, tenant_id, env, project_id, backend_type, config,
			required, created_at, updated_at, previous_backend_type,
			switch_rationale, last_switch_time
		FROM resource_routes
		WHERE (? = '' OR resource_kind = ?)
		  AND (? = '' OR tenant_id = ?)
		ORDER BY tenant_id, resource_kind, env, project_id`,
		string(filter.ResourceKind), string(filter.ResourceKind),
		filter.TenantID, filter.TenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("routing: list routes: %w", err)
	}
	defer rows.Close()

	var out []model.ResourceRoute
	for rows.Next() {
		route, err := scanSQLiteRoute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("routing: scan route: %w", err)
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

// Delete removes the route for key. Absent keys are a no-op.
func (s *SQLiteRouteStore) Delete(ctx context.Context, key model.RouteKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_routes
		WHERE resource_kind = ? AND tenant_id = ? AND env = ? AND project_id = ?`,
		key.ResourceKind, key.TenantID, key.Env, key.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("routing: delete route: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteRouteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteRouteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteRoute(scan func(dest ...any) error) (model.ResourceRoute, error) {
	var (
		route                         model.ResourceRoute
		id, cfg, createdAt, updatedAt string
		lastSwitch                    sql.NullString
	)
	err := scan(
		&id, &route.ResourceKind, &route.TenantID, &route.Env, &route.ProjectID,
		&route.BackendType, &cfg, &route.Required, &createdAt, &updatedAt,
		&route.PreviousBackendType, &route.SwitchRationale, &lastSwitch,
	)
	if err != nil {
		return model.ResourceRoute{}, err
	}
	if route.ID, err = uuid.Parse(id); err != nil {
		return model.ResourceRoute{}, fmt.Errorf("parse route id: %w", err)
	}
	if route.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.ResourceRoute{}, fmt.Errorf("parse created_at: %w", err)
	}
	if route.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.ResourceRoute{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastSwitch.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSwitch.String)
		if err != nil {
			return model.ResourceRoute{}, fmt.Errorf("parse last_switch_time: %w", err)
		}
		route.LastSwitchTime = &t
	}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &route.Config); err != nil {
			return model.ResourceRoute{}, fmt.Errorf("unmarshal route config: %w", err)
		}
	}
	return route, nil
}

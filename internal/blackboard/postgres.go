package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// PostgresAdapter persists blackboard entries in the blackboard_entries
// table. The conditional write is a single SQL statement whose WHERE clause
// (or unique-key conflict) carries the version check, so concurrent writers
// in different processes serialize on the row.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter creates an adapter over an existing pool.
func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

const bbColumns = `key, value, version, run_id, created_by, created_at, updated_by, updated_at`

// Write performs the conditional write.
func (a *PostgresAdapter) Write(ctx context.Context, req WriteRequest) (model.BlackboardEntry, error) {
	value, err := json.Marshal(req.Value)
	if err != nil {
		return model.BlackboardEntry{}, fmt.Errorf("blackboard: marshal value: %w", err)
	}

	var row pgx.Row
	switch {
	case req.Force:
		row = a.pool.QueryRow(ctx, `
			INSERT INTO blackboard_entries (tenant_id, run_id, key, value, version,
				created_by, created_at, updated_by, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6, $5, $6)
			ON CONFLICT (tenant_id, run_id, key) DO UPDATE SET
				value = EXCLUDED.value,
				version = blackboard_entries.version + 1,
				updated_by = EXCLUDED.updated_by,
				updated_at = EXCLUDED.updated_at
			RETURNING `+bbColumns,
			req.TenantID, req.RunID, req.Key, value, req.Actor, req.Now,
		)
	case req.mustNotExist():
		row = a.pool.QueryRow(ctx, `
			INSERT INTO blackboard_entries (tenant_id, run_id, key, value, version,
				created_by, created_at, updated_by, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6, $5, $6)
			ON CONFLICT (tenant_id, run_id, key) DO NOTHING
			RETURNING `+bbColumns,
			req.TenantID, req.RunID, req.Key, value, req.Actor, req.Now,
		)
	default:
		row = a.pool.QueryRow(ctx, `
			UPDATE blackboard_entries SET
				value = $5,
				version = version + 1,
				updated_by = $6,
				updated_at = $7
			WHERE tenant_id = $1 AND run_id = $2 AND key = $3 AND version = $4
			RETURNING `+bbColumns,
			req.TenantID, req.RunID, req.Key, *req.ExpectedVersion, value, req.Actor, req.Now,
		)
	}

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional write matched nothing: report the version the
		// caller lost to.
		return model.BlackboardEntry{}, a.conflict(ctx, req)
	}
	if err != nil {
		return model.BlackboardEntry{}, fmt.Errorf("blackboard: write entry: %w", err)
	}
	return entry, nil
}

// conflict builds the typed conflict error carrying the current version.
func (a *PostgresAdapter) conflict(ctx context.Context, req WriteRequest) error {
	var current int64
	err := a.pool.QueryRow(ctx, `
		SELECT version FROM blackboard_entries
		WHERE tenant_id = $1 AND run_id = $2 AND key = $3`,
		req.TenantID, req.RunID, req.Key,
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("blackboard: read current version: %w", err)
	}
	var expected int64
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	return fault.VersionConflict(req.Key, expected, current)
}

// Read returns the entry for key, or ErrEntryNotFound.
func (a *PostgresAdapter) Read(ctx context.Context, tenantID, runID, key string) (model.BlackboardEntry, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT `+bbColumns+` FROM blackboard_entries
		WHERE tenant_id = $1 AND run_id = $2 AND key = $3`,
		tenantID, runID, key,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BlackboardEntry{}, ErrEntryNotFound
	}
	if err != nil {
		return model.BlackboardEntry{}, fmt.Errorf("blackboard: read entry: %w", err)
	}
	return entry, nil
}

// ListKeys returns all keys in the run.
func (a *PostgresAdapter) ListKeys(ctx context.Context, tenantID, runID string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT key FROM blackboard_entries
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY key`,
		tenantID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("blackboard: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("blackboard: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanEntry(row pgx.Row) (model.BlackboardEntry, error) {
	var (
		entry model.BlackboardEntry
		value []byte
	)
	err := row.Scan(
		&entry.Key, &value, &entry.Version, &entry.RunID,
		&entry.CreatedBy, &entry.CreatedAt, &entry.UpdatedBy, &entry.UpdatedAt,
	)
	if err != nil {
		return model.BlackboardEntry{}, err
	}
	if len(value) > 0 {
		if err := json.Unmarshal(value, &entry.Value); err != nil {
			return model.BlackboardEntry{}, fmt.Errorf("unmarshal value: %w", err)
		}
	}
	return entry, nil
}

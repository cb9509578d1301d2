package memstore

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

// PostgresAdapter persists memory entries in the memory_entries table.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

const memColumns = "tenant_id, mode, user_id, key, value, created_at, expires_at"

func (a *PostgresAdapter) Set(ctx context.Context, entry model.MemoryEntry) error {
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("memstore: marshal value: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO memory_entries (`+memColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, mode, user_id, key) DO UPDATE SET
			value      = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.TenantID, string(entry.Mode), entry.UserID, entry.Key,
		value, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("memstore: upsert entry: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Get(ctx context.Context, tenantID string, mode model.Mode, userID, key string) (model.MemoryEntry, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT `+memColumns+` FROM memory_entries
		WHERE tenant_id = $1 AND mode = $2 AND user_id = $3 AND key = $4`,
		tenantID, string(mode), userID, key,
	)
	entry, err := scanMemoryEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MemoryEntry{}, ErrKeyNotFound
	}
	if err != nil {
		return model.MemoryEntry{}, fmt.Errorf("memstore: get entry: %w", err)
	}
	return entry, nil
}

func (a *PostgresAdapter) Delete(ctx context.Context, tenantID string, mode model.Mode, userID, key string) error {
	_, err := a.pool.Exec(ctx, `
		DELETE FROM memory_entries
		WHERE tenant_id = $1 AND mode = $2 AND user_id = $3 AND key = $4`,
		tenantID, string(mode), userID, key,
	)
	if err != nil {
		return fmt.Errorf("memstore: delete entry: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) List(ctx context.Context, tenantID string, mode model.Mode, userID string) ([]model.MemoryEntry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT `+memColumns+` FROM memory_entries
		WHERE tenant_id = $1 AND mode = $2 AND user_id = $3
		ORDER BY key ASC`,
		tenantID, string(mode), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("memstore: list entries: %w", err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		entry, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("memstore: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanMemoryEntry(row pgx.Row) (model.MemoryEntry, error) {
	var (
		entry     model.MemoryEntry
		mode      string
		value     []byte
		expiresAt *time.Time
	)
	if err := row.Scan(&entry.TenantID, &mode, &entry.UserID, &entry.Key, &value, &entry.CreatedAt, &expiresAt); err != nil {
		return model.MemoryEntry{}, err
	}
	entry.Mode = model.Mode(mode)
	entry.ExpiresAt = expiresAt
	if len(value) > 0 {
		if err := json.Unmarshal(value, &entry.Value); err != nil {
			return model.MemoryEntry{}, fmt.Errorf("unmarshal value: %w", err)
		}
	}
	return entry, nil
}

package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/overcast-ai/backplane/internal/model"
)

// PostgresAdapter appends records to the analytics_records table.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (a *PostgresAdapter) Record(ctx context.Context, rec model.AnalyticsRecord) error {
	dims, err := json.Marshal(rec.Dimensions)
	if err != nil {
		return fmt.Errorf("analytics: marshal dimensions: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO analytics_records (metric, tenant_id, mode, value, dimensions, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Metric, rec.TenantID, string(rec.Mode), rec.Value, dims, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("analytics: insert record: %w", err)
	}
	return nil
}

// RedisAdapter appends records to a per-tenant list for downstream drain.
type RedisAdapter struct {
	rdb *redis.Client
}

func NewRedisAdapter(rdb *redis.Client) *RedisAdapter {
	return &RedisAdapter{rdb: rdb}
}

func recordsKey(tenantID string) string {
	return fmt.Sprintf("backplane:%s:analytics:records", tenantID)
}

func (a *RedisAdapter) Record(ctx context.Context, rec model.AnalyticsRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("analytics: marshal record: %w", err)
	}
	if err := a.rdb.RPush(ctx, recordsKey(rec.TenantID), raw).Err(); err != nil {
		return fmt.Errorf("analytics: push record: %w", err)
	}
	return nil
}

// FilesystemAdapter appends records as JSON lines, one file per tenant.
type FilesystemAdapter struct {
	dir string
	mu  sync.Mutex
}

func NewFilesystemAdapter(dir string) (*FilesystemAdapter, error) {
	if dir == "" {
		return nil, fmt.Errorf("analytics: filesystem backend requires config key %q", "dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("analytics: create dir: %w", err)
	}
	return &FilesystemAdapter{dir: dir}, nil
}

func (a *FilesystemAdapter) Record(_ context.Context, rec model.AnalyticsRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("analytics: marshal record: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	path := filepath.Join(a.dir, rec.TenantID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("analytics: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("analytics: append record: %w", err)
	}
	return nil
}

// MemoryAdapter keeps records in process memory for lab mode and tests.
type MemoryAdapter struct {
	mu      sync.RWMutex
	records []model.AnalyticsRecord
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (a *MemoryAdapter) Record(_ context.Context, rec model.AnalyticsRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (a *MemoryAdapter) Records() []model.AnalyticsRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.AnalyticsRecord, len(a.records))
	copy(out, a.records)
	return out
}

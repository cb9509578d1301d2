// Package backends manages shared connections to physical backends.
//
// Durable services are constructed per request, so they cannot own
// connections: Pools caches one pgx pool per Postgres DSN and one Redis
// client per URL, keyed by the connection string carried in a route's
// config. Adapter factories resolve their connection here instead of
// redialing.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Pools caches live backend connections for the life of the process.
type Pools struct {
	logger *slog.Logger

	mu    sync.Mutex
	pg    map[string]*pgxpool.Pool
	redis map[string]*redis.Client
}

// NewPools creates an empty connection cache.
func NewPools(logger *slog.Logger) *Pools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pools{
		logger: logger,
		pg:     make(map[string]*pgxpool.Pool),
		redis:  make(map[string]*redis.Client),
	}
}

// Postgres returns the pool for dsn, dialing and pinging it on first use.
func (p *Pools) Postgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("backends: empty postgres dsn")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pg[dsn]; ok {
		return pool, nil
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("backends: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backends: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("backends: ping postgres: %w", err)
	}

	p.logger.Info("backends: postgres pool opened", "host", cfg.ConnConfig.Host)
	p.pg[dsn] = pool
	return pool, nil
}

// Redis returns the client for url, dialing it on first use.
func (p *Pools) Redis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("backends: empty redis url")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if rdb, ok := p.redis[url]; ok {
		return rdb, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("backends: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	p.logger.Info("backends: redis client opened", "addr", opts.Addr)
	p.redis[url] = rdb
	return rdb, nil
}

// Close shuts down every cached connection.
func (p *Pools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for dsn, pool := range p.pg {
		pool.Close()
		delete(p.pg, dsn)
	}
	for url, rdb := range p.redis {
		if err := rdb.Close(); err != nil {
			p.logger.Warn("backends: close redis client", "error", err)
		}
		delete(p.redis, url)
	}
}

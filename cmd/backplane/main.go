package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/config"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/notify"
	"github.com/overcast-ai/backplane/internal/routing"
	"github.com/overcast-ai/backplane/internal/server"
	"github.com/overcast-ai/backplane/internal/telemetry"
	"github.com/overcast-ai/backplane/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("BACKPLANE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("backplane starting", "version", version, "port", cfg.Port,
		"registry_backend", string(cfg.RegistryBackend))

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version,
		string(cfg.RegistryBackend), cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	pools := backends.NewPools(logger)
	defer pools.Close()

	// Bootstrap the registry's own store. There is no fallback: an
	// unconfigured backend already failed config.Validate.
	store, audit, err := bootstrapRegistryStore(ctx, cfg, pools, logger)
	if err != nil {
		return err
	}

	registry, err := routing.NewRegistry(store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	// Route-change notifications ride the Redis pub/sub channel when configured.
	var notifier notify.Notifier = notify.Noop{}
	if cfg.RedisURL != "" {
		rdb, err := pools.Redis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		notifier = notify.NewRedisNotifier(rdb)
		logger.Info("route notifications: redis pub/sub")
	} else {
		logger.Info("route notifications: disabled (no REDIS_URL)")
	}

	controlPlane := routing.NewControlPlane(registry, audit, notifier, logger)
	diagnostics := routing.NewDiagnostics(registry, logger)

	// Startup diagnostics are warn-only; missing routes never block boot.
	if tenant := os.Getenv("BACKPLANE_DIAG_TENANT"); tenant != "" {
		env := os.Getenv("BACKPLANE_DIAG_ENV")
		if env == "" {
			env = "prod"
		}
		if report := diagnostics.StartupDiagnostics(ctx, tenant, env); report != "" {
			logger.Warn("startup diagnostics", "report", report)
		}
	}

	srv := server.New(server.ServerConfig{
		Registry:            registry,
		ControlPlane:        controlPlane,
		Diagnostics:         diagnostics,
		Pools:               pools,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		BackendTimeout:      cfg.BackendTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// bootstrapRegistryStore opens the registry's own persistence per the
// BACKPLANE_REGISTRY_BACKEND selector, applying embedded migrations for
// Postgres when BACKPLANE_AUTO_MIGRATE is set.
func bootstrapRegistryStore(ctx context.Context, cfg config.Config, pools *backends.Pools, logger *slog.Logger) (routing.RouteStore, routing.AuditLog, error) {
	switch cfg.RegistryBackend {
	case model.BackendPostgres:
		pool, err := pools.Postgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("registry postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := backends.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		return routing.NewPostgresRouteStore(pool), routing.NewPostgresAuditLog(pool), nil

	case model.BackendSQLite:
		store, err := routing.NewSQLiteRouteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("registry sqlite: %w", err)
		}
		return store, routing.NewMemoryAuditLog(), nil

	case model.BackendMemory:
		// Guarded by config.Validate: requires the explicit escape hatch.
		logger.Warn("registry backend: in-memory, routes will not survive restart")
		return routing.NewMemoryRouteStore(), routing.NewMemoryAuditLog(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported registry backend %q", cfg.RegistryBackend)
	}
}

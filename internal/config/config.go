// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/overcast-ai/backplane/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Routing registry bootstrap. This selector chooses the registry's OWN
	// storage backend and is orthogonal to the per-resource routes it serves.
	// There is no default: an unset value is a fatal startup error, never a
	// silent fall back to an in-memory implementation.
	RegistryBackend     model.BackendType
	AllowMemoryRegistry bool // test wiring escape hatch

	// Backend connection settings.
	DatabaseURL string // Postgres DSN (registry store and postgres adapters).
	SQLitePath  string // SQLite database file (single-node registry store).
	RedisURL    string // Redis URL (redis adapters and route-change stream).

	// Per-call ceiling applied to every backend operation.
	BackendTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	AutoMigrate         bool // apply embedded schema at startup (dev/test)
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("BACKPLANE_PORT", 8080),
		ReadTimeout:         envDuration("BACKPLANE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("BACKPLANE_WRITE_TIMEOUT", 30*time.Second),
		RegistryBackend:     model.BackendType(envStr("BACKPLANE_REGISTRY_BACKEND", "")),
		AllowMemoryRegistry: envBool("BACKPLANE_ALLOW_MEMORY_REGISTRY", false),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		SQLitePath:          envStr("BACKPLANE_SQLITE_PATH", ""),
		RedisURL:            envStr("REDIS_URL", ""),
		BackendTimeout:      envDuration("BACKPLANE_BACKEND_TIMEOUT", 10*time.Second),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "backplane"),
		LogLevel:            envStr("BACKPLANE_LOG_LEVEL", "info"),
		AutoMigrate:         envBool("BACKPLANE_AUTO_MIGRATE", false),
		MaxRequestBodyBytes: int64(envInt("BACKPLANE_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.RegistryBackend {
	case model.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when BACKPLANE_REGISTRY_BACKEND=postgres")
		}
	case model.BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: BACKPLANE_SQLITE_PATH is required when BACKPLANE_REGISTRY_BACKEND=sqlite")
		}
	case model.BackendMemory:
		if !c.AllowMemoryRegistry {
			return fmt.Errorf("config: BACKPLANE_REGISTRY_BACKEND=memory requires BACKPLANE_ALLOW_MEMORY_REGISTRY=true (test wiring only)")
		}
	case "":
		return fmt.Errorf("config: BACKPLANE_REGISTRY_BACKEND is required (postgres, sqlite, or memory)")
	default:
		return fmt.Errorf("config: unsupported registry backend %q", c.RegistryBackend)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("config: BACKPLANE_BACKEND_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: BACKPLANE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

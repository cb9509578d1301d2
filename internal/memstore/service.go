package memstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

// Deps are the process-wide dependencies shared by every Store instance.
type Deps struct {
	Registry *routing.Registry
	Pools    *backends.Pools
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Store is a per-request Memory Store instance bound to one identity.
// The identity's tenant, mode, and user form the fixed key prefix; no
// operation can reach across them.
type Store struct {
	identity routing.Identity
	res      routing.Resolution[Adapter]
	logger   *slog.Logger
	timeout  time.Duration
	nowFn    func() time.Time
}

// New constructs a Store for id. Returns the typed missing-route rejection
// (code "memory_store.missing_route", status 503) when no route exists and
// id.Mode is sellable.
func New(ctx context.Context, deps Deps, id routing.Identity) (*Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := routing.Resolve(ctx, deps.Registry, model.ResourceMemoryStore, id, Factories(deps.Pools), logger)
	if err != nil {
		return nil, err
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		identity: id,
		res:      res,
		logger:   logger,
		timeout:  timeout,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Set stores value under key. ttlSeconds <= 0 means persist until explicit
// delete.
func (s *Store) Set(ctx context.Context, key string, value map[string]any, ttlSeconds int64) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if s.res.Degraded() {
		return fault.DegradedWrite(string(model.ResourceMemoryStore))
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceMemoryStore, s.res.Route.BackendType); err != nil {
		return err
	}

	now := s.nowFn()
	entry := model.MemoryEntry{
		TenantID:  s.identity.TenantID,
		Mode:      s.identity.Mode,
		UserID:    s.identity.UserID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
	}
	if ttlSeconds > 0 {
		expires := now.Add(time.Duration(ttlSeconds) * time.Second)
		entry.ExpiresAt = &expires
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.res.Adapter.Set(opCtx, entry); err != nil {
		return fault.BackendIO("memstore: set entry", err)
	}
	return nil
}

// Get returns the entry's value, or nil when absent. An entry observed past
// its expiry is deleted and reported absent, whether or not the backend
// supports native TTLs.
func (s *Store) Get(ctx context.Context, key string) (map[string]any, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	if s.res.Degraded() {
		return nil, nil
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceMemoryStore, s.res.Route.BackendType); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entry, err := s.res.Adapter.Get(opCtx, s.identity.TenantID, s.identity.Mode, s.identity.UserID, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.BackendIO("memstore: get entry", err)
	}

	if entry.Expired(s.nowFn()) {
		// Lazy cleanup: purge on access, then report absent.
		if err := s.res.Adapter.Delete(opCtx, s.identity.TenantID, s.identity.Mode, s.identity.UserID, key); err != nil {
			s.logger.Warn("memstore: purge expired entry failed", "key", key, "error", err)
		}
		return nil, nil
	}
	return entry.Value, nil
}

// Delete removes the entry for key. Absent keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if s.res.Degraded() {
		return fault.DegradedWrite(string(model.ResourceMemoryStore))
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceMemoryStore, s.res.Route.BackendType); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.res.Adapter.Delete(opCtx, s.identity.TenantID, s.identity.Mode, s.identity.UserID, key); err != nil {
		return fault.BackendIO("memstore: delete entry", err)
	}
	return nil
}

// ListKeys returns the live (unexpired) keys under the identity's prefix.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	if s.identity.UserID == "" {
		return nil, fault.Validation("user_id is required")
	}
	if s.res.Degraded() {
		return nil, nil
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceMemoryStore, s.res.Route.BackendType); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entries, err := s.res.Adapter.List(opCtx, s.identity.TenantID, s.identity.Mode, s.identity.UserID)
	if err != nil {
		return nil, fault.BackendIO("memstore: list entries", err)
	}

	now := s.nowFn()
	var keys []string
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (s *Store) validateKey(key string) error {
	if key == "" {
		return fault.Validation("key is required")
	}
	if s.identity.UserID == "" {
		return fault.Validation("user_id is required")
	}
	return nil
}

package blackboard

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

// Store is a per-request Blackboard Store instance bound to one identity.
type Store struct {
	identity routing.Identity
	res      routing.Resolution[Adapter]
	logger   *slog.Logger
	timeout  time.Duration
	nowFn    func() time.Time
}

// New constructs a Store for id. Returns the typed missing-route rejection
// (code "blackboard_store.missing_route", status 503) when no route exists
// and id.Mode is sellable.
func New(ctx context.Context, deps Deps, id routing.Identity) (*Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := routing.Resolve(ctx, deps.Registry, model.ResourceBlackboardStore, id, Factories(deps.Pools), logger)
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

// WriteOptions adjust a single write.
type WriteOptions struct {
	// Force overwrites regardless of the stored version. Escape hatch for
	// operators; normal callers present ExpectedVersion.
	Force bool
}

// Write stores value under key with optimistic concurrency. A nil
// expectedVersion (or 0) asserts the key must not exist yet; a positive
// value must equal the stored version or the write is rejected with a typed
// version conflict and storage is left unchanged. On success the version
// advances by exactly 1.
func (s *Store) Write(ctx context.Context, runID, key string, value map[string]any, expectedVersion *int64, opts WriteOptions) (model.BlackboardEntry, error) {
	if key == "" {
		return model.BlackboardEntry{}, fault.Validation("key is required")
	}
	if runID == "" {
		return model.BlackboardEntry{}, fault.Validation("run_id is required")
	}
	if expectedVersion != nil && *expectedVersion < 0 {
		return model.BlackboardEntry{}, fault.Validation("expected_version must not be negative")
	}

	if s.res.Degraded() {
		return model.BlackboardEntry{}, fault.DegradedWrite(string(model.ResourceBlackboardStore))
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceBlackboardStore, s.res.Route.BackendType); err != nil {
		return model.BlackboardEntry{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entry, err := s.res.Adapter.Write(opCtx, WriteRequest{
		TenantID:        s.identity.TenantID,
		RunID:           runID,
		Key:             key,
		Value:           value,
		ExpectedVersion: expectedVersion,
		Force:           opts.Force,
		Actor:           s.identity.UserID,
		Now:             s.nowFn(),
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindConflict {
			return model.BlackboardEntry{}, err
		}
		return model.BlackboardEntry{}, fault.BackendIO("blackboard: write entry", err)
	}
	return entry, nil
}

// Read returns the entry for key, or nil when absent. When version is
// non-nil the entry is returned only if it carries exactly that version.
func (s *Store) Read(ctx context.Context, runID, key string, version *int64) (*model.BlackboardEntry, error) {
	if key == "" {
		return nil, fault.Validation("key is required")
	}
	if runID == "" {
		return nil, fault.Validation("run_id is required")
	}

	if s.res.Degraded() {
		return nil, nil
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceBlackboardStore, s.res.Route.BackendType); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entry, err := s.res.Adapter.Read(opCtx, s.identity.TenantID, runID, key)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.BackendIO("blackboard: read entry", err)
	}
	if version != nil && entry.Version != *version {
		return nil, nil
	}
	return &entry, nil
}

// ListKeys returns all keys with entries in the run.
func (s *Store) ListKeys(ctx context.Context, runID string) ([]string, error) {
	if runID == "" {
		return nil, fault.Validation("run_id is required")
	}

	if s.res.Degraded() {
		return nil, nil
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceBlackboardStore, s.res.Route.BackendType); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	keys, err := s.res.Adapter.ListKeys(opCtx, s.identity.TenantID, runID)
	if err != nil {
		return nil, fault.BackendIO("blackboard: list keys", err)
	}
	return keys, nil
}

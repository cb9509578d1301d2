package blackboard

import (
	"context"
	"sort"
	"sync"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// MemoryAdapter keeps blackboard entries in process memory behind a mutex,
// which makes the conditional write trivially atomic. Non-durable class:
// lab mode and tests only.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]map[string]model.BlackboardEntry // runKey -> key -> entry
}

// NewMemoryAdapter creates an empty in-memory store.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[string]map[string]model.BlackboardEntry)}
}

func bbRunKey(tenantID, runID string) string { return tenantID + "\x00" + runID }

// Write performs the conditional write under the store mutex.
func (a *MemoryAdapter) Write(_ context.Context, req WriteRequest) (model.BlackboardEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rk := bbRunKey(req.TenantID, req.RunID)
	run := a.entries[rk]
	if run == nil {
		run = make(map[string]model.BlackboardEntry)
		a.entries[rk] = run
	}

	current, exists := run[req.Key]
	var currentVersion int64
	if exists {
		currentVersion = current.Version
	}

	if !req.Force {
		if req.mustNotExist() {
			if exists {
				return model.BlackboardEntry{}, fault.VersionConflict(req.Key, 0, currentVersion)
			}
		} else if currentVersion != *req.ExpectedVersion {
			return model.BlackboardEntry{}, fault.VersionConflict(req.Key, *req.ExpectedVersion, currentVersion)
		}
	}

	entry := model.BlackboardEntry{
		Key:       req.Key,
		Value:     req.Value,
		Version:   currentVersion + 1,
		RunID:     req.RunID,
		CreatedBy: req.Actor,
		CreatedAt: req.Now,
		UpdatedBy: req.Actor,
		UpdatedAt: req.Now,
	}
	if exists {
		entry.CreatedBy = current.CreatedBy
		entry.CreatedAt = current.CreatedAt
	}
	run[req.Key] = entry
	return entry, nil
}

// Read returns the entry for key, or ErrEntryNotFound.
func (a *MemoryAdapter) Read(_ context.Context, tenantID, runID, key string) (model.BlackboardEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[bbRunKey(tenantID, runID)][key]
	if !ok {
		return model.BlackboardEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// ListKeys returns all keys in the run, sorted for stable output.
func (a *MemoryAdapter) ListKeys(_ context.Context, tenantID, runID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run := a.entries[bbRunKey(tenantID, runID)]
	keys := make([]string, 0, len(run))
	for k := range run {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// FilesystemAdapter stores one JSON document per run under a local
// directory. The conditional write is atomic only within this process (a
// mutex around load-modify-save); that is acceptable because the
// filesystem class is confined to single-process lab use by the guard.
type FilesystemAdapter struct {
	dir string
	mu  sync.Mutex
}

// NewFilesystemAdapter creates the adapter, ensuring dir exists.
func NewFilesystemAdapter(dir string) (*FilesystemAdapter, error) {
	if dir == "" {
		return nil, fmt.Errorf("blackboard: filesystem adapter requires a dir config entry")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blackboard: create dir: %w", err)
	}
	return &FilesystemAdapter{dir: dir}, nil
}

func (a *FilesystemAdapter) runFile(tenantID, runID string) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s__%s.json", tenantID, runID))
}

func (a *FilesystemAdapter) load(tenantID, runID string) (map[string]model.BlackboardEntry, error) {
	data, err := os.ReadFile(a.runFile(tenantID, runID))
	if os.IsNotExist(err) {
		return make(map[string]model.BlackboardEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("blackboard: read run file: %w", err)
	}
	entries := make(map[string]model.BlackboardEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("blackboard: parse run file: %w", err)
	}
	return entries, nil
}

func (a *FilesystemAdapter) save(tenantID, runID string, entries map[string]model.BlackboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("blackboard: marshal run file: %w", err)
	}
	// Write-then-rename keeps readers from observing a partial file.
	path := a.runFile(tenantID, runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blackboard: write run file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blackboard: rename run file: %w", err)
	}
	return nil
}

// Write performs the conditional write under the adapter mutex.
func (a *FilesystemAdapter) Write(_ context.Context, req WriteRequest) (model.BlackboardEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load(req.TenantID, req.RunID)
	if err != nil {
		return model.BlackboardEntry{}, err
	}

	current, exists := entries[req.Key]
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
	entries[req.Key] = entry

	if err := a.save(req.TenantID, req.RunID, entries); err != nil {
		return model.BlackboardEntry{}, err
	}
	return entry, nil
}

// Read returns the entry for key, or ErrEntryNotFound.
func (a *FilesystemAdapter) Read(_ context.Context, tenantID, runID, key string) (model.BlackboardEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load(tenantID, runID)
	if err != nil {
		return model.BlackboardEntry{}, err
	}
	entry, ok := entries[key]
	if !ok {
		return model.BlackboardEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// ListKeys returns all keys in the run, sorted.
func (a *FilesystemAdapter) ListKeys(_ context.Context, tenantID, runID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load(tenantID, runID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

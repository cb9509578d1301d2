package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/overcast-ai/backplane/internal/model"
)

// FilesystemAdapter stores one JSON document per (tenant, mode, user) prefix.
// Writes go through a temp file and rename so readers never observe a
// partial document.
type FilesystemAdapter struct {
	dir string
	mu  sync.Mutex
}

func NewFilesystemAdapter(dir string) (*FilesystemAdapter, error) {
	if dir == "" {
		return nil, fmt.Errorf("memstore: filesystem backend requires config key %q", "dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memstore: create dir: %w", err)
	}
	return &FilesystemAdapter{dir: dir}, nil
}

func (a *FilesystemAdapter) path(tenantID string, mode model.Mode, userID string) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s__%s__%s.json", tenantID, mode, userID))
}

func (a *FilesystemAdapter) Set(_ context.Context, entry model.MemoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(entry.TenantID, entry.Mode, entry.UserID)
	entries, err := a.load(path)
	if err != nil {
		return err
	}
	entries[entry.Key] = entry
	return a.store(path, entries)
}

func (a *FilesystemAdapter) Get(_ context.Context, tenantID string, mode model.Mode, userID, key string) (model.MemoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load(a.path(tenantID, mode, userID))
	if err != nil {
		return model.MemoryEntry{}, err
	}
	entry, ok := entries[key]
	if !ok {
		return model.MemoryEntry{}, ErrKeyNotFound
	}
	return entry, nil
}

func (a *FilesystemAdapter) Delete(_ context.Context, tenantID string, mode model.Mode, userID, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(tenantID, mode, userID)
	entries, err := a.load(path)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return a.store(path, entries)
}

func (a *FilesystemAdapter) List(_ context.Context, tenantID string, mode model.Mode, userID string) ([]model.MemoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load(a.path(tenantID, mode, userID))
	if err != nil {
		return nil, err
	}
	out := make([]model.MemoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (a *FilesystemAdapter) load(path string) (map[string]model.MemoryEntry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]model.MemoryEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: read %s: %w", path, err)
	}
	entries := make(map[string]model.MemoryEntry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("memstore: decode %s: %w", path, err)
	}
	return entries, nil
}

func (a *FilesystemAdapter) store(path string, entries map[string]model.MemoryEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: encode entries: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("memstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memstore: rename %s: %w", tmp, err)
	}
	return nil
}

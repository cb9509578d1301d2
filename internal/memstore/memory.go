package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/overcast-ai/backplane/internal/model"
)

type memKey struct {
	tenantID string
	mode     model.Mode
	userID   string
	key      string
}

// MemoryAdapter is the in-process backend, suitable for lab mode and tests.
type MemoryAdapter struct {
	mu      sync.RWMutex
	entries map[memKey]model.MemoryEntry
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[memKey]model.MemoryEntry)}
}

func (a *MemoryAdapter) Set(_ context.Context, entry model.MemoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[memKey{entry.TenantID, entry.Mode, entry.UserID, entry.Key}] = entry
	return nil
}

func (a *MemoryAdapter) Get(_ context.Context, tenantID string, mode model.Mode, userID, key string) (model.MemoryEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.entries[memKey{tenantID, mode, userID, key}]
	if !ok {
		return model.MemoryEntry{}, ErrKeyNotFound
	}
	return entry, nil
}

func (a *MemoryAdapter) Delete(_ context.Context, tenantID string, mode model.Mode, userID, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, memKey{tenantID, mode, userID, key})
	return nil
}

func (a *MemoryAdapter) List(_ context.Context, tenantID string, mode model.Mode, userID string) ([]model.MemoryEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.MemoryEntry
	for k, entry := range a.entries {
		if k.tenantID == tenantID && k.mode == mode && k.userID == userID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

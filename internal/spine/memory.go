package spine

import (
	"context"
	"sort"
	"sync"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// memoryAdapters holds one MemoryAdapter per route id for the process
// lifetime, so per-request service instances share state.
var memoryAdapters sync.Map

// MemoryAdapter keeps spine events in process memory. Non-durable: the
// backend-class guard forbids it outside lab mode.
type MemoryAdapter struct {
	mu    sync.RWMutex
	byRun map[string][]model.SpineEvent // key: tenant + "\x00" + run
}

// NewMemoryAdapter creates an empty in-memory event store.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{byRun: make(map[string][]model.SpineEvent)}
}

func runKey(tenantID, runID string) string { return tenantID + "\x00" + runID }

// AppendEvent stores event.
func (a *MemoryAdapter) AppendEvent(_ context.Context, event model.SpineEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := runKey(event.TenantID, event.RunID)
	a.byRun[k] = append(a.byRun[k], event)
	return nil
}

// ListEvents returns events in ascending (timestamp, append-order) order,
// strictly after the cursor when one is supplied.
func (a *MemoryAdapter) ListEvents(_ context.Context, q ListQuery) ([]model.SpineEvent, error) {
	a.mu.RLock()
	stored := a.byRun[runKey(q.TenantID, q.RunID)]
	ordered := make([]model.SpineEvent, len(stored))
	copy(ordered, stored)
	a.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	start := 0
	if q.AfterEventID != nil {
		idx := -1
		for i, e := range ordered {
			if e.EventID == *q.AfterEventID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fault.InvalidCursor(q.AfterEventID.String())
		}
		start = idx + 1
	}

	var out []model.SpineEvent
	for _, e := range ordered[start:] {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

package spine

import (
	"bufio"
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

// FilesystemAdapter appends events to one JSON-lines file per run under a
// local directory. Non-durable class: lab mode only, single process.
type FilesystemAdapter struct {
	dir string
	mu  sync.Mutex
}

// NewFilesystemAdapter creates the adapter, ensuring dir exists.
func NewFilesystemAdapter(dir string) (*FilesystemAdapter, error) {
	if dir == "" {
		return nil, fmt.Errorf("spine: filesystem adapter requires a dir config entry")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spine: create dir: %w", err)
	}
	return &FilesystemAdapter{dir: dir}, nil
}

func (a *FilesystemAdapter) runFile(tenantID, runID string) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s__%s.jsonl", tenantID, runID))
}

// AppendEvent writes event as one JSON line.
func (a *FilesystemAdapter) AppendEvent(_ context.Context, event model.SpineEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("spine: marshal event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.runFile(event.TenantID, event.RunID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("spine: open run file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("spine: write event: %w", err)
	}
	return nil
}

// ListEvents reads the run file and returns events in ascending
// (timestamp, append-order) order, strictly after the cursor.
func (a *FilesystemAdapter) ListEvents(_ context.Context, q ListQuery) ([]model.SpineEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.runFile(q.TenantID, q.RunID))
	if os.IsNotExist(err) {
		if q.AfterEventID != nil {
			return nil, fault.InvalidCursor(q.AfterEventID.String())
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spine: open run file: %w", err)
	}
	defer f.Close()

	var ordered []model.SpineEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e model.SpineEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("spine: parse run file: %w", err)
		}
		ordered = append(ordered, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("spine: read run file: %w", err)
	}

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

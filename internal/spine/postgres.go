package spine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// PostgresAdapter persists spine events in the spine_events table. Replay
// order is the composite (ts, event_id) index, which makes the exclusive
// cursor a straightforward row-value comparison.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter creates an adapter over an existing pool.
func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// AppendEvent inserts event. Events are never updated or deleted.
func (a *PostgresAdapter) AppendEvent(ctx context.Context, event model.SpineEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("spine: marshal payload: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO spine_events (
			event_id, tenant_id, mode, ts, event_type, source, run_id,
			user_id, surface_id, project_id, step_id, parent_event_id,
			trace_id, span_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		event.EventID, event.TenantID, event.Mode, event.Timestamp, event.EventType,
		event.Source, event.RunID, event.UserID, event.SurfaceID, event.ProjectID,
		event.StepID, event.ParentEventID, event.TraceID, event.SpanID, payload,
	)
	if err != nil {
		return fmt.Errorf("spine: insert event: %w", err)
	}
	return nil
}

// ListEvents returns events in ascending (ts, event_id) order, strictly
// after the cursor when one is supplied.
func (a *PostgresAdapter) ListEvents(ctx context.Context, q ListQuery) ([]model.SpineEvent, error) {
	var (
		cursorTS time.Time
		cursorID uuid.UUID
	)
	if q.AfterEventID != nil {
		err := a.pool.QueryRow(ctx, `
			SELECT ts, event_id FROM spine_events
			WHERE tenant_id = $1 AND run_id = $2 AND event_id = $3`,
			q.TenantID, q.RunID, *q.AfterEventID,
		).Scan(&cursorTS, &cursorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.InvalidCursor(q.AfterEventID.String())
		}
		if err != nil {
			return nil, fmt.Errorf("spine: resolve cursor: %w", err)
		}
	}

	query := `
		SELECT event_id, tenant_id, mode, ts, event_type, source, run_id,
			user_id, surface_id, project_id, step_id, parent_event_id,
			trace_id, span_id, payload
		FROM spine_events
		WHERE tenant_id = $1 AND run_id = $2`
	args := []any{q.TenantID, q.RunID}

	if q.AfterEventID != nil {
		query += fmt.Sprintf(" AND (ts, event_id) > ($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, cursorTS, cursorID)
	}
	if q.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", len(args)+1)
		args = append(args, q.EventType)
	}
	query += fmt.Sprintf(" ORDER BY ts ASC, event_id ASC LIMIT $%d", len(args)+1)
	args = append(args, q.Limit)

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spine: list events: %w", err)
	}
	defer rows.Close()

	var out []model.SpineEvent
	for rows.Next() {
		var (
			e       model.SpineEvent
			payload []byte
		)
		if err := rows.Scan(
			&e.EventID, &e.TenantID, &e.Mode, &e.Timestamp, &e.EventType, &e.Source,
			&e.RunID, &e.UserID, &e.SurfaceID, &e.ProjectID, &e.StepID,
			&e.ParentEventID, &e.TraceID, &e.SpanID, &payload,
		); err != nil {
			return nil, fmt.Errorf("spine: scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("spine: unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package spine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/testutil"
)

func redisEvent(tenantID, runID string, ts time.Time, typ model.SpineEventType) model.SpineEvent {
	return model.SpineEvent{
		EventID:   uuid.New(),
		TenantID:  tenantID,
		Mode:      model.ModeLab,
		Timestamp: ts,
		EventType: typ,
		Source:    model.SourceAgent,
		RunID:     runID,
	}
}

func TestRedisAdapterAppendAndList(t *testing.T) {
	_, rdb := testutil.NewMiniredis(t)
	adapter := NewRedisAdapter(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	events := make([]model.SpineEvent, 0, 4)
	for i := 0; i < 4; i++ {
		e := redisEvent("acme", "run-1", base.Add(time.Duration(i)*time.Millisecond), model.SpineEventAudit)
		require.NoError(t, adapter.AppendEvent(ctx, e))
		events = append(events, e)
	}

	got, err := adapter.ListEvents(ctx, ListQuery{TenantID: "acme", RunID: "run-1", Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := range got {
		assert.Equal(t, events[i].EventID, got[i].EventID)
	}
}

func TestRedisAdapterCursor(t *testing.T) {
	_, rdb := testutil.NewMiniredis(t)
	adapter := NewRedisAdapter(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e := redisEvent("acme", "run-1", base.Add(time.Duration(i)*time.Millisecond), model.SpineEventAudit)
		require.NoError(t, adapter.AppendEvent(ctx, e))
		ids = append(ids, e.EventID)
	}

	got, err := adapter.ListEvents(ctx, ListQuery{
		TenantID: "acme", RunID: "run-1", AfterEventID: &ids[0], Limit: 100,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].EventID)
	assert.Equal(t, ids[2], got[1].EventID)

	bogus := uuid.New()
	_, err = adapter.ListEvents(ctx, ListQuery{
		TenantID: "acme", RunID: "run-1", AfterEventID: &bogus, Limit: 100,
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidCursor, fault.KindOf(err))
}

func TestRedisAdapterEventTypeFilter(t *testing.T) {
	_, rdb := testutil.NewMiniredis(t)
	adapter := NewRedisAdapter(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	audit := redisEvent("acme", "run-1", base, model.SpineEventAudit)
	safety := redisEvent("acme", "run-1", base.Add(time.Millisecond), model.SpineEventSafety)
	require.NoError(t, adapter.AppendEvent(ctx, audit))
	require.NoError(t, adapter.AppendEvent(ctx, safety))

	got, err := adapter.ListEvents(ctx, ListQuery{
		TenantID: "acme", RunID: "run-1", EventType: model.SpineEventSafety, Limit: 100,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, safety.EventID, got[0].EventID)
}

func TestRedisAdapterTenantIsolation(t *testing.T) {
	_, rdb := testutil.NewMiniredis(t)
	adapter := NewRedisAdapter(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, adapter.AppendEvent(ctx, redisEvent("acme", "run-1", base, model.SpineEventAudit)))

	got, err := adapter.ListEvents(ctx, ListQuery{TenantID: "globex", RunID: "run-1", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, got)
}

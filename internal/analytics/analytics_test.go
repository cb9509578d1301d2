package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
	"github.com/overcast-ai/backplane/internal/testutil"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	reg, err := routing.NewRegistry(routing.NewMemoryRouteStore(), testutil.DiscardLogger())
	require.NoError(t, err)
	return Deps{Registry: reg, Logger: testutil.DiscardLogger()}
}

func bindMemoryRoute(t *testing.T, deps Deps, tenantID string) {
	t.Helper()
	_, err := deps.Registry.Upsert(context.Background(), model.ResourceRoute{
		RouteKey: model.RouteKey{
			ResourceKind: model.ResourceAnalytics,
			TenantID:     tenantID,
			Env:          "prod",
		},
		BackendType: model.BackendMemory,
	})
	require.NoError(t, err)
}

func TestRecord(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")

	sink, err := New(context.Background(), deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeLab,
	})
	require.NoError(t, err)

	err = sink.Record(context.Background(), "tokens.used", 1280, map[string]string{"model": "large"})
	require.NoError(t, err)

	mem, ok := sink.res.Adapter.(*MemoryAdapter)
	require.True(t, ok)
	records := mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "tokens.used", records[0].Metric)
	assert.Equal(t, float64(1280), records[0].Value)
	assert.Equal(t, "acme", records[0].TenantID)
	assert.Equal(t, model.ModeLab, records[0].Mode)
	assert.False(t, records[0].OccurredAt.IsZero())
}

func TestRecordValidation(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")

	sink, err := New(context.Background(), deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeLab,
	})
	require.NoError(t, err)

	err = sink.Record(context.Background(), "", 1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRecordDegradedRejectsWrite(t *testing.T) {
	deps := newTestDeps(t) // no route bound

	sink, err := New(context.Background(), deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeLab,
	})
	require.NoError(t, err)

	// A degraded sink rejects writes like every other durable service.
	err = sink.Record(context.Background(), "tokens.used", 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not lab")
	fe, ok := fault.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "analytics.degraded_write", fe.Code)
	assert.Equal(t, 503, fe.HTTPStatus)
}

func TestMissingRouteSellableRejects(t *testing.T) {
	deps := newTestDeps(t)

	_, err := New(context.Background(), deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeSaaS,
	})
	require.Error(t, err)
	fe, ok := fault.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "analytics.missing_route", fe.Code)
}

func TestSellableModeForbidsMemoryBackend(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")

	sink, err := New(context.Background(), deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeSystem,
	})
	require.NoError(t, err)

	err = sink.Record(context.Background(), "tokens.used", 1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindPolicyViolation, fault.KindOf(err))
}

package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/testutil"
)

type fakeAdapter struct{ backend model.BackendType }

func fakeFactories() map[model.BackendType]AdapterFactory[*fakeAdapter] {
	return map[model.BackendType]AdapterFactory[*fakeAdapter]{
		model.BackendPostgres: func(_ context.Context, route model.ResourceRoute) (*fakeAdapter, error) {
			return &fakeAdapter{backend: route.BackendType}, nil
		},
		model.BackendMemory: func(_ context.Context, _ model.ResourceRoute) (*fakeAdapter, error) {
			return nil, errors.New("boom")
		},
	}
}

func saasIdentity(tenantID string) Identity {
	return Identity{TenantID: tenantID, Env: "prod", Mode: model.ModeSaaS}
}

func TestResolveResolved(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)

	res, err := Resolve(ctx, reg, model.ResourceEventSpine, saasIdentity("acme"),
		fakeFactories(), testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
	assert.False(t, res.Degraded())
	require.NotNil(t, res.Adapter)
	assert.Equal(t, model.BackendPostgres, res.Route.BackendType)
}

func TestResolveMissingRouteSellableRejects(t *testing.T) {
	reg := newTestRegistry(t)

	res, err := Resolve(context.Background(), reg, model.ResourceEventSpine, saasIdentity("acme"),
		fakeFactories(), testutil.DiscardLogger())
	require.Error(t, err)
	assert.Equal(t, StateRejected, res.State)

	fe, ok := fault.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "event_spine.missing_route", fe.Code)
	assert.Equal(t, 503, fe.HTTPStatus)
	assert.Equal(t, "event_spine", fe.ResourceKind)
}

func TestResolveMissingRouteLabDegrades(t *testing.T) {
	reg := newTestRegistry(t)
	id := Identity{TenantID: "acme", Env: "prod", Mode: model.ModeLab}

	res, err := Resolve(context.Background(), reg, model.ResourceEventSpine, id,
		fakeFactories(), testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, res.State)
	assert.True(t, res.Degraded())
	assert.Nil(t, res.Adapter)
}

func TestResolveUnsupportedBackend(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendRedis))
	require.NoError(t, err)

	// No factory registered for redis in the fake set.
	_, err = Resolve(ctx, reg, model.ResourceEventSpine, saasIdentity("acme"),
		fakeFactories(), testutil.DiscardLogger())
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))
}

func TestResolveFactoryFailure(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	route := spineRoute("acme", "prod", "", model.BackendMemory)
	_, err := reg.Upsert(ctx, route)
	require.NoError(t, err)

	id := Identity{TenantID: "acme", Env: "prod", Mode: model.ModeLab}
	res, err := Resolve(ctx, reg, model.ResourceEventSpine, id,
		fakeFactories(), testutil.DiscardLogger())
	require.Error(t, err)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, fault.KindBackendIO, fault.KindOf(err))
}

func TestResolveProjectScopedLookup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)

	// A project-scoped identity does not fall back to the tenant-wide route.
	id := saasIdentity("acme")
	id.ProjectID = "proj-a"
	_, err = Resolve(ctx, reg, model.ResourceEventSpine, id, fakeFactories(), testutil.DiscardLogger())
	require.Error(t, err)
	assert.Equal(t, fault.KindConfigMissing, fault.KindOf(err))
}

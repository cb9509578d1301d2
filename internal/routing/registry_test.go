package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(NewMemoryRouteStore(), testutil.DiscardLogger())
	require.NoError(t, err)
	return reg
}

func spineRoute(tenantID, env, projectID string, backend model.BackendType) model.ResourceRoute {
	return model.ResourceRoute{
		RouteKey: model.RouteKey{
			ResourceKind: model.ResourceEventSpine,
			TenantID:     tenantID,
			Env:          env,
			ProjectID:    projectID,
		},
		BackendType: backend,
		Config:      map[string]string{"dsn": "postgres://localhost/test"},
	}
}

func TestNewRegistryNilStore(t *testing.T) {
	_, err := NewRegistry(nil, testutil.DiscardLogger())
	require.Error(t, err)
	assert.Equal(t, fault.KindConfigMissing, fault.KindOf(err))
}

func TestRegistryUpsertAssignsIdentifiers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	stored, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", stored.ID.String())
	assert.False(t, stored.CreatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.IsZero())

	// Replacing under the same key keeps the identity of the binding.
	replaced, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendRedis))
	require.NoError(t, err)
	assert.Equal(t, stored.ID, replaced.ID)
	assert.Equal(t, stored.CreatedAt, replaced.CreatedAt)
	assert.Equal(t, model.BackendRedis, replaced.BackendType)
}

func TestRegistryUpsertRejectsInvalid(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Upsert(context.Background(), spineRoute("", "prod", "", model.BackendPostgres))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRegistryGetExactMatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)
	_, err = reg.Upsert(ctx, spineRoute("acme", "prod", "proj-a", model.BackendRedis))
	require.NoError(t, err)

	// Tenant-wide and project-scoped bindings are distinct keys.
	tenantWide, err := reg.Get(ctx, model.RouteKey{
		ResourceKind: model.ResourceEventSpine, TenantID: "acme", Env: "prod",
	})
	require.NoError(t, err)
	assert.Equal(t, model.BackendPostgres, tenantWide.BackendType)

	scoped, err := reg.Get(ctx, model.RouteKey{
		ResourceKind: model.ResourceEventSpine, TenantID: "acme", Env: "prod", ProjectID: "proj-a",
	})
	require.NoError(t, err)
	assert.Equal(t, model.BackendRedis, scoped.BackendType)

	// No hierarchical fallback: an unconfigured project does not inherit
	// the tenant-wide binding.
	_, err = reg.Get(ctx, model.RouteKey{
		ResourceKind: model.ResourceEventSpine, TenantID: "acme", Env: "prod", ProjectID: "proj-b",
	})
	assert.ErrorIs(t, err, ErrRouteNotFound)

	// Env is part of the key too.
	_, err = reg.Get(ctx, model.RouteKey{
		ResourceKind: model.ResourceEventSpine, TenantID: "acme", Env: "staging",
	})
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestRegistryDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	key := model.RouteKey{ResourceKind: model.ResourceEventSpine, TenantID: "acme", Env: "prod"}

	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, key))
	_, err = reg.Get(ctx, key)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestRegistryList(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)
	_, err = reg.Upsert(ctx, spineRoute("globex", "prod", "", model.BackendRedis))
	require.NoError(t, err)

	all, err := reg.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	acme, err := reg.List(ctx, ListFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, "acme", acme[0].TenantID)
}

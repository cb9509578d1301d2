package memstore

import (
	"context"
	"testing"
	"time"

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
			ResourceKind: model.ResourceMemoryStore,
			TenantID:     tenantID,
			Env:          "prod",
		},
		BackendType: model.BackendMemory,
	})
	require.NoError(t, err)
}

// simulatedClock pins the store's clock and lets tests advance it.
type simulatedClock struct {
	now time.Time
}

func newLabStore(t *testing.T, deps Deps, tenantID, userID string) (*Store, *simulatedClock) {
	t.Helper()
	s, err := New(context.Background(), deps, routing.Identity{
		TenantID: tenantID, Env: "prod", Mode: model.ModeLab, UserID: userID,
	})
	require.NoError(t, err)
	clock := &simulatedClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	s.nowFn = func() time.Time { return clock.now }
	return s, clock
}

func TestSetAndGet(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, _ := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "prefs", map[string]any{"theme": "dark"}, 0))

	value, err := s.Get(ctx, "prefs")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "dark", value["theme"])
}

func TestGetExpiredDeletesLazily(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, clock := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session", map[string]any{"token": "abc"}, 60))

	// Just before expiry the entry is live.
	clock.now = clock.now.Add(59 * time.Second)
	value, err := s.Get(ctx, "session")
	require.NoError(t, err)
	require.NotNil(t, value)

	// At expiry it reads as absent and is purged from the backend.
	clock.now = clock.now.Add(time.Second)
	value, err = s.Get(ctx, "session")
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = s.res.Adapter.Get(ctx, "acme", model.ModeLab, "u1", "session")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSetNoTTLNeverExpires(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, clock := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "durable", map[string]any{"v": 1}, 0))

	clock.now = clock.now.Add(1000 * time.Hour)
	value, err := s.Get(ctx, "durable")
	require.NoError(t, err)
	assert.NotNil(t, value)
}

func TestListKeysExcludesExpired(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, clock := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", map[string]any{}, 10))
	require.NoError(t, s.Set(ctx, "long", map[string]any{}, 3600))

	clock.now = clock.now.Add(30 * time.Second)
	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

func TestDelete(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, _ := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "tmp", map[string]any{}, 0))
	require.NoError(t, s.Delete(ctx, "tmp"))

	value, err := s.Get(ctx, "tmp")
	require.NoError(t, err)
	assert.Nil(t, value)

	// Deleting an absent key is a no-op.
	require.NoError(t, s.Delete(ctx, "tmp"))
}

func TestCompositeKeyIsolation(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	ctx := context.Background()

	alice, _ := newLabStore(t, deps, "acme", "alice")
	bob, _ := newLabStore(t, deps, "acme", "bob")

	require.NoError(t, alice.Set(ctx, "prefs", map[string]any{"theme": "dark"}, 0))

	// Same tenant, same key, different user: invisible.
	value, err := bob.Get(ctx, "prefs")
	require.NoError(t, err)
	assert.Nil(t, value)

	keys, err := bob.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestValidation(t *testing.T) {
	deps := newTestDeps(t)
	bindMemoryRoute(t, deps, "acme")
	s, _ := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	assert.Equal(t, fault.KindValidation, fault.KindOf(s.Set(ctx, "", map[string]any{}, 0)))

	noUser, err := New(ctx, deps, routing.Identity{
		TenantID: "acme", Env: "prod", Mode: model.ModeLab,
	})
	require.NoError(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(noUser.Set(ctx, "k", map[string]any{}, 0)))
}

func TestDegradedLabStore(t *testing.T) {
	deps := newTestDeps(t) // no route bound
	s, _ := newLabStore(t, deps, "acme", "u1")
	ctx := context.Background()

	value, err := s.Get(ctx, "prefs")
	require.NoError(t, err)
	assert.Nil(t, value)

	err = s.Set(ctx, "prefs", map[string]any{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not lab")
}

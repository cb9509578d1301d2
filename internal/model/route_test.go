package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendTypeDurable(t *testing.T) {
	assert.True(t, BackendPostgres.Durable())
	assert.True(t, BackendRedis.Durable())
	assert.True(t, BackendSQLite.Durable())
	assert.False(t, BackendFilesystem.Durable())
	assert.False(t, BackendMemory.Durable())
}

func TestModeSellable(t *testing.T) {
	assert.True(t, ModeSaaS.Sellable())
	assert.True(t, ModeEnterprise.Sellable())
	assert.True(t, ModeSystem.Sellable())
	assert.False(t, ModeLab.Sellable())
}

func TestValidMode(t *testing.T) {
	assert.True(t, ValidMode(ModeLab))
	assert.True(t, ValidMode(ModeSaaS))
	assert.False(t, ValidMode(Mode("staging")))
	assert.False(t, ValidMode(Mode("")))
}

func TestRouteKeyValidate(t *testing.T) {
	key := RouteKey{ResourceKind: ResourceEventSpine, TenantID: "acme", Env: "prod"}
	require.NoError(t, key.Validate())

	assert.Error(t, RouteKey{TenantID: "acme", Env: "prod"}.Validate())
	assert.Error(t, RouteKey{ResourceKind: ResourceEventSpine, Env: "prod"}.Validate())
	assert.Error(t, RouteKey{ResourceKind: ResourceEventSpine, TenantID: "acme"}.Validate())
}

func TestRouteKeyString(t *testing.T) {
	noProject := RouteKey{ResourceKind: ResourceEventSpine, TenantID: "acme", Env: "prod"}
	assert.Equal(t, "event_spine/acme/prod", noProject.String())

	withProject := noProject
	withProject.ProjectID = "p1"
	assert.Equal(t, "event_spine/acme/prod/p1", withProject.String())
}

func TestMemoryEntryExpired(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	noTTL := MemoryEntry{Key: "a"}
	assert.False(t, noTTL.Expired(now))

	future := now.Add(time.Second)
	live := MemoryEntry{Key: "b", ExpiresAt: &future}
	assert.False(t, live.Expired(now))

	expired := MemoryEntry{Key: "c", ExpiresAt: &now}
	assert.True(t, expired.Expired(now))
}

package routing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/testutil"
)

func TestCheckRoutes(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)

	d := NewDiagnostics(reg, testutil.DiscardLogger())
	statuses := d.CheckRoutes(ctx, "acme", "prod")
	require.Len(t, statuses, len(model.CriticalResourceKinds))

	assert.True(t, statuses[model.ResourceEventSpine].IsConfigured)
	assert.Equal(t, model.BackendPostgres, statuses[model.ResourceEventSpine].BackendType)
	assert.False(t, statuses[model.ResourceBlackboardStore].IsConfigured)
	assert.False(t, statuses[model.ResourceMemoryStore].IsConfigured)
	assert.False(t, statuses[model.ResourceAnalytics].IsConfigured)
}

func TestStartupDiagnosticsWarnsOnly(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Upsert(ctx, spineRoute("acme", "prod", "", model.BackendPostgres))
	require.NoError(t, err)

	d := NewDiagnostics(reg, testutil.DiscardLogger())
	report := d.StartupDiagnostics(ctx, "acme", "prod")

	assert.Contains(t, report, "ok      event_spine")
	assert.Contains(t, report, "WARNING blackboard_store")
	assert.Contains(t, report, "no route configured")
	// Four kinds, four status lines plus the header.
	assert.Len(t, strings.Split(strings.TrimRight(report, "\n"), "\n"), 5)
}

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

func TestCheckBackendAllowed(t *testing.T) {
	sellable := []model.Mode{model.ModeSaaS, model.ModeEnterprise, model.ModeSystem}
	durable := []model.BackendType{model.BackendPostgres, model.BackendRedis, model.BackendSQLite}
	nonDurable := []model.BackendType{model.BackendFilesystem, model.BackendMemory}

	for _, mode := range sellable {
		for _, backend := range durable {
			assert.NoError(t, CheckBackendAllowed(mode, model.ResourceEventSpine, backend),
				"%s/%s", mode, backend)
		}
		for _, backend := range nonDurable {
			err := CheckBackendAllowed(mode, model.ResourceEventSpine, backend)
			require.Error(t, err, "%s/%s", mode, backend)
			assert.Equal(t, fault.KindPolicyViolation, fault.KindOf(err))
			fe, ok := fault.AsError(err)
			require.True(t, ok)
			assert.Equal(t, 403, fe.HTTPStatus)
		}
	}

	// Lab mode permits everything.
	for _, backend := range append(durable, nonDurable...) {
		assert.NoError(t, CheckBackendAllowed(model.ModeLab, model.ResourceEventSpine, backend))
	}
}

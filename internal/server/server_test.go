package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/notify"
	"github.com/overcast-ai/backplane/internal/routing"
	"github.com/overcast-ai/backplane/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *routing.MemoryAuditLog) {
	t.Helper()
	logger := testutil.DiscardLogger()
	registry, err := routing.NewRegistry(routing.NewMemoryRouteStore(), logger)
	require.NoError(t, err)
	audit := routing.NewMemoryAuditLog()

	return New(ServerConfig{
		Registry:     registry,
		ControlPlane: routing.NewControlPlane(registry, audit, notify.Noop{}, logger),
		Diagnostics:  routing.NewDiagnostics(registry, logger),
		Logger:       logger,
		Port:         0,
		Version:      "test",
	}), audit
}

type testRequest struct {
	method string
	path   string
	body   any
	tenant string
	mode   model.Mode
	user   string
}

func do(t *testing.T, srv *Server, req testRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = &bytes.Buffer{}
	}

	r := httptest.NewRequest(req.method, req.path, body)
	if req.tenant != "" {
		r.Header.Set(headerTenant, req.tenant)
	}
	if req.mode != "" {
		r.Header.Set(headerMode, string(req.mode))
	}
	if req.user != "" {
		r.Header.Set(headerUser, req.user)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope model.APIError
	decodeBody(t, w, &envelope)
	assert.Equal(t, w.Code, envelope.Error.HTTPStatus)
	return envelope.Error.Code
}

func bindRoute(t *testing.T, srv *Server, kind model.ResourceKind, tenant string, backend model.BackendType) {
	t.Helper()
	w := do(t, srv, testRequest{
		method: http.MethodPut, path: "/v1/routes",
		tenant: tenant, mode: model.ModeLab,
		body: model.UpsertRouteRequest{
			ResourceKind: kind,
			TenantID:     tenant,
			Env:          "prod",
			BackendType:  backend,
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, testRequest{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decodeBody(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestIdentityHeadersRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing tenant.
	w := do(t, srv, testRequest{method: http.MethodGet, path: "/v1/routes", mode: model.ModeLab})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown mode.
	w = do(t, srv, testRequest{method: http.MethodGet, path: "/v1/routes", tenant: "acme", mode: "staging"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation.invalid_input", errorCode(t, w))
}

func TestEventLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceEventSpine, "acme", model.BackendMemory)

	// Append three events.
	var ids []string
	for i := 0; i < 3; i++ {
		w := do(t, srv, testRequest{
			method: http.MethodPost, path: "/v1/events/append",
			tenant: "acme", mode: model.ModeLab,
			body: model.AppendEventRequest{
				EventType: model.SpineEventAudit,
				Source:    model.SourceAgent,
				RunID:     "run-1",
				Payload:   map[string]any{"i": i},
			},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp model.AppendEventResponse
		decodeBody(t, w, &resp)
		ids = append(ids, resp.EventID)
	}

	// Full replay, in order.
	w := do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/events/replay?run_id=run-1",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var replay model.ReplayResponse
	decodeBody(t, w, &replay)
	require.Len(t, replay.Events, 3)
	assert.Equal(t, ids[2], replay.NextAfter)

	// Cursor is exclusive: after the first event only two remain.
	w = do(t, srv, testRequest{
		method: http.MethodGet,
		path:   "/v1/events/replay?run_id=run-1&after_event_id=" + ids[0],
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	replay = model.ReplayResponse{}
	decodeBody(t, w, &replay)
	require.Len(t, replay.Events, 2)
	assert.Equal(t, ids[1], replay.Events[0].EventID.String())

	// Unknown cursor is 410, not an empty page.
	w = do(t, srv, testRequest{
		method: http.MethodGet,
		path:   "/v1/events/replay?run_id=run-1&after_event_id=3b1f8868-0000-4000-8000-000000000000",
		tenant: "acme", mode: model.ModeLab,
	})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "event_spine.invalid_cursor", errorCode(t, w))

	// /v1/events/list refuses a cursor.
	w = do(t, srv, testRequest{
		method: http.MethodGet,
		path:   "/v1/events/list?run_id=run-1&after_event_id=" + ids[0],
		tenant: "acme", mode: model.ModeLab,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMissingRouteSellableMode(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, testRequest{
		method: http.MethodPost, path: "/v1/events/append",
		tenant: "acme", mode: model.ModeSaaS,
		body: model.AppendEventRequest{
			EventType: model.SpineEventAudit,
			Source:    model.SourceAgent,
			RunID:     "run-1",
		},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "event_spine.missing_route", errorCode(t, w))
}

func TestLabModeDegrades(t *testing.T) {
	srv, _ := newTestServer(t)

	// Reads come back empty with no error.
	w := do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/events/replay?run_id=run-1",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var replay model.ReplayResponse
	decodeBody(t, w, &replay)
	assert.Empty(t, replay.Events)

	// Writes fail loudly.
	w = do(t, srv, testRequest{
		method: http.MethodPost, path: "/v1/events/append",
		tenant: "acme", mode: model.ModeLab,
		body: model.AppendEventRequest{
			EventType: model.SpineEventAudit,
			Source:    model.SourceAgent,
			RunID:     "run-1",
		},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "event_spine.degraded_write", errorCode(t, w))
}

func TestBlackboardLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceBlackboardStore, "acme", model.BackendMemory)

	write := func(expected *int64, force bool, step int) *httptest.ResponseRecorder {
		return do(t, srv, testRequest{
			method: http.MethodPost, path: "/v1/blackboard/write",
			tenant: "acme", mode: model.ModeLab, user: "agent-1",
			body: model.BlackboardWriteRequest{
				RunID:           "run-1",
				Key:             "plan",
				Value:           map[string]any{"step": step},
				ExpectedVersion: expected,
				Force:           force,
			},
		})
	}

	zero, one := int64(0), int64(1)

	w := write(&zero, false, 1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entry model.BlackboardEntry
	decodeBody(t, w, &entry)
	assert.Equal(t, int64(1), entry.Version)

	// Stale writer conflicts.
	w = write(&zero, false, 99)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "blackboard_store.version_conflict", errorCode(t, w))

	// Correct version succeeds.
	w = write(&one, false, 2)
	require.Equal(t, http.StatusOK, w.Code)

	// Read back.
	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/blackboard/read?run_id=run-1&key=plan",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	entry = model.BlackboardEntry{}
	decodeBody(t, w, &entry)
	assert.Equal(t, int64(2), entry.Version)

	// Absent key is 404.
	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/blackboard/read?run_id=run-1&key=ghost",
		tenant: "acme", mode: model.ModeLab,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/blackboard/keys?run_id=run-1",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var keys struct {
		Keys []string `json:"keys"`
	}
	decodeBody(t, w, &keys)
	assert.Equal(t, []string{"plan"}, keys.Keys)
}

func TestMemoryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceMemoryStore, "acme", model.BackendMemory)

	w := do(t, srv, testRequest{
		method: http.MethodPost, path: "/v1/memory/set",
		tenant: "acme", mode: model.ModeLab, user: "u1",
		body: model.MemorySetRequest{
			Key:        "prefs",
			Value:      map[string]any{"theme": "dark"},
			TTLSeconds: 3600,
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/memory/get?key=prefs",
		tenant: "acme", mode: model.ModeLab, user: "u1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Value map[string]any `json:"value"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, "dark", got.Value["theme"])

	// Another user sees nothing.
	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/memory/get?key=prefs",
		tenant: "acme", mode: model.ModeLab, user: "u2",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, testRequest{
		method: http.MethodDelete, path: "/v1/memory/delete?key=prefs",
		tenant: "acme", mode: model.ModeLab, user: "u1",
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/memory/get?key=prefs",
		tenant: "acme", mode: model.ModeLab, user: "u1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouteSwitchStamping(t *testing.T) {
	srv, audit := newTestServer(t)
	bindRoute(t, srv, model.ResourceEventSpine, "acme", model.BackendPostgres)

	w := do(t, srv, testRequest{
		method: http.MethodPut, path: "/v1/routes",
		tenant: "acme", mode: model.ModeLab,
		body: model.UpsertRouteRequest{
			ResourceKind:    model.ResourceEventSpine,
			TenantID:        "acme",
			Env:             "prod",
			BackendType:     model.BackendRedis,
			SwitchRationale: "postgres decommission",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var route model.ResourceRoute
	decodeBody(t, w, &route)
	assert.Equal(t, model.BackendRedis, route.BackendType)
	assert.Equal(t, model.BackendPostgres, route.PreviousBackendType)
	assert.NotNil(t, route.LastSwitchTime)
	assert.Equal(t, "postgres decommission", route.SwitchRationale)

	assert.Len(t, audit.Entries(), 2)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceEventSpine, "acme", model.BackendMemory)

	w := do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/diagnostics/routes?env=prod",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Routes map[model.ResourceKind]model.RouteHealthStatus `json:"routes"`
	}
	decodeBody(t, w, &body)
	require.Len(t, body.Routes, 4)
	assert.True(t, body.Routes[model.ResourceEventSpine].IsConfigured)
	assert.False(t, body.Routes[model.ResourceAnalytics].IsConfigured)
}

func TestAnalyticsRecordEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceAnalytics, "acme", model.BackendMemory)

	w := do(t, srv, testRequest{
		method: http.MethodPost, path: "/v1/analytics/record",
		tenant: "acme", mode: model.ModeLab,
		body: model.RecordMetricRequest{
			Metric: "tokens.used",
			Value:  42,
		},
	})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestRouteListAndDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	bindRoute(t, srv, model.ResourceEventSpine, "acme", model.BackendMemory)
	bindRoute(t, srv, model.ResourceBlackboardStore, "acme", model.BackendMemory)

	w := do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/routes?tenant_id=acme",
		tenant: "acme", mode: model.ModeLab,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Routes []model.ResourceRoute `json:"routes"`
	}
	decodeBody(t, w, &listed)
	assert.Len(t, listed.Routes, 2)

	path := fmt.Sprintf("/v1/routes?resource_kind=%s&tenant_id=acme&env=prod", model.ResourceEventSpine)
	w = do(t, srv, testRequest{method: http.MethodDelete, path: path, tenant: "acme", mode: model.ModeLab})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, testRequest{
		method: http.MethodGet, path: "/v1/routes?tenant_id=acme",
		tenant: "acme", mode: model.ModeLab,
	})
	decodeBody(t, w, &listed)
	assert.Len(t, listed.Routes, 1)
}

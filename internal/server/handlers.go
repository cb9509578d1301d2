package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/overcast-ai/backplane/internal/analytics"
	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/blackboard"
	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/memstore"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
	"github.com/overcast-ai/backplane/internal/spine"
)

// Handlers holds HTTP handler dependencies. Services are constructed per
// request from the caller's identity; only the registry handle and backend
// pools are shared.
type Handlers struct {
	registry            *routing.Registry
	controlPlane        *routing.ControlPlane
	diagnostics         *routing.Diagnostics
	pools               *backends.Pools
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	backendTimeout      time.Duration
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Registry            *routing.Registry
	ControlPlane        *routing.ControlPlane
	Diagnostics         *routing.Diagnostics
	Pools               *backends.Pools
	Logger              *slog.Logger
	Version             string
	BackendTimeout      time.Duration
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:            d.Registry,
		controlPlane:        d.ControlPlane,
		diagnostics:         d.Diagnostics,
		pools:               d.Pools,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		backendTimeout:      d.BackendTimeout,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

func (h *Handlers) spineDeps() spine.Deps {
	return spine.Deps{Registry: h.registry, Pools: h.pools, Logger: h.logger, Timeout: h.backendTimeout}
}

func (h *Handlers) blackboardDeps() blackboard.Deps {
	return blackboard.Deps{Registry: h.registry, Pools: h.pools, Logger: h.logger, Timeout: h.backendTimeout}
}

func (h *Handlers) memstoreDeps() memstore.Deps {
	return memstore.Deps{Registry: h.registry, Pools: h.pools, Logger: h.logger, Timeout: h.backendTimeout}
}

func (h *Handlers) analyticsDeps() analytics.Deps {
	return analytics.Deps{Registry: h.registry, Pools: h.pools, Logger: h.logger, Timeout: h.backendTimeout}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.registry.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAppendEvent handles POST /v1/events/append.
func (h *Handlers) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	var req model.AppendEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	sp, err := spine.New(r.Context(), h.spineDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	eventID, err := sp.Append(r.Context(), spine.AppendInput{
		EventType: req.EventType,
		Source:    req.Source,
		RunID:     req.RunID,
		UserID:    req.UserID,
		SurfaceID: req.SurfaceID,
		StepID:    req.StepID,
		Timestamp: req.Timestamp,
		Payload:   req.Payload,
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.AppendEventResponse{EventID: eventID.String()})
}

// HandleReplayEvents handles GET /v1/events/replay. The after_event_id query
// parameter is an exclusive cursor; the event at that id is not returned.
func (h *Handlers) HandleReplayEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, true)
}

// HandleListEvents handles GET /v1/events/list: replay from the start of the
// run, no cursor accepted.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, false)
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request, allowCursor bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	q := r.URL.Query()
	runID := q.Get("run_id")
	if runID == "" {
		writeFault(w, r, fault.Validation("query parameter run_id is required"))
		return
	}

	var afterEventID *uuid.UUID
	if raw := q.Get("after_event_id"); raw != "" {
		if !allowCursor {
			writeFault(w, r, fault.Validation("after_event_id is not accepted here, use /v1/events/replay"))
			return
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeFault(w, r, fault.InvalidCursor(raw))
			return
		}
		afterEventID = &parsed
	}

	eventType := model.SpineEventType(q.Get("event_type"))
	if eventType != "" && !model.ValidSpineEventType(eventType) {
		writeFault(w, r, fault.Validation("unknown event_type %q", eventType))
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeFault(w, r, fault.Validation("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	sp, err := spine.New(r.Context(), h.spineDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	events, err := sp.Replay(r.Context(), runID, afterEventID, eventType, limit)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	resp := model.ReplayResponse{Events: events}
	if len(events) > 0 {
		resp.NextAfter = events[len(events)-1].EventID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleBlackboardWrite handles POST /v1/blackboard/write.
func (h *Handlers) HandleBlackboardWrite(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	var req model.BlackboardWriteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	bb, err := blackboard.New(r.Context(), h.blackboardDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	entry, err := bb.Write(r.Context(), req.RunID, req.Key, req.Value, req.ExpectedVersion,
		blackboard.WriteOptions{Force: req.Force})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleBlackboardRead handles GET /v1/blackboard/read.
func (h *Handlers) HandleBlackboardRead(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	q := r.URL.Query()
	runID, key := q.Get("run_id"), q.Get("key")

	var version *int64
	if raw := q.Get("version"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeFault(w, r, fault.Validation("version must be an integer"))
			return
		}
		version = &parsed
	}

	bb, err := blackboard.New(r.Context(), h.blackboardDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	entry, err := bb.Read(r.Context(), runID, key, version)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "blackboard_store.not_found",
			"no entry for key", model.ResourceBlackboardStore)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleBlackboardKeys handles GET /v1/blackboard/keys.
func (h *Handlers) HandleBlackboardKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	bb, err := blackboard.New(r.Context(), h.blackboardDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	keys, err := bb.ListKeys(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// memstoreIdentity overlays an explicit user id onto the request identity.
func memstoreIdentity(id routing.Identity, userID string) routing.Identity {
	if userID != "" {
		id.UserID = userID
	}
	return id
}

// HandleMemorySet handles POST /v1/memory/set.
func (h *Handlers) HandleMemorySet(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	var req model.MemorySetRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	ms, err := memstore.New(r.Context(), h.memstoreDeps(), memstoreIdentity(id, req.UserID))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := ms.Set(r.Context(), req.Key, req.Value, req.TTLSeconds); err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": req.Key})
}

// HandleMemoryGet handles GET /v1/memory/get.
func (h *Handlers) HandleMemoryGet(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	q := r.URL.Query()
	ms, err := memstore.New(r.Context(), h.memstoreDeps(), memstoreIdentity(id, q.Get("user_id")))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	value, err := ms.Get(r.Context(), q.Get("key"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if value == nil {
		writeError(w, http.StatusNotFound, "memory_store.not_found",
			"no entry for key", model.ResourceMemoryStore)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": q.Get("key"), "value": value})
}

// HandleMemoryDelete handles DELETE /v1/memory/delete.
func (h *Handlers) HandleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	q := r.URL.Query()
	ms, err := memstore.New(r.Context(), h.memstoreDeps(), memstoreIdentity(id, q.Get("user_id")))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := ms.Delete(r.Context(), q.Get("key")); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMemoryKeys handles GET /v1/memory/keys.
func (h *Handlers) HandleMemoryKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	ms, err := memstore.New(r.Context(), h.memstoreDeps(), memstoreIdentity(id, r.URL.Query().Get("user_id")))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	keys, err := ms.ListKeys(r.Context())
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// HandleRecordMetric handles POST /v1/analytics/record.
func (h *Handlers) HandleRecordMetric(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeFault(w, r, fault.Validation("missing identity"))
		return
	}

	var req model.RecordMetricRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	sink, err := analytics.New(r.Context(), h.analyticsDeps(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := sink.Record(r.Context(), req.Metric, req.Value, req.Dimensions); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleUpsertRoute handles PUT /v1/routes.
func (h *Handlers) HandleUpsertRoute(w http.ResponseWriter, r *http.Request) {
	var req model.UpsertRouteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	route := model.ResourceRoute{
		RouteKey: model.RouteKey{
			ResourceKind: req.ResourceKind,
			TenantID:     req.TenantID,
			Env:          req.Env,
			ProjectID:    req.ProjectID,
		},
		BackendType:         req.BackendType,
		Config:              req.Config,
		Required:            req.Required,
		PreviousBackendType: req.PreviousBackendType,
		SwitchRationale:     req.SwitchRationale,
	}
	saved, err := h.controlPlane.UpsertRoute(r.Context(), route, h.actor(r))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleListRoutes handles GET /v1/routes.
func (h *Handlers) HandleListRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	routes, err := h.registry.List(r.Context(), routing.ListFilter{
		ResourceKind: model.ResourceKind(q.Get("resource_kind")),
		TenantID:     q.Get("tenant_id"),
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// HandleDeleteRoute handles DELETE /v1/routes.
func (h *Handlers) HandleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := model.RouteKey{
		ResourceKind: model.ResourceKind(q.Get("resource_kind")),
		TenantID:     q.Get("tenant_id"),
		Env:          q.Get("env"),
		ProjectID:    q.Get("project_id"),
	}
	if err := key.Validate(); err != nil {
		writeFault(w, r, fault.Validation("%v", err))
		return
	}
	if err := h.controlPlane.DeleteRoute(r.Context(), key, h.actor(r)); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDiagnostics handles GET /v1/diagnostics/routes. Tenant and env come
// from the identity headers unless overridden by query parameters.
func (h *Handlers) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	q := r.URL.Query()
	tenantID, env := id.TenantID, id.Env
	if v := q.Get("tenant_id"); v != "" {
		tenantID = v
	}
	if v := q.Get("env"); v != "" {
		env = v
	}

	statuses := h.diagnostics.CheckRoutes(r.Context(), tenantID, env)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"env":       env,
		"routes":    statuses,
	})
}

func (h *Handlers) actor(r *http.Request) string {
	if actor := r.Header.Get(headerActor); actor != "" {
		return actor
	}
	return "api"
}

package spine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
)

const (
	defaultReplayLimit = 100
	maxReplayLimit     = 1000
)

// Deps are the process-wide dependencies shared by every Spine instance.
type Deps struct {
	Registry *routing.Registry
	Pools    *backends.Pools
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Spine is a per-request Event Spine instance bound to one identity.
// Construction resolves the adapter through the routing registry; a missing
// route rejects in sellable modes and degrades in lab mode. Rejected
// construction is final; callers build a new instance after fixing routes.
type Spine struct {
	identity routing.Identity
	res      routing.Resolution[Adapter]
	logger   *slog.Logger
	timeout  time.Duration
	nowFn    func() time.Time
}

// New constructs a Spine for id. Returns the typed missing-route rejection
// (code "event_spine.missing_route", status 503) when no route exists and
// id.Mode is sellable.
func New(ctx context.Context, deps Deps, id routing.Identity) (*Spine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := routing.Resolve(ctx, deps.Registry, model.ResourceEventSpine, id, Factories(deps.Pools), logger)
	if err != nil {
		return nil, err
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Spine{
		identity: id,
		res:      res,
		logger:   logger,
		timeout:  timeout,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// AppendInput carries the caller-supplied fields of one event. Tenant, mode,
// and project come from the instance identity.
type AppendInput struct {
	EventType     model.SpineEventType
	Source        model.SpineEventSource
	RunID         string
	UserID        string
	SurfaceID     string
	StepID        string
	ParentEventID *uuid.UUID
	TraceID       string
	SpanID        string
	Timestamp     *time.Time
	Payload       map[string]any
}

// Append validates in, assigns an event id and UTC timestamp if absent, and
// persists the event. Validation failures never reach the backend.
func (s *Spine) Append(ctx context.Context, in AppendInput) (uuid.UUID, error) {
	if !model.ValidSpineEventType(in.EventType) {
		return uuid.Nil, fault.Validation("unknown event_type %q", in.EventType)
	}
	if !model.ValidSpineEventSource(in.Source) {
		return uuid.Nil, fault.Validation("unknown source %q", in.Source)
	}
	if s.identity.TenantID == "" {
		return uuid.Nil, fault.Validation("tenant_id is required")
	}
	if s.identity.Mode == "" {
		return uuid.Nil, fault.Validation("mode is required")
	}
	if in.RunID == "" {
		return uuid.Nil, fault.Validation("run_id is required")
	}

	if s.res.Degraded() {
		return uuid.Nil, fault.DegradedWrite(string(model.ResourceEventSpine))
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceEventSpine, s.res.Route.BackendType); err != nil {
		return uuid.Nil, err
	}

	event := model.SpineEvent{
		EventID:       uuid.New(),
		TenantID:      s.identity.TenantID,
		Mode:          s.identity.Mode,
		Timestamp:     s.nowFn(),
		EventType:     in.EventType,
		Source:        in.Source,
		RunID:         in.RunID,
		UserID:        in.UserID,
		SurfaceID:     in.SurfaceID,
		ProjectID:     s.identity.ProjectID,
		StepID:        in.StepID,
		ParentEventID: in.ParentEventID,
		TraceID:       in.TraceID,
		SpanID:        in.SpanID,
		Payload:       in.Payload,
	}
	if in.Timestamp != nil {
		event.Timestamp = in.Timestamp.UTC()
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.res.Adapter.AppendEvent(opCtx, event); err != nil {
		return uuid.Nil, fault.BackendIO("event_spine: append event", err)
	}
	return event.EventID, nil
}

// Replay returns events for runID in ascending (timestamp, event_id) order.
// afterEventID is exclusive; pagination continues by feeding back the last
// returned id. An unknown cursor is a typed invalid-cursor error.
func (s *Spine) Replay(ctx context.Context, runID string, afterEventID *uuid.UUID, eventType model.SpineEventType, limit int) ([]model.SpineEvent, error) {
	if runID == "" {
		return nil, fault.Validation("run_id is required")
	}
	if eventType != "" && !model.ValidSpineEventType(eventType) {
		return nil, fault.Validation("unknown event_type %q", eventType)
	}

	if s.res.Degraded() {
		// Lab-mode degraded reads return empty, silently.
		return nil, nil
	}
	if err := routing.CheckBackendAllowed(s.identity.Mode, model.ResourceEventSpine, s.res.Route.BackendType); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultReplayLimit
	}
	if limit > maxReplayLimit {
		limit = maxReplayLimit
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	events, err := s.res.Adapter.ListEvents(opCtx, ListQuery{
		TenantID:     s.identity.TenantID,
		RunID:        runID,
		AfterEventID: afterEventID,
		EventType:    eventType,
		Limit:        limit,
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindInvalidCursor {
			return nil, err
		}
		return nil, fault.BackendIO("event_spine: replay events", err)
	}
	return events, nil
}

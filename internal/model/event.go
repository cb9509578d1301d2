package model

import (
	"time"

	"github.com/google/uuid"
)

// SpineEventType is the closed set of event categories the spine accepts.
type SpineEventType string

const (
	SpineEventAnalytics      SpineEventType = "analytics"
	SpineEventAudit          SpineEventType = "audit"
	SpineEventSafety         SpineEventType = "safety"
	SpineEventRL             SpineEventType = "rl"
	SpineEventRLHA           SpineEventType = "rlha"
	SpineEventTuning         SpineEventType = "tuning"
	SpineEventBudget         SpineEventType = "budget"
	SpineEventStrategyLock   SpineEventType = "strategy_lock"
	SpineEventGateChainError SpineEventType = "gatechainerror"
)

// ValidSpineEventType reports whether t is a recognized event type.
func ValidSpineEventType(t SpineEventType) bool {
	switch t {
	case SpineEventAnalytics, SpineEventAudit, SpineEventSafety, SpineEventRL,
		SpineEventRLHA, SpineEventTuning, SpineEventBudget,
		SpineEventStrategyLock, SpineEventGateChainError:
		return true
	}
	return false
}

// SpineEventSource is the closed set of event origins.
type SpineEventSource string

const (
	SourceUI        SpineEventSource = "ui"
	SourceAgent     SpineEventSource = "agent"
	SourceConnector SpineEventSource = "connector"
	SourceTool      SpineEventSource = "tool"
)

// ValidSpineEventSource reports whether s is a recognized source.
func ValidSpineEventSource(s SpineEventSource) bool {
	switch s {
	case SourceUI, SourceAgent, SourceConnector, SourceTool:
		return true
	}
	return false
}

// SpineEvent is an append-only record in the event spine.
// Source of truth for audit and telemetry. Never mutated after creation;
// the backend-assigned position (timestamp, event_id) defines replay order.
type SpineEvent struct {
	EventID   uuid.UUID        `json:"event_id"`
	TenantID  string           `json:"tenant_id"`
	Mode      Mode             `json:"mode"`
	Timestamp time.Time        `json:"timestamp"`
	EventType SpineEventType   `json:"event_type"`
	Source    SpineEventSource `json:"source"`
	RunID     string           `json:"run_id"`

	UserID        string     `json:"user_id,omitempty"`
	SurfaceID     string     `json:"surface_id,omitempty"`
	ProjectID     string     `json:"project_id,omitempty"`
	StepID        string     `json:"step_id,omitempty"`
	ParentEventID *uuid.UUID `json:"parent_event_id,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
	SpanID        string     `json:"span_id,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
}

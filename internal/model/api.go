package model

import "time"

// APIError is the standard error envelope returned by every endpoint.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error. Code is a stable machine-readable
// string such as "event_spine.missing_route"; HTTPStatus repeats the
// response status so stream consumers can interpret the body alone.
type ErrorDetail struct {
	Code         string       `json:"code"`
	Message      string       `json:"message"`
	HTTPStatus   int          `json:"http_status"`
	ResourceKind ResourceKind `json:"resource_kind,omitempty"`
}

// AppendEventRequest is the request body for POST /v1/events/append.
// Tenant, mode, and project identity come from request headers, not the body.
type AppendEventRequest struct {
	EventType SpineEventType   `json:"event_type"`
	Source    SpineEventSource `json:"source"`
	RunID     string           `json:"run_id"`
	UserID    string           `json:"user_id,omitempty"`
	SurfaceID string           `json:"surface_id,omitempty"`
	StepID    string           `json:"step_id,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
}

// AppendEventResponse is the response body for POST /v1/events/append.
type AppendEventResponse struct {
	EventID string `json:"event_id"`
}

// ReplayResponse is the response body for GET /v1/events/replay.
// NextAfter echoes the last returned event id; feeding it back as the
// after_event_id query parameter continues pagination.
type ReplayResponse struct {
	Events    []SpineEvent `json:"events"`
	NextAfter string       `json:"next_after,omitempty"`
}

// BlackboardWriteRequest is the request body for POST /v1/blackboard/write.
type BlackboardWriteRequest struct {
	Key             string         `json:"key"`
	Value           map[string]any `json:"value"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
	Force           bool           `json:"force,omitempty"`
	RunID           string         `json:"run_id"`
}

// MemorySetRequest is the request body for POST /v1/memory/set.
type MemorySetRequest struct {
	UserID     string         `json:"user_id"`
	Key        string         `json:"key"`
	Value      map[string]any `json:"value"`
	TTLSeconds int64          `json:"ttl_seconds,omitempty"`
}

// RecordMetricRequest is the request body for POST /v1/analytics/record.
type RecordMetricRequest struct {
	Metric     string            `json:"metric"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// UpsertRouteRequest is the request body for PUT /v1/routes.
type UpsertRouteRequest struct {
	ResourceKind        ResourceKind      `json:"resource_kind"`
	TenantID            string            `json:"tenant_id"`
	Env                 string            `json:"env"`
	ProjectID           string            `json:"project_id,omitempty"`
	BackendType         BackendType       `json:"backend_type"`
	Config              map[string]string `json:"config,omitempty"`
	Required            bool              `json:"required"`
	PreviousBackendType BackendType       `json:"previous_backend_type,omitempty"`
	SwitchRationale     string            `json:"switch_rationale,omitempty"`
}

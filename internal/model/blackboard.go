package model

import "time"

// BlackboardEntry is a versioned shared-state record scoped to a run.
// Version starts at 1 and increases by exactly 1 per successful write to
// the key. A writer must present the version it believes is current (or
// assert the key must not exist) or the write is rejected.
type BlackboardEntry struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	Version   int64          `json:"version"`
	RunID     string         `json:"run_id"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedBy string         `json:"updated_by"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MemoryEntry is TTL-scoped session state keyed by the 4-part composite
// (tenant_id, mode, user_id, key). An entry observed past ExpiresAt is
// logically absent and is purged on next access.
type MemoryEntry struct {
	TenantID  string         `json:"tenant_id"`
	Mode      Mode           `json:"mode"`
	UserID    string         `json:"user_id"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is logically absent at now.
func (e MemoryEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// AnalyticsRecord is a flat usage/metric observation written through the
// analytics sink. Append-only like spine events, but shaped for aggregation
// rather than replay.
type AnalyticsRecord struct {
	Metric     string            `json:"metric"`
	TenantID   string            `json:"tenant_id"`
	Mode       Mode              `json:"mode"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

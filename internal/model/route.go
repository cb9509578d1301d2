package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceKind identifies a logical storage/messaging capability that must be
// bound to exactly one physical backend per (tenant, env, project).
type ResourceKind string

const (
	ResourceEventSpine      ResourceKind = "event_spine"
	ResourceBlackboardStore ResourceKind = "blackboard_store"
	ResourceMemoryStore     ResourceKind = "memory_store"
	ResourceAnalytics       ResourceKind = "analytics"
)

// CriticalResourceKinds is the fixed set checked by startup diagnostics.
var CriticalResourceKinds = []ResourceKind{
	ResourceEventSpine,
	ResourceBlackboardStore,
	ResourceMemoryStore,
	ResourceAnalytics,
}

// BackendType is the closed set of physical backends a route may bind to.
type BackendType string

const (
	BackendPostgres   BackendType = "postgres"
	BackendRedis      BackendType = "redis"
	BackendSQLite     BackendType = "sqlite"
	BackendFilesystem BackendType = "filesystem"
	BackendMemory     BackendType = "memory"
)

// Durable reports whether the backend class survives process restarts on
// shared infrastructure. Filesystem and in-process memory do not.
func (b BackendType) Durable() bool {
	switch b {
	case BackendPostgres, BackendRedis, BackendSQLite:
		return true
	default:
		return false
	}
}

// ValidBackendType reports whether b is a recognized backend type.
func ValidBackendType(b BackendType) bool {
	switch b {
	case BackendPostgres, BackendRedis, BackendSQLite, BackendFilesystem, BackendMemory:
		return true
	}
	return false
}

// Mode is the deployment mode a request executes under. Sellable modes carry
// durability guarantees; lab relaxes them for local development.
type Mode string

const (
	ModeSaaS       Mode = "saas"
	ModeEnterprise Mode = "enterprise"
	ModeSystem     Mode = "system"
	ModeLab        Mode = "lab"
)

// Sellable reports whether m is a production-facing mode.
func (m Mode) Sellable() bool {
	return m == ModeSaaS || m == ModeEnterprise || m == ModeSystem
}

// ValidMode reports whether m is a recognized deployment mode.
func ValidMode(m Mode) bool {
	return m.Sellable() || m == ModeLab
}

// RouteKey is the exact-match lookup key for a route. ProjectID empty and
// ProjectID set are distinct keys; there is no wildcard or hierarchical
// fallback on lookup.
type RouteKey struct {
	ResourceKind ResourceKind `json:"resource_kind"`
	TenantID     string       `json:"tenant_id"`
	Env          string       `json:"env"`
	ProjectID    string       `json:"project_id,omitempty"`
}

// String renders the key the way operators see it in errors and audit logs.
func (k RouteKey) String() string {
	if k.ProjectID == "" {
		return fmt.Sprintf("%s/%s/%s", k.ResourceKind, k.TenantID, k.Env)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.ResourceKind, k.TenantID, k.Env, k.ProjectID)
}

// Validate checks the key's required fields.
func (k RouteKey) Validate() error {
	if k.ResourceKind == "" {
		return fmt.Errorf("resource_kind is required")
	}
	if k.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if k.Env == "" {
		return fmt.Errorf("env is required")
	}
	return nil
}

// ResourceRoute binds a resource kind, scoped by tenant/env/project, to a
// backend type and its configuration. Created and updated only through the
// control plane; a backend_type change stamps the switch-history fields.
type ResourceRoute struct {
	ID       uuid.UUID `json:"id"`
	RouteKey           // flattened into the JSON object

	BackendType BackendType       `json:"backend_type"`
	Config      map[string]string `json:"config,omitempty"`
	Required    bool              `json:"required"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Switch history, stamped by the control plane when backend_type changes.
	PreviousBackendType BackendType `json:"previous_backend_type,omitempty"`
	SwitchRationale     string      `json:"switch_rationale,omitempty"`
	LastSwitchTime      *time.Time  `json:"last_switch_time,omitempty"`
}

// Validate checks route fields ahead of any store write.
func (r ResourceRoute) Validate() error {
	if err := r.RouteKey.Validate(); err != nil {
		return err
	}
	if !ValidBackendType(r.BackendType) {
		return fmt.Errorf("unknown backend_type %q", r.BackendType)
	}
	return nil
}

// RouteHealthStatus is an ephemeral per-kind health view computed on demand.
// Never persisted.
type RouteHealthStatus struct {
	ResourceKind ResourceKind `json:"resource_kind"`
	IsConfigured bool         `json:"is_configured"`
	BackendType  BackendType  `json:"backend_type,omitempty"`
}

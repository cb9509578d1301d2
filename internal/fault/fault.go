// Package fault defines the typed error taxonomy shared by the routing
// registry and the durable services built on it.
//
// Callers are expected to match on Kind rather than string-compare messages:
// configuration and policy failures are fatal to the operation, validation
// failures are rejected before any I/O, conflicts are caller-recoverable via
// read-modify-retry, and backend I/O failures carry the original cause and
// are never retried internally (appends are not idempotent under blind
// retry).
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for explicit caller matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigMissing
	KindValidation
	KindConflict
	KindPolicyViolation
	KindBackendIO
	KindInvalidCursor
	KindUnsupported
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPolicyViolation:
		return "policy_violation"
	case KindBackendIO:
		return "backend_io"
	case KindInvalidCursor:
		return "invalid_cursor"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a typed domain error with a stable machine code and an HTTP
// status hint for the externally-owned API surface.
type Error struct {
	Kind         Kind
	Code         string
	HTTPStatus   int
	ResourceKind string
	Message      string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the Kind of err, or KindUnknown if err is not a fault error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// AsError returns the fault error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}

// MissingRoute is the resource-specific rejection raised when a sellable-mode
// request finds no route for its exact (kind, tenant, env, project) key.
// It must propagate unmodified to the API surface.
func MissingRoute(resourceKind, routeKey string) *Error {
	return &Error{
		Kind:         KindConfigMissing,
		Code:         resourceKind + ".missing_route",
		HTTPStatus:   http.StatusServiceUnavailable,
		ResourceKind: resourceKind,
		Message:      fmt.Sprintf("no route configured for %s (required: %s)", resourceKind, routeKey),
	}
}

// MissingRegistryBackend is fatal at initialization: the registry's own
// storage backend was never selected. There is no silent in-memory fallback
// outside of test wiring.
func MissingRegistryBackend() *Error {
	return &Error{
		Kind:       KindConfigMissing,
		Code:       "routing.missing_registry_backend",
		HTTPStatus: http.StatusServiceUnavailable,
		Message:    "routing registry storage backend not configured",
	}
}

// Validation rejects malformed input before any I/O.
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:       KindValidation,
		Code:       "validation.invalid_input",
		HTTPStatus: http.StatusBadRequest,
		Message:    fmt.Sprintf(format, args...),
	}
}

// VersionConflict is the expected optimistic-concurrency rejection.
// currentVersion is 0 when the key does not exist.
func VersionConflict(key string, expected, current int64) *Error {
	return &Error{
		Kind:       KindConflict,
		Code:       "blackboard_store.version_conflict",
		HTTPStatus: http.StatusConflict,
		Message:    fmt.Sprintf("version conflict on key %q: expected %d, current %d", key, expected, current),
	}
}

// ForbiddenBackendClass is an operator-facing policy violation: a non-durable
// backend class was routed for a sellable mode.
func ForbiddenBackendClass(mode, backendType, resourceKind string) *Error {
	return &Error{
		Kind:         KindPolicyViolation,
		Code:         "routing.forbidden_backend_class",
		HTTPStatus:   http.StatusForbidden,
		ResourceKind: resourceKind,
		Message:      fmt.Sprintf("backend type %q is non-durable and forbidden in mode %q", backendType, mode),
	}
}

// UnsupportedBackend is a construction error for a backend type no adapter
// factory recognizes.
func UnsupportedBackend(resourceKind, backendType string) *Error {
	return &Error{
		Kind:         KindUnsupported,
		Code:         resourceKind + ".unsupported_backend",
		HTTPStatus:   http.StatusServiceUnavailable,
		ResourceKind: resourceKind,
		Message:      fmt.Sprintf("unsupported backend type %q for %s", backendType, resourceKind),
	}
}

// InvalidCursor rejects a replay cursor that does not name a known event.
// Returning everything (or nothing) would silently skip or duplicate events,
// so the caller must restart from a valid position.
func InvalidCursor(cursor string) *Error {
	return &Error{
		Kind:         KindInvalidCursor,
		Code:         "event_spine.invalid_cursor",
		HTTPStatus:   http.StatusGone,
		ResourceKind: "event_spine",
		Message:      fmt.Sprintf("replay cursor %q not found", cursor),
	}
}

// BackendIO wraps an adapter failure with operation context. Never retried
// internally.
func BackendIO(op string, cause error) *Error {
	return &Error{
		Kind:       KindBackendIO,
		Code:       "backend.io_error",
		HTTPStatus: http.StatusBadGateway,
		Message:    op,
		cause:      cause,
	}
}

// DegradedWrite is raised for any write attempted while a service is running
// in lab-mode degraded state. Reads no-op in that state; writes never
// silently succeed.
func DegradedWrite(resourceKind string) *Error {
	return &Error{
		Kind:         KindConfigMissing,
		Code:         resourceKind + ".degraded_write",
		HTTPStatus:   http.StatusServiceUnavailable,
		ResourceKind: resourceKind,
		Message:      fmt.Sprintf("%s write rejected: route not configured and mode is not lab", resourceKind),
	}
}

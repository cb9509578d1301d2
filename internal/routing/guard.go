package routing

import (
	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// CheckBackendAllowed is the backend-class durability guard: non-durable
// backend classes (filesystem, in-process memory) are forbidden in sellable
// modes and permitted only in lab mode.
//
// The predicate is pure and cheap. Callers holding a non-durable-capable
// adapter must re-evaluate it on every operation rather than caching the
// result at construction, because routes can change under a long-lived
// process.
func CheckBackendAllowed(mode model.Mode, kind model.ResourceKind, backend model.BackendType) error {
	if mode.Sellable() && !backend.Durable() {
		return fault.ForbiddenBackendClass(string(mode), string(backend), string(kind))
	}
	return nil
}

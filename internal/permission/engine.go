// Package permission implements the module-scoped Permission Engine: a
// simple grant/check/revoke store over the closed Permission enum
// (pkg/kernel.Permission). It is intentionally free of any prompting or
// escalation logic — that belongs to the Policy Engine (internal/policy).
//
// Permissions are keyed by moduleId and drawn from a fixed, closed
// host-API enum; capabilities (internal/capability) are the agent-scoped
// counterpart. The two are checked independently when a module-owned tool
// runs inside an agent.
package permission

import (
	"strings"
	"sync"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Engine holds, per module, the set of granted permissions.
type Engine struct {
	mu    sync.RWMutex
	perms map[string]map[kernel.Permission]struct{}
}

// New creates an empty Permission Engine.
func New() *Engine {
	return &Engine{perms: make(map[string]map[kernel.Permission]struct{})}
}

// Grant accumulates perms onto moduleID's set. An empty or whitespace-only
// moduleID is rejected with a ValidationError; an empty perms list is a
// no-op (not an error).
func (e *Engine) Grant(moduleID string, perms []kernel.Permission) error {
	if strings.TrimSpace(moduleID) == "" {
		return kernel.NewError(kernel.KindValidationError, "moduleID must not be empty")
	}
	if len(perms) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.perms[moduleID]
	if !ok {
		set = make(map[kernel.Permission]struct{}, len(perms))
		e.perms[moduleID] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return nil
}

// Revoke removes every permission granted to moduleID.
func (e *Engine) Revoke(moduleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.perms, moduleID)
}

// RevokePermission removes a single permission from moduleID's set.
func (e *Engine) RevokePermission(moduleID string, perm kernel.Permission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.perms[moduleID]; ok {
		delete(set, perm)
	}
}

// Check returns a PermissionDenied error if moduleID does not hold perm.
// O(1): a single map lookup under a read lock.
func (e *Engine) Check(moduleID string, perm kernel.Permission) error {
	if !e.HasPermission(moduleID, perm) {
		return kernel.NewError(kernel.KindPermissionDenied, "module "+moduleID+" lacks permission "+string(perm))
	}
	return nil
}

// HasPermission reports whether moduleID holds perm without allocating an
// error.
func (e *Engine) HasPermission(moduleID string, perm kernel.Permission) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.perms[moduleID]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// GetModulePermissions returns a snapshot slice of moduleID's granted
// permissions, in no particular order.
func (e *Engine) GetModulePermissions(moduleID string) []kernel.Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.perms[moduleID]
	if !ok {
		return nil
	}
	out := make([]kernel.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Reset clears all grants. Test-only entry point.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.perms = make(map[string]map[kernel.Permission]struct{})
}

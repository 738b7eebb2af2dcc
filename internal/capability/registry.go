// Package capability implements the Capability Registry and Verifier: the
// agent-scoped authorization layer over tool, network, memory, and
// agent-boundary access.
//
// Split into a Registry (declared capabilities) and a Verifier (per-agent
// grants and the Constraints derived from them); both are mutex-guarded
// register/lookup/derive stores.
package capability

import (
	"sync"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Registry stores the set of capabilities a deployment declares as
// available to be granted. It does not track who holds what — that is the
// Verifier's job.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]kernel.Capability
}

// NewRegistry creates an empty capability Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]kernel.Capability)}
}

// Declare registers a capability definition, overwriting any prior
// definition under the same name.
func (r *Registry) Declare(cap kernel.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[cap.Name] = cap
}

// Get returns the declared capability by name.
func (r *Registry) Get(name string) (kernel.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// List returns every declared capability.
func (r *Registry) List() []kernel.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kernel.Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	return out
}

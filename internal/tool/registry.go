// Package tool implements the Tool Registry and sandboxed Executor:
// schema-validated tool registration and execution under an
// enforced timeout, memory cap, and API allow/deny list.
//
// A mutex-guarded map by name that rejects empty names and duplicate
// registrations, and stores a declared Definition rather than a live Tool
// implementation — sandboxed execution goes through the Sandbox port, not
// an in-process interface call.
package tool

import (
	"strings"
	"sync"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Definition declares one tool: its JSON Schema input contract and the
// sandbox limits an Executor enforces when running it.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema document

	TimeoutMs     int64
	MaxMemoryBytes int64
	AllowAPIs     []string // allow-list of host APIs the sandboxed call may reach
	DenyAPIs      []string
	NetworkAllowed    bool
	FilesystemAllowed bool
}

// Registry stores immutable tool Definitions by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry creates an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds def to the registry. Rejects an empty name and a duplicate
// registration with a ValidationError carrying a "duplicate" detail — the
// closed error taxonomy has no distinct ConfigError kind.
func (r *Registry) Register(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return kernel.NewError(kernel.KindValidationError, "tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return kernel.NewError(kernel.KindValidationError, "tool already registered: "+def.Name).
			WithDetails(map[string]any{"reason": "duplicate", "name": def.Name})
	}
	r.tools[def.Name] = def
	return nil
}

// Get returns the declared definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns every registered definition, in no particular order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// Unregister removes a tool definition by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

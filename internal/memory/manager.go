package memory

import (
	"context"
	"sync"

	"github.com/corewire/agentkernel/internal/permission"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Manager coordinates the three memory layers and resolves logical
// scopes on upsert: "private" maps to
// "bot:{moduleId}", "shared" maps to "workspace:shared" and requires
// MemorySharedWrite, raw scope strings pass through unchanged.
type Manager struct {
	Session  *SessionMemory
	LongTerm *LongTerm

	permEngine *permission.Engine

	mu      sync.Mutex
	working map[string]*WorkingMemory // keyed by executionId
}

// NewManager wires the three layers. permEngine may be nil in tests that
// do not exercise the shared-scope permission check.
func NewManager(longTerm *LongTerm, permEngine *permission.Engine) *Manager {
	return &Manager{
		Session:    NewSessionMemory(),
		LongTerm:   longTerm,
		permEngine: permEngine,
		working:    make(map[string]*WorkingMemory),
	}
}

// WorkingFor returns (creating if needed) the working-memory buffer for one
// execution.
func (m *Manager) WorkingFor(executionID, modelID string) *WorkingMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.working[executionID]
	if !ok {
		w = NewWorkingMemory(modelID, nil)
		m.working[executionID] = w
	}
	return w
}

// DropWorking releases the working-memory buffer for a finished execution.
func (m *Manager) DropWorking(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.working, executionID)
}

// Upsert resolves a logical scope and stores item into long-term memory.
// moduleID is used to resolve "private" scopes; a "shared" scope requires
// moduleID to hold the MemorySharedWrite permission.
func (m *Manager) Upsert(ctx context.Context, moduleID string, item *kernel.MemoryItem) error {
	logical := item.Scope
	if logical == kernel.ScopeLogicalShared {
		if m.permEngine != nil {
			if err := m.permEngine.Check(moduleID, kernel.PermissionMemorySharedWrite); err != nil {
				return err
			}
		}
	}
	item.Scope = kernel.ResolveMemoryScope(logical, moduleID)
	return m.LongTerm.Store(ctx, item)
}

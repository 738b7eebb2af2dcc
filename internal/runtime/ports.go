// Package runtime implements the Runtime composition root:
// constructed from injected ports, validating required ones, exposing
// execute/resume/abort and holding no business logic of its own — every
// decision is delegated to the subsystem the node type calls for.
//
// The injected ports are storage, provider, sandbox, vector store,
// permission engine, module manager, scheduler, snapshot store,
// observability, and secret vault.
package runtime

import (
	"context"
	"sync"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Storage is the generic key/value port: "get/set/delete/has/
// keys(prefix?)/clear over string keys and JSON values."
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// MemoryStorage is an in-process Storage port backed by a mutex-guarded
// map; the zero-config choice for tests and embedded hosts.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates an empty Storage port.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStorage) Has(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.data {
		if prefix == "" || len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

// SecretVault is the optional secret-reading port:
// modules request a named secret and the host resolves it from wherever it
// is actually stored.
type SecretVault interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ModuleManager resolves which package/module owns a running agent, so the
// Permission Engine and audit log can attribute a check to a moduleId
// rather than an agentId.
type ModuleManager interface {
	ModuleForAgent(agentID string) (string, bool)
}

// StaticModuleManager is the trivial ModuleManager backed by a fixed map,
// sufficient for single-module or test deployments.
type StaticModuleManager struct {
	byAgent map[string]string
}

// NewStaticModuleManager builds a ModuleManager from an agentID->moduleID map.
func NewStaticModuleManager(byAgent map[string]string) *StaticModuleManager {
	return &StaticModuleManager{byAgent: byAgent}
}

func (m *StaticModuleManager) ModuleForAgent(agentID string) (string, bool) {
	id, ok := m.byAgent[agentID]
	return id, ok
}

// Observability is the optional metrics/tracing sink.
// Runtime calls it best-effort; a nil Observability is always safe.
type Observability interface {
	RecordNodeEntered(agentID string, nodeType kernel.NodeType)
	RecordExecutionTerminal(agentID string, state kernel.LifecycleState)
}

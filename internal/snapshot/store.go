// Package snapshot implements the Snapshot Store: append-only
// persistence of Snapshot Records keyed by executionId, with idempotent
// replace-in-place for the terminal snapshot and replay helpers.
//
// The Store port is a create/get/list/delete split over
// kernel.SnapshotRecord with append-then-replace-on-terminal semantics.
package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/corewire/agentkernel/internal/lifecycle"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Store is the Snapshot Store port.
type Store interface {
	Save(ctx context.Context, rec *kernel.SnapshotRecord) error
	Load(ctx context.Context, executionID string) (*kernel.SnapshotRecord, error)
	List(ctx context.Context, agentID string) ([]*kernel.SnapshotRecord, error)
	Delete(ctx context.Context, executionID string) error
	DeleteAll(ctx context.Context) error
}

// MemoryStore is an in-process Store backed by mutex-guarded maps.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  map[string]*kernel.SnapshotRecord   // executionId -> most recent record
	history map[string][]*kernel.SnapshotRecord // executionId -> all records in save order
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:  make(map[string]*kernel.SnapshotRecord),
		history: make(map[string][]*kernel.SnapshotRecord),
	}
}

// Save appends rec to the execution's history. Saving a terminal-state
// record replaces the prior terminal record in place rather than appending
// a second one, so the terminal save is idempotent.
func (s *MemoryStore) Save(ctx context.Context, rec *kernel.SnapshotRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return kernel.NewError(kernel.KindValidationError, "snapshot record must have an executionId")
	}
	clone := *rec

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, hasPrior := s.latest[rec.ExecutionID]
	if hasPrior && lifecycle.IsTerminal(prior.LifecycleState) && lifecycle.IsTerminal(clone.LifecycleState) {
		hist := s.history[rec.ExecutionID]
		if len(hist) > 0 {
			hist[len(hist)-1] = &clone
		} else {
			hist = append(hist, &clone)
		}
		s.history[rec.ExecutionID] = hist
	} else {
		s.history[rec.ExecutionID] = append(s.history[rec.ExecutionID], &clone)
	}
	s.latest[rec.ExecutionID] = &clone
	return nil
}

// Load returns the most recent record for executionID.
func (s *MemoryStore) Load(ctx context.Context, executionID string) (*kernel.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.latest[executionID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

// List returns the latest snapshot for every execution belonging to
// agentID, most recently timestamped first.
func (s *MemoryStore) List(ctx context.Context, agentID string) ([]*kernel.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*kernel.SnapshotRecord
	for _, rec := range s.latest {
		if rec.AgentID == agentID {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Delete removes every record for one execution.
func (s *MemoryStore) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, executionID)
	delete(s.history, executionID)
	return nil
}

// DeleteAll clears the entire store.
func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = make(map[string]*kernel.SnapshotRecord)
	s.history = make(map[string][]*kernel.SnapshotRecord)
	return nil
}

// LoadExecution returns every snapshot recorded for executionID, in
// lifecycle order.
func (s *MemoryStore) LoadExecution(executionID string) []*kernel.SnapshotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.history[executionID]
	out := make([]*kernel.SnapshotRecord, len(hist))
	for i, rec := range hist {
		clone := *rec
		out[i] = &clone
	}
	return out
}

// GetResponse returns the recorded snapshot whose NodePointer matches
// nodePointer, for deterministic replay of a specific node.
func (s *MemoryStore) GetResponse(executionID, nodePointer string) (*kernel.SnapshotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.history[executionID] {
		if rec.NodePointer == nodePointer {
			clone := *rec
			return &clone, true
		}
	}
	return nil, false
}

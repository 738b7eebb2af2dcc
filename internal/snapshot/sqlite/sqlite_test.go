package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &kernel.SnapshotRecord{
		ExecutionID:    "e1",
		AgentID:        "a1",
		GraphID:        "g1",
		NodePointer:    "n1",
		LifecycleState: kernel.StateRunning,
		Timestamp:      time.Now(),
		Version:        "v1",
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(ctx, "e1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.NodePointer != "n1" {
		t.Fatalf("expected loaded record n1, got %+v", loaded)
	}
}

func TestTerminalSnapshotReplacesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, NodePointer: "n1", Timestamp: base})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateCompleted, NodePointer: "n2", Timestamp: base.Add(time.Second)})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateSnapshotPersisted, NodePointer: "n2", Timestamp: base.Add(2 * time.Second)})

	hist, err := s.LoadExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("loadExecution: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected running + collapsed terminal row, got %d: %+v", len(hist), hist)
	}
	if hist[1].LifecycleState != kernel.StateSnapshotPersisted {
		t.Fatalf("expected terminal row replaced with snapshot_persisted, got %s", hist[1].LifecycleState)
	}
}

func TestListFiltersByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, Timestamp: time.Now()})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e2", AgentID: "a2", LifecycleState: kernel.StateRunning, Timestamp: time.Now()})

	recs, err := s.List(ctx, "a1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ExecutionID != "e1" {
		t.Fatalf("expected only e1, got %+v", recs)
	}
}

func TestDeleteAndDeleteAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, Timestamp: time.Now()})

	if err := s.Delete(ctx, "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rec, _ := s.Load(ctx, "e1")
	if rec != nil {
		t.Fatal("expected e1 removed")
	}

	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e2", AgentID: "a1", LifecycleState: kernel.StateRunning, Timestamp: time.Now()})
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	recs, _ := s.List(ctx, "a1")
	if len(recs) != 0 {
		t.Fatalf("expected empty store, got %+v", recs)
	}
}

package snapshot

import (
	"context"
	"testing"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestSaveAppendsThenReplacesTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, NodePointer: "n1"})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateCompleted, NodePointer: "n2"})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateSnapshotPersisted, NodePointer: "n2"})

	hist := s.LoadExecution("e1")
	if len(hist) != 2 {
		t.Fatalf("expected running + one collapsed terminal record, got %d: %+v", len(hist), hist)
	}

	latest, err := s.Load(ctx, "e1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if latest.LifecycleState != kernel.StateSnapshotPersisted {
		t.Fatalf("expected latest state snapshot_persisted, got %s", latest.LifecycleState)
	}
}

func TestListFiltersByAgent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e2", AgentID: "a2", LifecycleState: kernel.StateRunning})

	recs, err := s.List(ctx, "a1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ExecutionID != "e1" {
		t.Fatalf("expected only e1, got %+v", recs)
	}
}

func TestDeleteAndDeleteAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e2", AgentID: "a1", LifecycleState: kernel.StateRunning})

	if err := s.Delete(ctx, "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec, _ := s.Load(ctx, "e1"); rec != nil {
		t.Fatal("expected e1 removed")
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	recs, _ := s.List(ctx, "a1")
	if len(recs) != 0 {
		t.Fatalf("expected empty store after deleteAll, got %+v", recs)
	}
}

func TestGetResponseByNodePointer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, NodePointer: "node-a"})
	s.Save(ctx, &kernel.SnapshotRecord{ExecutionID: "e1", AgentID: "a1", LifecycleState: kernel.StateRunning, NodePointer: "node-b"})

	rec, ok := s.GetResponse("e1", "node-a")
	if !ok || rec.NodePointer != "node-a" {
		t.Fatalf("expected node-a record, got %+v ok=%v", rec, ok)
	}
}

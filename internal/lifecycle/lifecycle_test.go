package lifecycle

import (
	"testing"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func newCtx() *kernel.ExecutionContext {
	return kernel.NewExecutionContext("exec1", "agent1", "sess1", "graph1", 1000)
}

func TestValidTransitionSequence(t *testing.T) {
	bus := events.New()
	var seen []kernel.EventType
	bus.OnAny(func(e kernel.Event) { seen = append(seen, e.Type) })

	c := New(bus)
	ec := newCtx()

	steps := []kernel.LifecycleState{
		kernel.StateValidated,
		kernel.StatePlanned,
		kernel.StateScheduled,
		kernel.StateRunning,
		kernel.StateToolExecution,
		kernel.StateRunning,
		kernel.StateCompleted,
		kernel.StateSnapshotPersisted,
	}
	for _, to := range steps {
		if err := c.Transition(ec, to, nil); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if ec.State() != kernel.StateSnapshotPersisted {
		t.Fatalf("expected final state snapshot_persisted, got %s", ec.State())
	}
	if len(seen) == 0 {
		t.Fatal("expected at least one emitted event")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	c := New(nil)
	ec := newCtx()

	err := c.Transition(ec, kernel.StateCompleted, nil)
	if err == nil {
		t.Fatal("expected error transitioning directly from created to completed")
	}
	kerr, ok := err.(*kernel.Error)
	if !ok || kerr.Kind != kernel.KindValidationError {
		t.Fatalf("expected ValidationError kind, got %v", err)
	}
	if ec.State() != kernel.StateCreated {
		t.Fatalf("expected state unchanged after illegal transition, got %s", ec.State())
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []kernel.LifecycleState{kernel.StateCompleted, kernel.StateFailed, kernel.StateAborted, kernel.StateSnapshotPersisted} {
		if !IsTerminal(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if IsTerminal(kernel.StateRunning) {
		t.Fatal("expected running to not be terminal")
	}
}

// Package lifecycle enforces the Execution Context's closed state
// transition table and emits the corresponding lifecycle
// event for every legal transition.
//
// Each state-changing call pairs with a typed emission; the transition
// table is closed and any pair outside it is rejected.
package lifecycle

import (
	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// transitions is the closed adjacency table:
// created → validated → planned → scheduled → running →
// (tool_execution | memory_injection → running)* →
// (completed | failed | aborted) → snapshot_persisted.
var transitions = map[kernel.LifecycleState]map[kernel.LifecycleState]bool{
	kernel.StateCreated: {
		kernel.StateValidated: true,
		kernel.StateAborted:   true,
		kernel.StateFailed:    true,
	},
	kernel.StateValidated: {
		kernel.StatePlanned: true,
		kernel.StateAborted: true,
		kernel.StateFailed:  true,
	},
	kernel.StatePlanned: {
		kernel.StateScheduled: true,
		kernel.StateAborted:   true,
		kernel.StateFailed:    true,
	},
	kernel.StateScheduled: {
		kernel.StateRunning: true,
		kernel.StateAborted: true,
		kernel.StateFailed:  true,
	},
	kernel.StateRunning: {
		kernel.StateToolExecution:   true,
		kernel.StateMemoryInjection: true,
		kernel.StateCompleted:       true,
		kernel.StateFailed:          true,
		kernel.StateAborted:         true,
	},
	kernel.StateToolExecution: {
		kernel.StateRunning: true,
		kernel.StateFailed:  true,
		kernel.StateAborted: true,
	},
	kernel.StateMemoryInjection: {
		kernel.StateRunning: true,
		kernel.StateFailed:  true,
		kernel.StateAborted: true,
	},
	kernel.StateCompleted: {
		kernel.StateSnapshotPersisted: true,
	},
	kernel.StateFailed: {
		kernel.StateSnapshotPersisted: true,
	},
	kernel.StateAborted: {
		kernel.StateSnapshotPersisted: true,
	},
}

// eventForState maps a target state to the lifecycle event it emits. States
// with no dedicated event (the intra-running tool/memory sub-states already
// have their own suspension-point events from the Worker) fall back to
// execution.* events for the terminal/boundary states only.
func eventForState(to kernel.LifecycleState) (kernel.EventType, bool) {
	switch to {
	case kernel.StateScheduled:
		return kernel.EventExecutionScheduled, true
	case kernel.StateRunning:
		return kernel.EventExecutionStarted, true
	case kernel.StateCompleted:
		return kernel.EventExecutionCompleted, true
	case kernel.StateFailed:
		return kernel.EventExecutionFailed, true
	case kernel.StateAborted:
		return kernel.EventExecutionAborted, true
	default:
		return "", false
	}
}

// IsTerminal reports whether a state ends the run (completed/failed/aborted
// or the final snapshot_persisted).
func IsTerminal(s kernel.LifecycleState) bool {
	switch s {
	case kernel.StateCompleted, kernel.StateFailed, kernel.StateAborted, kernel.StateSnapshotPersisted:
		return true
	default:
		return false
	}
}

// Controller enforces the transition table for one Execution Context and
// emits lifecycle events through bus.
type Controller struct {
	bus *events.Bus
}

// New creates a Controller. bus may be nil in tests that don't assert on
// emitted events.
func New(bus *events.Bus) *Controller {
	return &Controller{bus: bus}
}

// Transition validates ec's current state can legally move to `to`, applies
// it, and emits the matching lifecycle event. Returns a ValidationError
// kernel.Error if the transition is not in the closed table.
func (c *Controller) Transition(ec *kernel.ExecutionContext, to kernel.LifecycleState, data map[string]any) error {
	from := ec.State()
	allowed, ok := transitions[from]
	if !ok || !allowed[to] {
		return kernel.NewError(kernel.KindValidationError, "illegal lifecycle transition").
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	ec.Transition(to)

	if c.bus == nil {
		return nil
	}
	if evType, ok := eventForState(to); ok {
		c.bus.Emit(kernel.Event{
			Type:        evType,
			ExecutionID: ec.ExecutionID,
			AgentID:     ec.AgentID,
			Data:        data,
		})
	}
	return nil
}

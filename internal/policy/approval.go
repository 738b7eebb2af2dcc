package policy

import (
	"context"
	"sync"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// ApprovalGate turns a Prompt decision into a suspend/resume checkpoint: the
// Worker calls Await, which blocks until a matching approve_checkpoint event
// arrives on the bus, the execution's abort channel closes, or ctx is
// cancelled.
type ApprovalGate struct {
	bus *events.Bus

	mu      sync.Mutex
	waiters map[string]chan bool // executionId -> approved
}

// NewApprovalGate wires a gate to bus, listening for approve_checkpoint
// events carrying an "approved" bool in Data.
func NewApprovalGate(bus *events.Bus) *ApprovalGate {
	g := &ApprovalGate{bus: bus, waiters: make(map[string]chan bool)}
	if bus != nil {
		bus.On(kernel.EventPolicyDecision, g.onDecisionEvent)
	}
	return g
}

func (g *ApprovalGate) onDecisionEvent(e kernel.Event) {
	if e.Data == nil {
		return
	}
	action, _ := e.Data["action"].(string)
	if action != "approve_checkpoint" {
		return
	}
	approved, _ := e.Data["approved"].(bool)
	g.Resolve(e.ExecutionID, approved)
}

// Await registers a waiter for executionID and blocks until resolved,
// aborted, timed out, or ctx is done. Returns the approval outcome and an
// error describing why (if not a clean approval/denial).
func (g *ApprovalGate) Await(ctx context.Context, executionID string, abort <-chan struct{}) (bool, error) {
	ch := make(chan bool, 1)

	g.mu.Lock()
	g.waiters[executionID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.waiters, executionID)
		g.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved, nil
	case <-abort:
		return false, kernel.NewError(kernel.KindTimeout, "aborted while awaiting approval")
	case <-ctx.Done():
		return false, kernel.Wrap(kernel.KindTimeout, "approval wait deadline exceeded", ctx.Err())
	}
}

// Resolve delivers an approval decision for executionID to whoever is
// awaiting it. A no-op if no one is waiting.
func (g *ApprovalGate) Resolve(executionID string, approved bool) {
	g.mu.Lock()
	ch, ok := g.waiters[executionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- approved:
	default:
	}
}

package orchestrator

import (
	"fmt"
	"testing"

	"github.com/corewire/agentkernel/internal/capability"
	"github.com/corewire/agentkernel/internal/scheduler"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func idGen() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("exec-%d", n)
	}
}

func TestCallAgentCycleDetection(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&kernel.AgentDefinition{ID: "child", GraphID: "g1", MaxTokenBudget: 100})

	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)
	parent.PushCallFrame(kernel.CallFrame{ParentExecutionID: "p0", ParentAgentID: "grandparent", ChildAgentID: "parentAgent"})

	orch := New(reg, nil, scheduler.New(nil), idGen())
	_, err := orch.CallAgent(parent, "parentAgent", 0, nil)
	if err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestCallAgentDepthLimit(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&kernel.AgentDefinition{ID: "child", GraphID: "g1", MaxTokenBudget: 100})

	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)
	for i := 0; i < kernel.MaxCallStackDepth; i++ {
		parent.PushCallFrame(kernel.CallFrame{ParentAgentID: fmt.Sprintf("a%d", i), ChildAgentID: fmt.Sprintf("b%d", i)})
	}

	orch := New(reg, nil, scheduler.New(nil), idGen())
	_, err := orch.CallAgent(parent, "child", 0, nil)
	if err == nil {
		t.Fatal("expected depth-limit error")
	}
}

func TestCallAgentEnqueuesAndBuildsCallStack(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&kernel.AgentDefinition{ID: "child", GraphID: "g1", MaxTokenBudget: 500, BudgetIsolated: true})

	sched := scheduler.New(nil)
	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)

	orch := New(reg, nil, sched, idGen())
	res, err := orch.CallAgent(parent, "child", 7, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("callAgent: %v", err)
	}
	if res.ChildExecutionID != "exec-1" {
		t.Fatalf("expected exec-1, got %s", res.ChildExecutionID)
	}
	if len(res.ChildContext.SnapshotCallStack()) != 1 {
		t.Fatalf("expected call stack length 1, got %d", len(res.ChildContext.SnapshotCallStack()))
	}
	if v, _ := res.ChildContext.Variable("x"); v != 1 {
		t.Fatalf("expected input variable propagated, got %v", v)
	}
	if sched.Size() != 1 {
		t.Fatalf("expected child enqueued, size=%d", sched.Size())
	}
}

func TestCallAgentUnknownAgent(t *testing.T) {
	reg := NewRegistry()
	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)
	orch := New(reg, nil, scheduler.New(nil), idGen())

	_, err := orch.CallAgent(parent, "ghost", 0, nil)
	if err == nil {
		t.Fatal("expected unknown-agent error")
	}
}

func TestPropagationFull(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&kernel.AgentDefinition{ID: "child", GraphID: "g1", MaxTokenBudget: 100, CapabilityPropagation: kernel.PropagationFull})

	verifier := capability.NewVerifier(nil, nil)
	verifier.Grant(kernel.Grant{AgentID: "parentAgent", AllowedTools: []string{"search", "email"}})

	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)
	orch := New(reg, verifier, scheduler.New(nil), idGen())

	if _, err := orch.CallAgent(parent, "child", 0, nil); err != nil {
		t.Fatalf("callAgent: %v", err)
	}
	childGrant, ok := verifier.GrantFor("child")
	if !ok {
		t.Fatal("expected child grant to exist")
	}
	if len(childGrant.AllowedTools) != 2 {
		t.Fatalf("expected full propagation of 2 tools, got %v", childGrant.AllowedTools)
	}
}

func TestPropagationSubset(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&kernel.AgentDefinition{ID: "child", GraphID: "g1", MaxTokenBudget: 100, CapabilityPropagation: kernel.PropagationSubset})

	verifier := capability.NewVerifier(nil, nil)
	verifier.Grant(kernel.Grant{AgentID: "parentAgent", AllowedTools: []string{"search", "email"}})
	verifier.Grant(kernel.Grant{AgentID: "child", AllowedTools: []string{"email", "calendar"}})

	parent := kernel.NewExecutionContext("p1", "parentAgent", "sess", "g0", 1000)
	orch := New(reg, verifier, scheduler.New(nil), idGen())

	if _, err := orch.CallAgent(parent, "child", 0, nil); err != nil {
		t.Fatalf("callAgent: %v", err)
	}
	childGrant, _ := verifier.GrantFor("child")
	if len(childGrant.AllowedTools) != 1 || childGrant.AllowedTools[0] != "email" {
		t.Fatalf("expected subset [email], got %v", childGrant.AllowedTools)
	}
}

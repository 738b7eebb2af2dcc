package policy

import (
	"context"
	"testing"
	"time"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func allowAll() Policy {
	return Func{PolicyName: "allow-all", Eval: func(string, Action, Context) Decision { return Allow }}
}

func denyTool(name string) Policy {
	return Func{PolicyName: "deny-" + name, Eval: func(_ string, a Action, _ Context) Decision {
		if a.Tool == name {
			return Deny
		}
		return Allow
	}}
}

func TestEmptyEngineAllows(t *testing.T) {
	e := New()
	if got := e.Evaluate("a", Action{Name: "tool.exec", Tool: "x"}, nil); got != Allow {
		t.Fatalf("expected Allow, got %v", got)
	}
}

func TestStrictestWins(t *testing.T) {
	e := New()
	e.Register(allowAll())
	e.Register(denyTool("shell_exec"))

	if got := e.Evaluate("a", Action{Tool: "web_search"}, nil); got != Allow {
		t.Fatalf("expected Allow, got %v", got)
	}
	if got := e.Evaluate("a", Action{Tool: "shell_exec"}, nil); got != Deny {
		t.Fatalf("expected Deny, got %v", got)
	}
}

func TestPromptIsLessStrictThanDeny(t *testing.T) {
	e := New()
	e.Register(Func{PolicyName: "p", Eval: func(string, Action, Context) Decision { return Prompt }})
	e.Register(denyTool("shell_exec"))

	if got := e.Evaluate("a", Action{Tool: "shell_exec"}, nil); got != Deny {
		t.Fatalf("expected Deny to win over Prompt, got %v", got)
	}
	if got := e.Evaluate("a", Action{Tool: "other"}, nil); got != Prompt {
		t.Fatalf("expected Prompt, got %v", got)
	}
}

func TestEvaluateDetailedNamesWinningPolicy(t *testing.T) {
	e := New()
	e.Register(allowAll())
	e.Register(denyTool("shell_exec"))

	v := e.EvaluateDetailed("a", Action{Tool: "shell_exec"}, nil)
	if v.Decision != Deny || v.PolicyName != "deny-shell_exec" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestApprovalGateResolve(t *testing.T) {
	bus := events.New()
	gate := NewApprovalGate(bus)
	abort := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		approved, err := gate.Await(context.Background(), "exec-1", abort)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- approved
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Emit(kernel.Event{
		Type:        kernel.EventPolicyDecision,
		ExecutionID: "exec-1",
		Data:        map[string]any{"action": "approve_checkpoint", "approved": true},
	})

	select {
	case approved := <-done:
		if !approved {
			t.Fatal("expected approval")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval")
	}
}

func TestApprovalGateAbort(t *testing.T) {
	gate := NewApprovalGate(nil)
	abort := make(chan struct{})
	close(abort)

	_, err := gate.Await(context.Background(), "exec-2", abort)
	if err == nil {
		t.Fatal("expected error on abort")
	}
}

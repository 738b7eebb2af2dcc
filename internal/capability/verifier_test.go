package capability

import (
	"testing"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestVerifyToolCall(t *testing.T) {
	v := NewVerifier(nil, nil)
	v.Grant(kernel.Grant{
		AgentID:      "agent-1",
		Capabilities: []string{"tool.exec"},
		AllowedTools: []string{"web_search"},
	})

	if err := v.VerifyToolCall("agent-1", "web_search"); err != nil {
		t.Fatalf("expected allowed tool to pass, got %v", err)
	}

	err := v.VerifyToolCall("agent-1", "shell_exec")
	if !kernel.IsKind(err, kernel.KindPermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestVerifyToolCallEmitsDeniedEvent(t *testing.T) {
	bus := events.New()
	var gotDenied bool
	bus.On(kernel.EventCapabilityDenied, func(e kernel.Event) { gotDenied = true })

	v := NewVerifier(bus, nil)
	v.Grant(kernel.Grant{AgentID: "a", AllowedTools: []string{"x"}})
	_ = v.VerifyToolCall("a", "y")

	if !gotDenied {
		t.Fatal("expected capability.denied event")
	}
}

func TestVerifyMemoryInjectionPrefixMatch(t *testing.T) {
	v := NewVerifier(nil, nil)
	v.Grant(kernel.Grant{AgentID: "a", AllowedMemory: []string{"bot:a*"}})

	if err := v.VerifyMemoryInjection("a", "bot:a"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := v.VerifyMemoryInjection("a", "workspace:shared"); err == nil {
		t.Fatal("expected denial for unrelated scope")
	}
}

func TestVerifyCrossAgentMessage(t *testing.T) {
	v := NewVerifier(nil, nil)
	v.Grant(kernel.Grant{AgentID: "parent", AllowedAgents: []string{"child"}})

	if err := v.VerifyCrossAgentMessage("parent", "child"); err != nil {
		t.Fatalf("expected allowed target, got %v", err)
	}
	if err := v.VerifyCrossAgentMessage("parent", "stranger"); err == nil {
		t.Fatal("expected denial for non-allow-listed target")
	}
}

func TestRevoke(t *testing.T) {
	v := NewVerifier(nil, nil)
	v.Grant(kernel.Grant{AgentID: "a", AllowedTools: []string{"x"}})
	v.Revoke("a")

	if err := v.VerifyToolCall("a", "x"); err == nil {
		t.Fatal("expected denial after revoke")
	}
}

package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/corewire/agentkernel/pkg/kernel"
)

const sampleBundle = `{
  "graphs": [
    {
      "id": "researcher-graph",
      "nodes": {
        "start": {"id": "start", "type": "START"},
        "ask":   {"id": "ask", "type": "LLM"},
        "end":   {"id": "end", "type": "END"}
      },
      "edges": [
        {"from": "start", "to": "ask"},
        {"from": "ask", "to": "end"}
      ]
    }
  ],
  "agents": [
    {
      "id": "researcher",
      "name": "Researcher",
      "graphId": "researcher-graph",
      "maxTokenBudget": 100000,
      "capabilityPropagation": "subset"
    }
  ]
}`

func writeSampleBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	if err := os.WriteFile(path, []byte(sampleBundle), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestLoad_DecodesGraphsAndAgents(t *testing.T) {
	path := writeSampleBundle(t)
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	graphs, agents := b.ToRuntimeInputs()

	g, ok := graphs["researcher-graph"]
	if !ok {
		t.Fatal("expected researcher-graph to be present")
	}
	if len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Fatalf("unexpected graph shape: %+v", g)
	}
	if g.Nodes["ask"].Type != kernel.NodeLLM {
		t.Fatalf("expected ask node to be LLM, got %v", g.Nodes["ask"].Type)
	}

	a, ok := agents["researcher"]
	if !ok {
		t.Fatal("expected researcher agent to be present")
	}
	if a.GraphID != "researcher-graph" || a.MaxTokenBudget != 100000 {
		t.Fatalf("unexpected agent: %+v", a)
	}
	if a.CapabilityPropagation != kernel.PropagationSubset {
		t.Fatalf("expected subset propagation, got %v", a.CapabilityPropagation)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing bundle file")
	}
}

func TestLoad_DefaultsCapabilityPropagationToNone(t *testing.T) {
	path := writeSampleBundle(t)
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, agents := b.ToRuntimeInputs()
	agents["researcher"].CapabilityPropagation = ""
	// Convert a minimal agent DTO with no propagation field to confirm the
	// zero value resolves to PropagationNone rather than an empty string.
	b2 := Bundle{Agents: []AgentDTO{{ID: "a", Name: "A", GraphID: "g", MaxTokenBudget: 1}}}
	_, agents2 := b2.ToRuntimeInputs()
	if agents2["a"].CapabilityPropagation != kernel.PropagationNone {
		t.Fatalf("expected PropagationNone default, got %v", agents2["a"].CapabilityPropagation)
	}
}

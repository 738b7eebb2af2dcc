// Package deploy decodes the on-disk description of the graphs and agents a
// Runtime should serve into pkg/kernel's in-memory types.
//
// kernel.Graph and kernel.AgentDefinition carry no json tags of their own
// (they are the in-memory working set, not a wire format), so a tagged
// DTO decodes the file, then converts into the kernel types the Runtime
// actually consumes.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// NodeDTO is one graph node as written in a bundle file.
type NodeDTO struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Config        map[string]any `json:"config,omitempty"`
	MaxIterations int            `json:"maxIterations,omitempty"`
	Checkpoint    bool           `json:"checkpoint,omitempty"`
}

// EdgeDTO is one directed edge as written in a bundle file.
type EdgeDTO struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// GraphDTO is one graph as written in a bundle file.
type GraphDTO struct {
	ID    string             `json:"id"`
	Nodes map[string]NodeDTO `json:"nodes"`
	Edges []EdgeDTO          `json:"edges"`
}

// AgentDTO is one agent definition as written in a bundle file.
type AgentDTO struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	GraphID               string   `json:"graphId"`
	MaxTokenBudget        int64    `json:"maxTokenBudget"`
	RequiredCapabilities  []string `json:"requiredCapabilities,omitempty"`
	CapabilityPropagation string   `json:"capabilityPropagation,omitempty"`
	BudgetIsolated        bool     `json:"budgetIsolated,omitempty"`
}

// Bundle is the full set of graphs and agents a deployment wants a Runtime
// to serve, decoded from one bundle file by Load.
type Bundle struct {
	Graphs []GraphDTO `json:"graphs"`
	Agents []AgentDTO `json:"agents"`
}

// Load reads and decodes a bundle file.
func Load(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("deploy: read bundle %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("deploy: decode bundle %s: %w", path, err)
	}
	return b, nil
}

func (b Bundle) graphs() map[string]*kernel.Graph {
	out := make(map[string]*kernel.Graph, len(b.Graphs))
	for _, g := range b.Graphs {
		nodes := make(map[string]*kernel.Node, len(g.Nodes))
		for id, n := range g.Nodes {
			nodes[id] = &kernel.Node{
				ID:            n.ID,
				Type:          kernel.NodeType(n.Type),
				Config:        n.Config,
				MaxIterations: n.MaxIterations,
				Checkpoint:    n.Checkpoint,
			}
		}
		edges := make([]kernel.Edge, len(g.Edges))
		for i, e := range g.Edges {
			edges[i] = kernel.Edge{From: e.From, To: e.To, Condition: e.Condition}
		}
		out[g.ID] = &kernel.Graph{ID: g.ID, Nodes: nodes, Edges: edges}
	}
	return out
}

func (b Bundle) agents() map[string]*kernel.AgentDefinition {
	out := make(map[string]*kernel.AgentDefinition, len(b.Agents))
	for _, a := range b.Agents {
		propagation := kernel.PropagationNone
		if a.CapabilityPropagation != "" {
			propagation = kernel.CapabilityPropagation(a.CapabilityPropagation)
		}
		out[a.ID] = &kernel.AgentDefinition{
			ID:                    a.ID,
			Name:                  a.Name,
			GraphID:               a.GraphID,
			MaxTokenBudget:        a.MaxTokenBudget,
			RequiredCapabilities:  a.RequiredCapabilities,
			CapabilityPropagation: propagation,
			BudgetIsolated:        a.BudgetIsolated,
		}
	}
	return out
}

// ToRuntimeInputs converts the bundle's graphs and agents in one call, for
// direct use as runtime.Ports.Graphs / runtime.Ports.Agents.
func (b Bundle) ToRuntimeInputs() (map[string]*kernel.Graph, map[string]*kernel.AgentDefinition) {
	return b.graphs(), b.agents()
}

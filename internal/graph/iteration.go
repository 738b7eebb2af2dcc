package graph

import (
	"sync"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// IterationGuard is the Worker's per-execution (nodeId -> count) counter,
// kept separate from Graph so the Graph stays an immutable, shareable
// definition while iteration state is per-execution.
type IterationGuard struct {
	mu     sync.Mutex
	counts map[string]int
	graph  *kernel.Graph
}

// NewIterationGuard creates a guard for one execution over g.
func NewIterationGuard(g *kernel.Graph) *IterationGuard {
	return &IterationGuard{counts: make(map[string]int), graph: g}
}

// Enter records entry into nodeID and fails with GraphIterationLimit if the
// node's maxIterations has already been reached.
func (g *IterationGuard) Enter(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts[nodeID]++
	n, ok := g.graph.Nodes[nodeID]
	if !ok {
		return kernel.NewError(kernel.KindGraphValidationError, "enter: unknown node "+nodeID)
	}
	if n.MaxIterations > 0 && g.counts[nodeID] > n.MaxIterations {
		return kernel.NewError(kernel.KindGraphIterationLimit, "node "+nodeID+" exceeded maxIterations").
			WithDetails(map[string]any{"nodeId": nodeID, "maxIterations": n.MaxIterations, "count": g.counts[nodeID]})
	}
	return nil
}

// Count returns the current entry count for nodeID.
func (g *IterationGuard) Count(nodeID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[nodeID]
}

// Package graph implements the Graph Engine: graph validation,
// edge resolution, and a topological order over the acyclic skeleton.
//
// Node and edge data live in flat maps rather than a pointer graph, so a
// Graph stays an immutable, shareable definition. Edge condition
// expressions are evaluated with github.com/expr-lang/expr, a sandboxed
// expression language with no eval escape hatch.
package graph

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// ValidationError describes one referential-integrity or structural problem
// found by Validate.
type ValidationError struct {
	NodeID  string
	EdgeIdx int
	Message string
}

func (e ValidationError) String() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return fmt.Sprintf("edge[%d]: %s", e.EdgeIdx, e.Message)
}

// Validate checks g for referential integrity, exactly one
// START node, reachability of every node from START, a maxIterations guard
// on every cycle, and a condition expression on every edge that is one of
// several outgoing edges from its source.
func Validate(g *kernel.Graph) (bool, []ValidationError) {
	var errs []ValidationError

	starts := 0
	for id, n := range g.Nodes {
		if n.ID != id {
			errs = append(errs, ValidationError{NodeID: id, Message: "node map key does not match node.ID"})
		}
		if n.Type == kernel.NodeStart {
			starts++
		}
	}
	switch starts {
	case 0:
		errs = append(errs, ValidationError{Message: "graph has no START node"})
	case 1:
	default:
		errs = append(errs, ValidationError{Message: "graph has more than one START node"})
	}

	outgoing := make(map[string][]kernel.Edge)
	for i, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			errs = append(errs, ValidationError{EdgeIdx: i, Message: fmt.Sprintf("edge references unknown source node %q", e.From)})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			errs = append(errs, ValidationError{EdgeIdx: i, Message: fmt.Sprintf("edge references unknown target node %q", e.To)})
		}
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	for from, edges := range outgoing {
		if len(edges) > 1 {
			for i, e := range edges {
				if e.Condition == "" {
					errs = append(errs, ValidationError{NodeID: from, Message: fmt.Sprintf("branching edge %d from %q has no condition", i, from)})
				}
			}
		}
	}

	if starts == 1 {
		var startID string
		for id, n := range g.Nodes {
			if n.Type == kernel.NodeStart {
				startID = id
			}
		}
		reachable := reachableFrom(g, startID)
		for id := range g.Nodes {
			if !reachable[id] {
				errs = append(errs, ValidationError{NodeID: id, Message: "node is unreachable from START"})
			}
		}
	}

	for _, cycle := range findCycles(g) {
		guarded := false
		for _, nodeID := range cycle {
			if n, ok := g.Nodes[nodeID]; ok && n.MaxIterations > 0 {
				guarded = true
				break
			}
		}
		if !guarded {
			errs = append(errs, ValidationError{Message: fmt.Sprintf("cycle %v has no node with maxIterations set", cycle)})
		}
	}

	return len(errs) == 0, errs
}

func reachableFrom(g *kernel.Graph, start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Edges {
			if e.From == cur && !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// findCycles returns the node ID set of each cycle closed by a back edge
// during depth-first search. Sufficient for validation purposes: it need only
// find that a cycle exists and whether any member has a guard, not
// enumerate all cycles exhaustively for large graphs.
func findCycles(g *kernel.Graph) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var cycles [][]string
	var stack []string

	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				idx := indexOf(stack, next)
				if idx >= 0 {
					cycle := append([]string(nil), stack[idx:]...)
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// ResolveNextNode evaluates the outgoing edges of currentNodeID in
// declaration order: an unconditional edge is taken directly; among
// conditional edges, the first whose Condition evaluates truthy against
// variables wins; an empty return signals END.
func ResolveNextNode(g *kernel.Graph, currentNodeID string, variables map[string]any) (string, error) {
	for _, e := range g.Edges {
		if e.From != currentNodeID {
			continue
		}
		if e.Condition == "" {
			return e.To, nil
		}
		ok, err := evalCondition(e.Condition, variables)
		if err != nil {
			return "", kernel.Wrap(kernel.KindGraphValidationError, "condition evaluation failed on edge from "+currentNodeID, err)
		}
		if ok {
			return e.To, nil
		}
	}
	return "", nil
}

func evalCondition(condition string, variables map[string]any) (bool, error) {
	out, err := expr.Eval(condition, variables)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", condition)
	}
	return b, nil
}

// TopologicalOrder returns a topological order of the acyclic skeleton of
// g: every cycle is collapsed to a single representative node (its
// lexicographically smallest member). Returns an error if
// the collapsed graph still contains a cycle (a bug in cycle detection, or
// a cycle spanning a collapsed representative incorrectly).
func TopologicalOrder(g *kernel.Graph) ([]string, error) {
	cycles := findCycles(g)
	repOf := make(map[string]string)
	for _, cycle := range cycles {
		rep := cycle[0]
		for _, id := range cycle {
			if id < rep {
				rep = id
			}
		}
		for _, id := range cycle {
			repOf[id] = rep
		}
	}
	collapse := func(id string) string {
		if r, ok := repOf[id]; ok {
			return r
		}
		return id
	}

	nodes := make(map[string]bool)
	for id := range g.Nodes {
		nodes[collapse(id)] = true
	}

	inDegree := make(map[string]int)
	adj := make(map[string]map[string]bool)
	for n := range nodes {
		inDegree[n] = 0
		adj[n] = make(map[string]bool)
	}
	for _, e := range g.Edges {
		from, to := collapse(e.From), collapse(e.To)
		if from == to {
			continue
		}
		if !adj[from][to] {
			adj[from][to] = true
			inDegree[to]++
		}
	}

	var queue []string
	for n := range nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)

		var next []string
		for to := range adj[cur] {
			inDegree[to]--
			if inDegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) != len(nodes) {
		return nil, kernel.NewError(kernel.KindGraphValidationError, "topological order undefined: residual cycle after collapsing")
	}
	return order, nil
}

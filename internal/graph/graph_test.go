package graph

import (
	"strings"
	"testing"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func linearGraph() *kernel.Graph {
	return &kernel.Graph{
		ID: "g",
		Nodes: map[string]*kernel.Node{
			"start": {ID: "start", Type: kernel.NodeStart},
			"work":  {ID: "work", Type: kernel.NodeLLM},
			"end":   {ID: "end", Type: kernel.NodeEnd},
		},
		Edges: []kernel.Edge{
			{From: "start", To: "work"},
			{From: "work", To: "end"},
		},
	}
}

func TestValidateAcceptsLinearGraph(t *testing.T) {
	ok, errs := Validate(linearGraph())
	if !ok {
		t.Fatalf("expected valid graph, got errors: %v", errs)
	}
}

func TestValidateRejectsMissingStart(t *testing.T) {
	g := linearGraph()
	delete(g.Nodes, "start")
	g.Edges = g.Edges[1:]

	ok, errs := Validate(g)
	if ok {
		t.Fatal("expected validation failure")
	}
	if !containsMessage(errs, "no START node") {
		t.Fatalf("expected missing-START error, got %v", errs)
	}
}

func TestValidateRejectsDuplicateStart(t *testing.T) {
	g := linearGraph()
	g.Nodes["start2"] = &kernel.Node{ID: "start2", Type: kernel.NodeStart}
	g.Edges = append(g.Edges, kernel.Edge{From: "start", To: "start2"})

	ok, errs := Validate(g)
	if ok {
		t.Fatal("expected validation failure")
	}
	if !containsMessage(errs, "more than one START") {
		t.Fatalf("expected duplicate-START error, got %v", errs)
	}
}

func TestValidateRejectsUnknownEdgeTargets(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, kernel.Edge{From: "work", To: "ghost"})

	ok, errs := Validate(g)
	if ok {
		t.Fatal("expected validation failure")
	}
	if !containsMessage(errs, "unknown target") {
		t.Fatalf("expected unknown-target error, got %v", errs)
	}
}

func TestValidateRejectsUnreachableNode(t *testing.T) {
	g := linearGraph()
	g.Nodes["island"] = &kernel.Node{ID: "island", Type: kernel.NodeTool}

	ok, errs := Validate(g)
	if ok {
		t.Fatal("expected validation failure")
	}
	if !containsMessage(errs, "unreachable") {
		t.Fatalf("expected unreachable error, got %v", errs)
	}
}

func TestValidateRejectsBranchWithoutConditions(t *testing.T) {
	g := linearGraph()
	g.Nodes["alt"] = &kernel.Node{ID: "alt", Type: kernel.NodeTool}
	g.Edges = append(g.Edges,
		kernel.Edge{From: "work", To: "alt"}, // second unconditional edge from "work"
		kernel.Edge{From: "alt", To: "end"},
	)

	ok, errs := Validate(g)
	if ok {
		t.Fatal("expected validation failure")
	}
	if !containsMessage(errs, "no condition") {
		t.Fatalf("expected missing-condition error, got %v", errs)
	}
}

// cycleGraph is START -> a -> b -> c -> a, with an exit edge c -> end.
func cycleGraph() *kernel.Graph {
	return &kernel.Graph{
		ID: "loop",
		Nodes: map[string]*kernel.Node{
			"start": {ID: "start", Type: kernel.NodeStart},
			"a":     {ID: "a", Type: kernel.NodeLLM},
			"b":     {ID: "b", Type: kernel.NodeTool},
			"c":     {ID: "c", Type: kernel.NodeCondition},
			"end":   {ID: "end", Type: kernel.NodeEnd},
		},
		Edges: []kernel.Edge{
			{From: "start", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "c"},
			{From: "c", To: "a", Condition: `again == true`},
			{From: "c", To: "end", Condition: `again == false`},
		},
	}
}

func TestValidateRejectsUnboundedCycle(t *testing.T) {
	ok, errs := Validate(cycleGraph())
	if ok {
		t.Fatal("expected validation failure for unguarded cycle")
	}
	if !containsMessage(errs, "no node with maxIterations") {
		t.Fatalf("expected unbounded-cycle error, got %v", errs)
	}
}

func TestValidateAcceptsGuardedCycle(t *testing.T) {
	g := cycleGraph()
	g.Nodes["a"].MaxIterations = 3

	ok, errs := Validate(g)
	if !ok {
		t.Fatalf("expected guarded cycle to validate, got %v", errs)
	}
}

func TestResolveNextNodeUnconditional(t *testing.T) {
	next, err := ResolveNextNode(linearGraph(), "start", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next != "work" {
		t.Fatalf("next = %q, want work", next)
	}
}

func TestResolveNextNodeFirstTruthyConditionWins(t *testing.T) {
	g := cycleGraph()
	g.Nodes["a"].MaxIterations = 3

	next, err := ResolveNextNode(g, "c", map[string]any{"again": true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next != "a" {
		t.Fatalf("next = %q, want a", next)
	}

	next, err = ResolveNextNode(g, "c", map[string]any{"again": false})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next != "end" {
		t.Fatalf("next = %q, want end", next)
	}
}

func TestResolveNextNodeDeclarationOrderBreaksTies(t *testing.T) {
	g := &kernel.Graph{
		ID: "tie",
		Nodes: map[string]*kernel.Node{
			"start": {ID: "start", Type: kernel.NodeStart},
			"x":     {ID: "x", Type: kernel.NodeTool},
			"y":     {ID: "y", Type: kernel.NodeTool},
		},
		Edges: []kernel.Edge{
			{From: "start", To: "x", Condition: `go == true`},
			{From: "start", To: "y", Condition: `go == true`},
		},
	}
	next, err := ResolveNextNode(g, "start", map[string]any{"go": true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next != "x" {
		t.Fatalf("next = %q, want x (first declared edge)", next)
	}
}

func TestResolveNextNodeNoEdgesSignalsEnd(t *testing.T) {
	next, err := ResolveNextNode(linearGraph(), "end", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next != "" {
		t.Fatalf("next = %q, want empty (END)", next)
	}
}

func TestResolveNextNodeNonBooleanConditionFails(t *testing.T) {
	g := linearGraph()
	g.Edges[0].Condition = `1 + 1`
	g.Edges = append(g.Edges, kernel.Edge{From: "start", To: "end", Condition: `false`})

	_, err := ResolveNextNode(g, "start", map[string]any{})
	if err == nil {
		t.Fatal("expected error for non-boolean condition")
	}
	if kind, ok := kernel.KindOf(err); !ok || kind != kernel.KindGraphValidationError {
		t.Fatalf("error kind = %v, want GraphValidationError", err)
	}
}

func TestTopologicalOrderLinear(t *testing.T) {
	order, err := TopologicalOrder(linearGraph())
	if err != nil {
		t.Fatalf("topo: %v", err)
	}
	if len(order) != 3 || order[0] != "start" || order[2] != "end" {
		t.Fatalf("order = %v", order)
	}
}

func TestTopologicalOrderCollapsesCycle(t *testing.T) {
	g := cycleGraph()
	g.Nodes["a"].MaxIterations = 3

	order, err := TopologicalOrder(g)
	if err != nil {
		t.Fatalf("topo: %v", err)
	}
	// a, b, c collapse into their smallest member "a"; start precedes it,
	// end follows it.
	want := []string{"start", "a", "end"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestIterationGuardEnforcesMaxIterations(t *testing.T) {
	g := cycleGraph()
	g.Nodes["a"].MaxIterations = 3
	guard := NewIterationGuard(g)

	for i := 0; i < 3; i++ {
		if err := guard.Enter("a"); err != nil {
			t.Fatalf("entry %d: %v", i+1, err)
		}
	}
	err := guard.Enter("a")
	if err == nil {
		t.Fatal("expected GraphIterationLimit on 4th entry")
	}
	if kind, ok := kernel.KindOf(err); !ok || kind != kernel.KindGraphIterationLimit {
		t.Fatalf("error kind = %v, want GraphIterationLimit", err)
	}
	if guard.Count("a") != 4 {
		t.Fatalf("count = %d, want 4", guard.Count("a"))
	}
}

func TestIterationGuardUnlimitedWithoutMax(t *testing.T) {
	guard := NewIterationGuard(linearGraph())
	for i := 0; i < 50; i++ {
		if err := guard.Enter("work"); err != nil {
			t.Fatalf("entry %d: %v", i+1, err)
		}
	}
}

func containsMessage(errs []ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.String(), substr) {
			return true
		}
	}
	return false
}

// Package orchestrator implements callAgent: cycle detection,
// depth enforcement, fresh Execution Context construction with a prepended
// call frame, capability-propagation, and budget isolation between parent
// and child runs.
//
// A registry of agent definitions plus a dispatcher that enforces strict
// parent/child Execution Context nesting with a hard depth limit.
package orchestrator

import (
	"github.com/corewire/agentkernel/internal/capability"
	"github.com/corewire/agentkernel/internal/scheduler"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Registry holds agent definitions by ID.
type Registry struct {
	defs map[string]*kernel.AgentDefinition
}

// NewRegistry creates an empty agent definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*kernel.AgentDefinition)}
}

// Register adds or replaces an agent definition.
func (r *Registry) Register(def *kernel.AgentDefinition) error {
	if def == nil || def.ID == "" {
		return kernel.NewError(kernel.KindValidationError, "agent definition must have a non-empty ID")
	}
	r.defs[def.ID] = def
	return nil
}

// Get looks up an agent definition by ID.
func (r *Registry) Get(id string) (*kernel.AgentDefinition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// Orchestrator dispatches sub-agent calls, enforcing cycle detection,
// the depth limit, capability propagation, and budget isolation.
type Orchestrator struct {
	agents     *Registry
	verifier   *capability.Verifier
	scheduler  *scheduler.Scheduler
	nextExecID func() string
}

// New builds an Orchestrator. nextExecID supplies fresh execution IDs
// (injected so the caller controls ID generation, e.g. google/uuid).
func New(agents *Registry, verifier *capability.Verifier, sched *scheduler.Scheduler, nextExecID func() string) *Orchestrator {
	return &Orchestrator{agents: agents, verifier: verifier, scheduler: sched, nextExecID: nextExecID}
}

// CallResult is what callAgent hands back once the child's fresh Execution
// Context has been constructed and enqueued; the Worker Pool resolves the
// returned future by the child's terminal event.
type CallResult struct {
	ChildExecutionID string
	ChildContext     *kernel.ExecutionContext
}

// CallAgent constructs and enqueues a child execution for childAgentID,
// nested under parent, at the caller-supplied Scheduler priority.
func (o *Orchestrator) CallAgent(parent *kernel.ExecutionContext, childAgentID string, priority int, input map[string]any) (*CallResult, error) {
	if parent.ContainsAgent(childAgentID) {
		return nil, kernel.NewError(kernel.KindValidationError, "sub-agent call cycle detected").
			WithDetails(map[string]any{"childAgentId": childAgentID})
	}

	depth := len(parent.SnapshotCallStack())
	if depth >= kernel.MaxCallStackDepth {
		return nil, kernel.NewError(kernel.KindValidationError, "sub-agent call stack depth exceeded").
			WithDetails(map[string]any{"maxDepth": kernel.MaxCallStackDepth})
	}

	childDef, ok := o.agents.Get(childAgentID)
	if !ok {
		return nil, kernel.NewError(kernel.KindValidationError, "unknown agent").
			WithDetails(map[string]any{"agentId": childAgentID})
	}

	childExecID := o.nextExecID()
	budget := childDef.MaxTokenBudget
	budgetIsolated := childDef.BudgetIsolated
	if !budgetIsolated {
		// Child shares the parent's remaining budget.
		budget = parent.Remaining()
	}

	child := kernel.NewExecutionContext(childExecID, childAgentID, parent.SessionID, childDef.GraphID, budget)
	child.PushCallFrame(kernel.CallFrame{
		ParentExecutionID: parent.ExecutionID,
		ParentAgentID:     parent.AgentID,
		ChildAgentID:      childAgentID,
	})
	for _, f := range parent.SnapshotCallStack() {
		child.PushCallFrame(f)
	}
	for k, v := range input {
		child.SetVariable(k, v)
	}

	if err := o.propagateCapabilities(parent.AgentID, childAgentID, childDef.CapabilityPropagation); err != nil {
		return nil, err
	}

	o.scheduler.Enqueue(childExecID, priority)

	return &CallResult{ChildExecutionID: childExecID, ChildContext: child}, nil
}

// propagateCapabilities applies the configured propagation mode by granting
// the child agent a derived Grant from the parent's current Grant:
// "none" leaves the child's own grant untouched, "subset" intersects
// the parent and child allow-lists, "full" copies the parent grant over
// under the child's agent ID.
func (o *Orchestrator) propagateCapabilities(parentAgentID, childAgentID string, mode kernel.CapabilityPropagation) error {
	if o.verifier == nil || mode == kernel.PropagationNone {
		return nil
	}

	parentGrant, ok := o.verifier.GrantFor(parentAgentID)
	if !ok {
		return nil
	}

	switch mode {
	case kernel.PropagationFull:
		childGrant := parentGrant
		childGrant.AgentID = childAgentID
		o.verifier.Grant(childGrant)
	case kernel.PropagationSubset:
		childGrant, hasOwn := o.verifier.GrantFor(childAgentID)
		if !hasOwn {
			// No pre-registered grant to intersect against: the child has
			// nothing of its own to subset, so it receives the parent's
			// grant in full, same as PropagationFull.
			childGrant = parentGrant
			childGrant.AgentID = childAgentID
			o.verifier.Grant(childGrant)
			return nil
		}
		childGrant.AgentID = childAgentID
		childGrant.AllowedTools = intersect(parentGrant.AllowedTools, childGrant.AllowedTools)
		childGrant.AllowedHosts = intersect(parentGrant.AllowedHosts, childGrant.AllowedHosts)
		childGrant.AllowedMemory = intersect(parentGrant.AllowedMemory, childGrant.AllowedMemory)
		childGrant.AllowedAgents = intersect(parentGrant.AllowedAgents, childGrant.AllowedAgents)
		childGrant.Capabilities = intersect(parentGrant.Capabilities, childGrant.Capabilities)
		o.verifier.Grant(childGrant)
	}
	return nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

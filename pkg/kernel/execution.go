package kernel

import (
	"sync"
	"time"
)

// ExecutionContext is the full mutable state of one run. It is created when
// scheduled, mutated only by its owning worker, frozen on terminal
// transition, and destroyed after snapshot persistence.
type ExecutionContext struct {
	mu sync.Mutex

	ExecutionID   string
	AgentID       string
	SessionID     string
	GraphID       string
	CurrentNodeID string

	Variables map[string]any
	CallStack []CallFrame

	MemoryScope string

	TokenUsage       TokenUsage
	BudgetRemaining  int64

	LifecycleState LifecycleState

	// iterations tracks how many times each node has been (re-)entered, for
	// maxIterations enforcement. Owned exclusively by the Execution Context,
	// never by the Graph.
	iterations map[string]int

	// abort is closed by Runtime.Abort; workers select on it between nodes
	// and around suspending operations.
	abort     chan struct{}
	abortOnce sync.Once

	CreatedAt time.Time
}

// NewExecutionContext builds a fresh Execution Context in the "created"
// lifecycle state.
func NewExecutionContext(executionID, agentID, sessionID, graphID string, budget int64) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:     executionID,
		AgentID:         agentID,
		SessionID:       sessionID,
		GraphID:         graphID,
		Variables:       make(map[string]any),
		CallStack:       nil,
		TokenUsage:      TokenUsage{},
		BudgetRemaining: budget,
		LifecycleState:  StateCreated,
		iterations:      make(map[string]int),
		abort:           make(chan struct{}),
		CreatedAt:       time.Now(),
	}
}

// Abort closes the abort channel. Idempotent.
func (ec *ExecutionContext) Abort() {
	ec.abortOnce.Do(func() {
		close(ec.abort)
	})
}

// Aborted returns a channel that is closed once Abort has been called.
func (ec *ExecutionContext) Aborted() <-chan struct{} {
	return ec.abort
}

// IsAborted reports whether Abort has already been called.
func (ec *ExecutionContext) IsAborted() bool {
	select {
	case <-ec.abort:
		return true
	default:
		return false
	}
}

// EnterNode increments the iteration counter for nodeID and returns the new
// count. The caller compares this against the node's MaxIterations.
func (ec *ExecutionContext) EnterNode(nodeID string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.iterations[nodeID]++
	ec.CurrentNodeID = nodeID
	return ec.iterations[nodeID]
}

// IterationCount returns the current re-entry count for nodeID without
// incrementing it.
func (ec *ExecutionContext) IterationCount(nodeID string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.iterations[nodeID]
}

// SetVariable assigns a variable under the Execution Context's lock.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Variables[name] = value
}

// Variable reads a variable under the Execution Context's lock.
func (ec *ExecutionContext) Variable(name string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.Variables[name]
	return v, ok
}

// SnapshotVariables returns a deep copy of the variable map, suitable for
// embedding in a Snapshot Record.
func (ec *ExecutionContext) SnapshotVariables() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		out[k] = deepCopyValue(v)
	}
	return out
}

// SnapshotCallStack returns a copy of the call stack slice.
func (ec *ExecutionContext) SnapshotCallStack() []CallFrame {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]CallFrame, len(ec.CallStack))
	copy(out, ec.CallStack)
	return out
}

// PushCallFrame appends a call frame for a dispatched sub-agent call.
func (ec *ExecutionContext) PushCallFrame(frame CallFrame) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.CallStack = append(ec.CallStack, frame)
}

// ContainsAgent reports whether agentID already appears in the call stack,
// as the parent or the child of any frame, which the Orchestrator uses for
// cycle detection.
func (ec *ExecutionContext) ContainsAgent(agentID string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for _, f := range ec.CallStack {
		if f.ChildAgentID == agentID || f.ParentAgentID == agentID {
			return true
		}
	}
	return false
}

// RecordUsage adds to the accumulated token/USD usage and returns the new
// totals. Budget accounting must observe this before the next node enters
//.
func (ec *ExecutionContext) RecordUsage(prompt, completion int64, usd float64) TokenUsage {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.TokenUsage.PromptTokens += prompt
	ec.TokenUsage.CompletionTokens += completion
	ec.TokenUsage.USD += usd
	ec.BudgetRemaining -= prompt + completion
	return ec.TokenUsage
}

// Remaining returns the current remaining token budget.
func (ec *ExecutionContext) Remaining() int64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.BudgetRemaining
}

// Transition sets the lifecycle state directly. Legality is enforced by
// the caller (internal/lifecycle), not by the Execution Context itself.
func (ec *ExecutionContext) Transition(to LifecycleState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.LifecycleState = to
}

// State returns the current lifecycle state.
func (ec *ExecutionContext) State() LifecycleState {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.LifecycleState
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}

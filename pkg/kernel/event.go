package kernel

import "time"

// EventType is the closed enum of event kinds the Event Bus carries,
// grouped by subsystem: execution/graph/memory/capability/policy/budget/
// agent-message plus stream chunks.
type EventType string

const (
	EventExecutionCreated   EventType = "execution.created"
	EventExecutionScheduled EventType = "execution.scheduled"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionAborted   EventType = "execution.aborted"
	EventExecutionResumed   EventType = "execution.resumed"

	EventGraphNodeEntered  EventType = "graph.node_entered"
	EventGraphNodeExited   EventType = "graph.node_exited"
	EventGraphIterationCap EventType = "graph.iteration_limit"

	EventMemoryUpserted EventType = "memory.upserted"
	EventMemoryPruned   EventType = "memory.pruned"
	EventMemoryInjected EventType = "memory.injected"

	EventCapabilityGranted EventType = "capability.granted"
	EventCapabilityRevoked EventType = "capability.revoked"
	EventCapabilityDenied  EventType = "capability.denied"

	EventPolicyDecision EventType = "policy.decision"

	EventBudgetWarning  EventType = "budget.warning"
	EventBudgetExceeded EventType = "budget.exceeded"

	EventAgentMessageSent     EventType = "agent_message.sent"
	EventAgentMessageReceived EventType = "agent_message.received"

	EventStreamChunk EventType = "stream.chunk"

	EventNetworkFetchWarned EventType = "network.fetch_warned"
)

// Event is the typed record the Event Bus dispatches. Its payload is the
// Data map, whose keys depend on Type.
type Event struct {
	Type      EventType
	Time      time.Time
	Sequence  uint64
	ExecutionID string
	AgentID     string

	Data map[string]any
}

// SnapshotRecord is the durable checkpoint of one Execution Context, written
// at every terminal transition and optionally at designated checkpoint
// nodes.
type SnapshotRecord struct {
	ExecutionID       string
	AgentID           string
	GraphID           string
	NodePointer       string
	Timestamp         time.Time
	Variables         map[string]any
	CallStack         []CallFrame
	LifecycleState    LifecycleState
	TokenUsage        TokenUsage
	MemoryReference   string
	EventLogReference string
	Version           string
}

// FailureDetail is the user-visible error payload carried by a terminal
// "failed" event and persisted alongside the failing snapshot.
type FailureDetail struct {
	Code    string
	Message string
	Details map[string]any
}

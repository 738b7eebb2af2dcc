// Package kernel provides the domain types shared across the agent execution
// kernel: agent and graph definitions, capability and permission primitives,
// execution context, lifecycle state, events, and snapshots.
//
// Design principles:
//   - Closed enums throughout (lifecycle states, event types, error kinds)
//   - Execution Context is the only mutable, worker-owned state
//   - Snapshots and events are deep-copied at the moment they are produced
package kernel

import (
	"time"
)

// Permission is a coarse, closed, module-scoped authorization over a host
// API surface. See the PermissionX constants for the exact closed set.
type Permission string

const (
	PermissionAiGenerate         Permission = "AiGenerate"
	PermissionAiStream           Permission = "AiStream"
	PermissionStorageRead        Permission = "StorageRead"
	PermissionStorageWrite       Permission = "StorageWrite"
	PermissionNetworkFetch       Permission = "NetworkFetch"
	PermissionMemoryRead         Permission = "MemoryRead"
	PermissionMemoryWrite        Permission = "MemoryWrite"
	PermissionMemorySharedWrite  Permission = "MemorySharedWrite"
	PermissionComputerScreenshot Permission = "ComputerScreenshot"
	PermissionComputerInput      Permission = "ComputerInput"
	PermissionComputerClipboard  Permission = "ComputerClipboard"
	PermissionComputerShell      Permission = "ComputerShell"
	PermissionComputerFiles      Permission = "ComputerFiles"
	PermissionUiNotify           Permission = "UiNotify"
	PermissionUiDashboard        Permission = "UiDashboard"
	PermissionToolExecute        Permission = "ToolExecute"
	PermissionAgentCall          Permission = "AgentCall"
	PermissionFilesystem         Permission = "Filesystem"
)

// AllPermissions is the closed permission enum in declaration order.
var AllPermissions = []Permission{
	PermissionAiGenerate, PermissionAiStream,
	PermissionStorageRead, PermissionStorageWrite,
	PermissionNetworkFetch,
	PermissionMemoryRead, PermissionMemoryWrite, PermissionMemorySharedWrite,
	PermissionComputerScreenshot, PermissionComputerInput, PermissionComputerClipboard,
	PermissionComputerShell, PermissionComputerFiles,
	PermissionUiNotify, PermissionUiDashboard,
	PermissionToolExecute, PermissionAgentCall, PermissionFilesystem,
}

// IsValidPermission reports whether p is a member of the closed enum.
func IsValidPermission(p Permission) bool {
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// CapabilityScope classifies what a Capability constrains.
type CapabilityScope string

const (
	ScopeTool          CapabilityScope = "tool"
	ScopeNetwork       CapabilityScope = "network"
	ScopeMemory        CapabilityScope = "memory"
	ScopeTokenBudget   CapabilityScope = "token_budget"
	ScopeAgentBoundary CapabilityScope = "agent_boundary"
)

// Capability describes a single authorizable unit over a scope.
type Capability struct {
	Name        string
	Description string
	Scope       CapabilityScope
}

// CapabilityPropagation controls how a parent agent's capability grant is
// passed to a child agent created via an AGENT_CALL node.
type CapabilityPropagation string

const (
	// PropagationNone means the child uses only its own grant.
	PropagationNone CapabilityPropagation = "none"
	// PropagationSubset means the effective grant is the intersection of
	// the parent's and the child's allow-lists.
	PropagationSubset CapabilityPropagation = "subset"
	// PropagationFull means the parent's grant is passed through verbatim.
	PropagationFull CapabilityPropagation = "full"
)

// Grant binds a capability set, a token budget, and a max USD cost to one
// agentId. Grants are the Capability Registry's unit of storage; Constraints
// are derived, read-optimized views computed from a Grant.
type Grant struct {
	AgentID         string
	Capabilities    []string // capability names
	AllowedTools    []string
	AllowedHosts    []string
	AllowedMemory   []string // scope patterns
	AllowedAgents   []string // sub-agent targets this agent may call
	MaxTokenBudget  int64
	MaxUSD          float64
	Propagation     CapabilityPropagation
	BudgetIsolated  bool // if false, child decrements parent's remaining budget
}

// Constraint is the computed allow-list derived from a Grant. It is the
// object the Verifier actually checks requests against.
type Constraint struct {
	AllowedTools       map[string]struct{}
	AllowedNetworkHost []string
	AllowedMemoryScope []string
	MaxTokenBudget     int64
	AllowedAgentTarget map[string]struct{}
}

// AgentDefinition is the immutable declaration of one agent.
type AgentDefinition struct {
	ID                     string
	Name                   string
	GraphID                string
	MaxTokenBudget         int64
	RequiredCapabilities   []string
	CapabilityPropagation  CapabilityPropagation
	BudgetIsolated         bool
}

// NodeType is the closed set of graph node kinds.
type NodeType string

const (
	NodeStart          NodeType = "START"
	NodeEnd            NodeType = "END"
	NodeLLM            NodeType = "LLM"
	NodeTool           NodeType = "TOOL"
	NodeMemoryRead     NodeType = "MEMORY_READ"
	NodeMemoryWrite    NodeType = "MEMORY_WRITE"
	NodeAgentCall      NodeType = "AGENT_CALL"
	NodeCondition      NodeType = "CONDITION"
	NodeHumanApproval  NodeType = "HUMAN_APPROVAL"
	NodeParallel       NodeType = "PARALLEL"
)

// Node is one vertex of a Graph.
type Node struct {
	ID            string
	Type          NodeType
	Config        map[string]any
	MaxIterations int // 0 means unset; required on at least one node per cycle
	Checkpoint    bool // if true, a snapshot is written when this node completes
}

// Edge is one directed arc of a Graph. Condition is a boolean expression
// over Execution Context variables, required on every edge that is one of
// several outgoing edges from its source node.
type Edge struct {
	From      string
	To        string
	Condition string
}

// Graph is the directed node-edge structure describing an agent's behavior.
// Cyclic edges are permitted only when guarded by a node MaxIterations.
type Graph struct {
	ID    string
	Nodes map[string]*Node
	Edges []Edge
}

// LifecycleState is the closed set of states an Execution can occupy.
type LifecycleState string

const (
	StateCreated           LifecycleState = "created"
	StateValidated         LifecycleState = "validated"
	StatePlanned           LifecycleState = "planned"
	StateScheduled         LifecycleState = "scheduled"
	StateRunning           LifecycleState = "running"
	StateToolExecution     LifecycleState = "tool_execution"
	StateMemoryInjection   LifecycleState = "memory_injection"
	StateCompleted         LifecycleState = "completed"
	StateFailed            LifecycleState = "failed"
	StateAborted           LifecycleState = "aborted"
	StateSnapshotPersisted LifecycleState = "snapshot_persisted"
)

// TokenUsage tracks prompt/completion token counts and accrued USD cost.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	USD              float64
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// CallFrame is one entry in an Execution Context's call stack, recording the
// parent execution a sub-agent call was dispatched from.
type CallFrame struct {
	ParentExecutionID string
	ParentAgentID     string
	ChildAgentID      string
	EnteredAt         time.Time
}

// MaxCallStackDepth is the hard limit on sub-agent call nesting.
const MaxCallStackDepth = 5

// MemoryType is the closed set of long-term memory item kinds.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
)

// MemoryItem is one unit of long-term memory.
type MemoryItem struct {
	ID          string
	AgentID     string
	Scope       string
	Type        MemoryType
	Importance  float64 // [0,1]
	Embedding   []float32
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScopeLogicalPrivate and ScopeLogicalShared are the logical memory scope
// names that ctx.memory.upsert resolves before storage; ScopeSharedWorkspace
// is the storage scope "shared" resolves to. Raw scope strings pass through
// unchanged (e.g. "task:{runId}").
const (
	ScopeLogicalPrivate = "private"
	ScopeLogicalShared  = "shared"
	ScopeSharedWorkspace = "workspace:shared"
)

// ResolveMemoryScope resolves a logical scope name to its storage scope.
// "private" becomes "bot:{moduleID}", "shared" becomes "workspace:shared",
// and any other string passes through unchanged.
func ResolveMemoryScope(logical, moduleID string) string {
	switch logical {
	case ScopeLogicalPrivate:
		return "bot:" + moduleID
	case ScopeLogicalShared:
		return ScopeSharedWorkspace
	default:
		return logical
	}
}

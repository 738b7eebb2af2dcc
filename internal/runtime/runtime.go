package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/agentkernel/internal/budget"
	"github.com/corewire/agentkernel/internal/capability"
	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/internal/graph"
	"github.com/corewire/agentkernel/internal/kernellog"
	"github.com/corewire/agentkernel/internal/lifecycle"
	"github.com/corewire/agentkernel/internal/memory"
	"github.com/corewire/agentkernel/internal/net/fetch"
	"github.com/corewire/agentkernel/internal/orchestrator"
	"github.com/corewire/agentkernel/internal/permission"
	"github.com/corewire/agentkernel/internal/policy"
	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/internal/ratelimit"
	"github.com/corewire/agentkernel/internal/scheduler"
	"github.com/corewire/agentkernel/internal/security"
	"github.com/corewire/agentkernel/internal/snapshot"
	"github.com/corewire/agentkernel/internal/tool"
	"github.com/corewire/agentkernel/internal/worker"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Ports is the set of externally-provided dependencies a deployment
// supplies. The Permission Engine and Scheduler are injected rather than
// constructed here, since a host may share one of either across more than
// one Runtime instance.
type Ports struct {
	// Required.
	Storage          Storage
	Provider         *provider.Router
	Sandbox          tool.Sandbox
	PermissionEngine *permission.Engine
	ModuleManager    ModuleManager
	Scheduler        *scheduler.Scheduler
	Graphs           map[string]*kernel.Graph
	Agents           map[string]*kernel.AgentDefinition

	// Optional.
	Grants          []kernel.Grant
	VectorStore     memory.VectorStore
	Embedder        memory.Embedder
	SnapshotStore   snapshot.Store
	Observability   Observability
	SecretVault     SecretVault
	EventBus        *events.Bus
	Logger          *kernellog.Logger
	Tools           []tool.Definition
	Policies        []policy.Policy
	WorkerCount     int
	NextExecutionID func() string
}

// validate rejects a missing required port at construction time, before
// any execution can be scheduled against a half-wired Runtime.
func (p Ports) validate() error {
	missing := func(name string) error {
		return kernel.NewError(kernel.KindValidationError, "runtime: missing required port "+name)
	}
	if p.Storage == nil {
		return missing("storage")
	}
	if p.Provider == nil {
		return missing("provider")
	}
	if p.Sandbox == nil {
		return missing("sandbox")
	}
	if p.PermissionEngine == nil {
		return missing("permissionEngine")
	}
	if p.ModuleManager == nil {
		return missing("moduleManager")
	}
	if p.Scheduler == nil {
		return missing("scheduler")
	}
	if len(p.Graphs) == 0 {
		return missing("graphs")
	}
	if len(p.Agents) == 0 {
		return missing("agents")
	}
	return nil
}

// Runtime is the composition root: it wires every subsystem
// together and exposes execute/resume/abort. It holds no business logic of
// its own — every decision belongs to the subsystem a node type calls for.
//
// The constructor assembles the provider router, stores, and registries
// behind the Execute entry point, driven by the Graph Engine's
// node-by-node dispatch instead of one chat turn.
type Runtime struct {
	graphs map[string]*kernel.Graph
	agents *orchestrator.Registry

	storage       Storage
	providerRtr   *provider.Router
	sandbox       tool.Sandbox
	moduleMgr     ModuleManager
	secretVault   SecretVault
	observability Observability

	bus        *events.Bus
	verifier   *capability.Verifier
	permEngine *permission.Engine
	policyEng  *policy.Engine
	approval   *policy.ApprovalGate
	budgetMgr  *budget.Manager
	toolReg    *tool.Registry
	toolExec   *tool.Executor
	netFetch   *fetch.Fetcher
	memMgr     *memory.Manager
	orch       *orchestrator.Orchestrator
	lifecycle  *lifecycle.Controller
	snapStore  snapshot.Store
	sched      *scheduler.Scheduler
	pool       *worker.Pool
	logger     *kernellog.Logger
	nextExecID func() string

	mu       sync.Mutex
	contexts map[string]*kernel.ExecutionContext
	guards   map[string]*graph.IterationGuard
}

// New validates ports and assembles a Runtime. It does not start the Worker
// Pool; call Start once the caller is ready to process enqueued executions.
func New(ports Ports) (*Runtime, error) {
	if err := ports.validate(); err != nil {
		return nil, err
	}

	bus := ports.EventBus
	if bus == nil {
		bus = events.New()
	}
	logger := ports.Logger
	if logger == nil {
		logger = kernellog.Noop()
	}
	snapStore := ports.SnapshotStore
	if snapStore == nil {
		snapStore = snapshot.NewMemoryStore()
	}
	nextExecID := ports.NextExecutionID
	if nextExecID == nil {
		nextExecID = func() string { return uuid.NewString() }
	}
	workerCount := ports.WorkerCount
	if workerCount <= 0 {
		workerCount = worker.DefaultPoolSize
	}

	audit := security.NewAuditLog(1000)
	verifier := capability.NewVerifier(bus, audit)
	for _, g := range ports.Grants {
		verifier.Grant(g)
	}
	policyEng := policy.New()
	for _, p := range ports.Policies {
		policyEng.Register(p)
	}
	approval := policy.NewApprovalGate(bus)
	budgetMgr := budget.New(bus, ratelimit.Config{})
	toolReg := tool.NewRegistry()
	for _, def := range ports.Tools {
		if err := toolReg.Register(def); err != nil {
			return nil, err
		}
	}
	toolExec := tool.NewExecutor(toolReg, ports.Sandbox, bus)
	netFetch := fetch.NewFetcher(fetch.NewHostGuard())

	longTerm := memory.NewLongTerm(ports.Embedder, ports.VectorStore)
	memMgr := memory.NewManager(longTerm, ports.PermissionEngine)

	agentRegistry := orchestrator.NewRegistry()
	for _, def := range ports.Agents {
		if err := agentRegistry.Register(def); err != nil {
			return nil, err
		}
		if def.MaxTokenBudget > 0 {
			budgetMgr.SetLimit(budget.ScopeAgent, def.ID, budget.Limit{MaxTokens: def.MaxTokenBudget})
		}
	}
	orch := orchestrator.New(agentRegistry, verifier, ports.Scheduler, nextExecID)

	lifecycleCtl := lifecycle.New(bus)

	graphs := make(map[string]*kernel.Graph, len(ports.Graphs))
	for id, g := range ports.Graphs {
		if ok, errs := graph.Validate(g); !ok {
			return nil, kernel.NewError(kernel.KindGraphValidationError, fmt.Sprintf("graph %q failed validation: %v", id, errs))
		}
		graphs[id] = g
	}

	rt := &Runtime{
		graphs:        graphs,
		agents:        agentRegistry,
		storage:       ports.Storage,
		providerRtr:   ports.Provider,
		sandbox:       ports.Sandbox,
		moduleMgr:     ports.ModuleManager,
		secretVault:   ports.SecretVault,
		observability: ports.Observability,
		bus:           bus,
		verifier:      verifier,
		permEngine:    ports.PermissionEngine,
		policyEng:     policyEng,
		approval:      approval,
		budgetMgr:     budgetMgr,
		toolReg:       toolReg,
		toolExec:      toolExec,
		netFetch:      netFetch,
		memMgr:        memMgr,
		orch:          orch,
		lifecycle:     lifecycleCtl,
		snapStore:     snapStore,
		sched:         ports.Scheduler,
		logger:        logger,
		nextExecID:    nextExecID,
		contexts:      make(map[string]*kernel.ExecutionContext),
		guards:        make(map[string]*graph.IterationGuard),
	}
	rt.providerRtr.SetBudgetManager(budgetMgr)
	rt.pool = worker.New(ports.Scheduler, rt.runOne, workerCount)
	rt.pool.SetLogger(func(format string, args ...any) {
		logger.Warn(context.Background(), fmt.Sprintf(format, args...))
	})
	return rt, nil
}

// Start launches the Worker Pool. Executions enqueued before Start are
// picked up once workers are running.
func (rt *Runtime) Start(ctx context.Context) {
	rt.pool.Start(ctx)
}

// Shutdown drains in-flight executions per the Worker Pool's grace period.
func (rt *Runtime) Shutdown(gracePeriod time.Duration) {
	rt.pool.Shutdown(gracePeriod)
}

// Execute creates a fresh Execution Context for agentID, validates and
// schedules it, and returns it immediately — the Worker Pool drives it to a
// terminal state asynchronously.
func (rt *Runtime) Execute(agentID string, input map[string]any) (*kernel.ExecutionContext, error) {
	def, ok := rt.agents.Get(agentID)
	if !ok {
		return nil, kernel.NewError(kernel.KindValidationError, "unknown agent: "+agentID)
	}
	g, ok := rt.graphs[def.GraphID]
	if !ok {
		return nil, kernel.NewError(kernel.KindGraphValidationError, "unknown graph: "+def.GraphID)
	}

	executionID := rt.nextExecID()
	sessionID, _ := input["sessionId"].(string)
	ec := kernel.NewExecutionContext(executionID, agentID, sessionID, def.GraphID, def.MaxTokenBudget)
	for k, v := range input {
		ec.SetVariable(k, v)
	}

	rt.bus.Emit(kernel.Event{Type: kernel.EventExecutionCreated, ExecutionID: executionID, AgentID: agentID})

	if err := rt.lifecycle.Transition(ec, kernel.StateValidated, nil); err != nil {
		return nil, err
	}
	if err := rt.lifecycle.Transition(ec, kernel.StatePlanned, nil); err != nil {
		return nil, err
	}
	if err := rt.lifecycle.Transition(ec, kernel.StateScheduled, nil); err != nil {
		return nil, err
	}

	rt.mu.Lock()
	rt.contexts[executionID] = ec
	rt.guards[executionID] = graph.NewIterationGuard(g)
	rt.mu.Unlock()

	rt.sched.Enqueue(executionID, 0)
	return ec, nil
}

// Resume rehydrates an Execution Context from its latest non-terminal
// snapshot and re-enqueues it.
func (rt *Runtime) Resume(executionID string) (*kernel.ExecutionContext, error) {
	rec, err := rt.snapStore.Load(context.Background(), executionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, kernel.NewError(kernel.KindValidationError, "no snapshot for execution: "+executionID)
	}
	if lifecycle.IsTerminal(rec.LifecycleState) {
		return nil, kernel.NewError(kernel.KindValidationError, "execution already reached a terminal state: "+executionID)
	}

	def, ok := rt.agents.Get(rec.AgentID)
	if !ok {
		return nil, kernel.NewError(kernel.KindValidationError, "unknown agent: "+rec.AgentID)
	}
	g, ok := rt.graphs[rec.GraphID]
	if !ok {
		return nil, kernel.NewError(kernel.KindGraphValidationError, "unknown graph: "+rec.GraphID)
	}

	// Token usage survives the restart; remaining budget is recomputed
	// against the agent's declared budget since BudgetRemaining itself is
	// not part of the durable snapshot.
	remaining := def.MaxTokenBudget - rec.TokenUsage.Total()
	ec := kernel.NewExecutionContext(executionID, rec.AgentID, "", rec.GraphID, remaining)
	ec.CurrentNodeID = rec.NodePointer
	for k, v := range rec.Variables {
		ec.SetVariable(k, v)
	}
	for _, f := range rec.CallStack {
		ec.PushCallFrame(f)
	}
	ec.RecordUsage(rec.TokenUsage.PromptTokens, rec.TokenUsage.CompletionTokens, rec.TokenUsage.USD)
	ec.Transition(kernel.StateRunning)

	rt.mu.Lock()
	rt.contexts[executionID] = ec
	rt.guards[executionID] = graph.NewIterationGuard(g)
	rt.mu.Unlock()

	rt.bus.Emit(kernel.Event{Type: kernel.EventExecutionResumed, ExecutionID: executionID, AgentID: rec.AgentID})
	rt.sched.Enqueue(executionID, 0)
	return ec, nil
}

// Abort signals executionID's Execution Context to stop at its next
// suspension point, and removes it from the Scheduler if still queued.
func (rt *Runtime) Abort(executionID string) {
	rt.sched.Cancel(executionID)
	rt.mu.Lock()
	ec := rt.contexts[executionID]
	rt.mu.Unlock()
	if ec != nil {
		worker.AbortExecution(ec)
	}
}

// GrantCapability installs (or replaces) an agent's capability grant at
// runtime, after construction.
func (rt *Runtime) GrantCapability(g kernel.Grant) { rt.verifier.Grant(g) }

// Events returns the Event Bus backing this Runtime, so an optional
// Transport adapter (internal/transport) can forward execution.*/graph.*
// events to a subscribe_events caller and deliver approve_checkpoint
// decisions to the Approval Gate, without the kernel core importing the
// transport package itself.
func (rt *Runtime) Events() *events.Bus { return rt.bus }

// InjectMemory upserts item on behalf of moduleID, the way an AGENT_CALL's
// MEMORY_WRITE node would, for a Transport's inject_memory action.
func (rt *Runtime) InjectMemory(ctx context.Context, moduleID string, item *kernel.MemoryItem) error {
	return rt.memMgr.Upsert(ctx, moduleID, item)
}

// ModuleForAgent exposes the injected ModuleManager so a Transport adapter
// can resolve the moduleId an inject_memory payload's agentId belongs to.
func (rt *Runtime) ModuleForAgent(agentID string) (string, bool) {
	return rt.moduleMgr.ModuleForAgent(agentID)
}

func (rt *Runtime) context(executionID string) (*kernel.ExecutionContext, *graph.IterationGuard, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ec, ok := rt.contexts[executionID]
	if !ok {
		return nil, nil, false
	}
	return ec, rt.guards[executionID], true
}

func (rt *Runtime) forget(executionID string) {
	rt.mu.Lock()
	delete(rt.contexts, executionID)
	delete(rt.guards, executionID)
	rt.mu.Unlock()
}

package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corewire/agentkernel/internal/budget"
	"github.com/corewire/agentkernel/internal/compaction"
	"github.com/corewire/agentkernel/internal/graph"
	"github.com/corewire/agentkernel/internal/net/fetch"
	"github.com/corewire/agentkernel/internal/policy"
	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/internal/tool"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// runOne is the worker.Runner the Worker Pool drives: it owns executionID
// from dequeue to a terminal, snapshot-persisted state. The Graph Engine
// drives node resolution; at each node the loop asks the Verifier, the
// Policy Engine, and the Budget Manager before invoking the subsystem the
// node type calls for.
func (rt *Runtime) runOne(ctx context.Context, executionID string) error {
	ec, guard, ok := rt.context(executionID)
	if !ok {
		return kernel.NewError(kernel.KindValidationError, "runtime: no execution context for "+executionID)
	}
	g, ok := rt.graphs[ec.GraphID]
	if !ok {
		return kernel.NewError(kernel.KindGraphValidationError, "runtime: unknown graph "+ec.GraphID)
	}
	moduleID, _ := rt.moduleMgr.ModuleForAgent(ec.AgentID)

	if ec.State() == kernel.StateScheduled {
		if err := rt.lifecycle.Transition(ec, kernel.StateRunning, nil); err != nil {
			return err
		}
	}

	currentNode := ec.CurrentNodeID
	if currentNode == "" {
		currentNode = startNodeID(g)
	}

	for {
		if ec.IsAborted() {
			rt.finish(ctx, ec, kernel.StateAborted, nil)
			return nil
		}

		node, ok := g.Nodes[currentNode]
		if !ok {
			err := kernel.NewError(kernel.KindGraphValidationError, "unknown node: "+currentNode)
			rt.finish(ctx, ec, kernel.StateFailed, err)
			return err
		}

		ec.EnterNode(currentNode)
		if err := guard.Enter(currentNode); err != nil {
			rt.bus.Emit(kernel.Event{Type: kernel.EventGraphIterationCap, ExecutionID: executionID, AgentID: ec.AgentID, Data: map[string]any{"nodeId": currentNode}})
			rt.finish(ctx, ec, kernel.StateFailed, err)
			return err
		}

		rt.bus.Emit(kernel.Event{Type: kernel.EventGraphNodeEntered, ExecutionID: executionID, AgentID: ec.AgentID, Data: map[string]any{"nodeId": currentNode, "type": string(node.Type)}})
		if rt.observability != nil {
			rt.observability.RecordNodeEntered(ec.AgentID, node.Type)
		}

		if node.Type == kernel.NodeEnd {
			rt.finish(ctx, ec, kernel.StateCompleted, nil)
			return nil
		}

		if err := rt.dispatch(ctx, ec, moduleID, node); err != nil {
			rt.finish(ctx, ec, kernel.StateFailed, err)
			return err
		}

		rt.bus.Emit(kernel.Event{Type: kernel.EventGraphNodeExited, ExecutionID: executionID, AgentID: ec.AgentID, Data: map[string]any{"nodeId": currentNode}})

		if node.Checkpoint {
			rt.snapshotAt(ctx, ec, currentNode)
		}

		next, err := graph.ResolveNextNode(g, currentNode, ec.SnapshotVariables())
		if err != nil {
			rt.finish(ctx, ec, kernel.StateFailed, err)
			return err
		}
		if next == "" {
			rt.finish(ctx, ec, kernel.StateCompleted, nil)
			return nil
		}
		currentNode = next
	}
}

func startNodeID(g *kernel.Graph) string {
	for id, n := range g.Nodes {
		if n.Type == kernel.NodeStart {
			return id
		}
	}
	return ""
}

// dispatch invokes the subsystem a node's type calls for. Privileged node
// types run the Verifier, Policy Engine, and Budget Manager checks first.
func (rt *Runtime) dispatch(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, node *kernel.Node) error {
	switch node.Type {
	case kernel.NodeStart, kernel.NodeCondition:
		return nil
	case kernel.NodeLLM:
		return rt.dispatchLLM(ctx, ec, node)
	case kernel.NodeTool:
		return rt.dispatchTool(ctx, ec, moduleID, node)
	case kernel.NodeMemoryRead:
		return rt.dispatchMemoryRead(ctx, ec, node)
	case kernel.NodeMemoryWrite:
		return rt.dispatchMemoryWrite(ctx, ec, moduleID, node)
	case kernel.NodeAgentCall:
		return rt.dispatchAgentCall(ctx, ec, moduleID, node)
	case kernel.NodeHumanApproval:
		return rt.dispatchHumanApproval(ctx, ec, node)
	case kernel.NodeParallel:
		return rt.dispatchParallel(ctx, ec, moduleID, node)
	default:
		return kernel.NewError(kernel.KindValidationError, "unsupported node type: "+string(node.Type))
	}
}

// enforcePolicy evaluates action through the Policy Engine. A Deny returns a
// PermissionDenied error; a Prompt suspends the execution on the Approval
// Gate until resolved or aborted.
func (rt *Runtime) enforcePolicy(ctx context.Context, ec *kernel.ExecutionContext, action policy.Action) error {
	verdict := rt.policyEng.EvaluateDetailed(ec.AgentID, action, policy.Context{"executionId": ec.ExecutionID})
	switch verdict.Decision {
	case policy.Deny:
		return kernel.NewError(kernel.KindPermissionDenied, "policy "+verdict.PolicyName+" denied action "+action.Name)
	case policy.Prompt:
		approved, err := rt.approval.Await(ctx, ec.ExecutionID, ec.Aborted())
		if err != nil {
			return err
		}
		if !approved {
			return kernel.NewError(kernel.KindPermissionDenied, "action "+action.Name+" was not approved")
		}
	}
	return nil
}

func (rt *Runtime) dispatchLLM(ctx context.Context, ec *kernel.ExecutionContext, node *kernel.Node) error {
	if err := rt.verifier.VerifyProviderCall(ec.AgentID); err != nil {
		return err
	}
	if err := rt.enforcePolicy(ctx, ec, policy.Action{Name: "provider.call"}); err != nil {
		return err
	}
	if _, err := rt.budgetMgr.CheckAndExceededError(budget.ScopeAgent, ec.AgentID, budget.Usage{}); err != nil {
		return err
	}

	working := rt.memMgr.WorkingFor(ec.ExecutionID, getString(node.Config, "model", ""))
	messages := toProviderMessages(working.GetConversationHistory())

	req := provider.Request{
		Model:        getString(node.Config, "model", ""),
		SystemPrompt: getString(node.Config, "systemPrompt", ""),
		Messages:     messages,
		Temperature:  getFloat(node.Config, "temperature", 0),
		MaxTokens:    int(getInt(node.Config, "maxTokens", 0)),
		ExecutionID:  ec.ExecutionID,
		AgentID:      ec.AgentID,
	}
	resp, err := rt.providerRtr.Route(ctx, req)
	if err != nil {
		return err
	}

	usage := resp.Usage
	// The Router has already charged this call's tokens to the Budget
	// Manager; read the resulting status without charging them again.
	status := rt.budgetMgr.Check(budget.ScopeAgent, ec.AgentID, budget.Usage{})
	ec.RecordUsage(usage.PromptTokens, usage.CompletionTokens, 0)
	if status == budget.Exceeded {
		return kernel.NewError(kernel.KindBudgetExceeded, "budget exceeded after LLM call for agent "+ec.AgentID)
	}

	working.AppendMessage(&compaction.Turn{Role: "assistant", Content: resp.Content})
	ec.SetVariable(outputVar(node, "output"), resp.Content)
	ec.SetVariable(outputVar(node, "toolCalls"), resp.ToolCalls)
	return nil
}

func toProviderMessages(turns []*compaction.Turn) []provider.Message {
	out := make([]provider.Message, len(turns))
	for i, t := range turns {
		out[i] = provider.Message{Role: t.Role, Content: t.Content}
	}
	return out
}

// networkFetchTool is the reserved built-in tool name for a host-mediated
// NetworkFetch: unlike every other tool it never reaches the
// Sandbox port — the sandbox has no ambient network access, so
// the kernel performs the fetch itself, validated by the fetch package's
// scheme and host checks.
const networkFetchTool = "network.fetch"

func (rt *Runtime) dispatchTool(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, node *kernel.Node) error {
	toolName := getString(node.Config, "tool", "")
	if err := rt.permEngine.Check(moduleID, kernel.PermissionToolExecute); err != nil {
		return err
	}
	if err := rt.verifier.VerifyToolCall(ec.AgentID, toolName); err != nil {
		return err
	}
	if err := rt.enforcePolicy(ctx, ec, policy.Action{Name: "tool.exec", Tool: toolName}); err != nil {
		return err
	}

	if err := rt.lifecycle.Transition(ec, kernel.StateToolExecution, map[string]any{"tool": toolName}); err != nil {
		return err
	}

	input, _ := toolInput(ec, node)

	var result tool.Result
	var err error
	if toolName == networkFetchTool {
		result, err = rt.dispatchNetworkFetch(ctx, ec, moduleID, input)
	} else {
		result, err = rt.toolExec.Execute(ctx, toolName, input)
	}
	if err != nil {
		return err
	}
	ec.SetVariable(outputVar(node, "result"), result.Output)
	ec.SetVariable(outputVar(node, "error"), result.Error)

	return rt.lifecycle.Transition(ec, kernel.StateRunning, nil)
}

// dispatchNetworkFetch enforces the NetworkFetch permission on top of
// the blanket ToolExecute check dispatchTool already ran, then runs the
// fetch through the host-mediated Fetcher rather than the Sandbox port. A
// reserved-address host warning becomes an event rather than a block — the
// Policy Engine's "network.fetch" action is what may actually deny it.
func (rt *Runtime) dispatchNetworkFetch(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, input map[string]any) (tool.Result, error) {
	if err := rt.permEngine.Check(moduleID, kernel.PermissionNetworkFetch); err != nil {
		return tool.Result{}, err
	}
	if err := rt.enforcePolicy(ctx, ec, policy.Action{Name: "network.fetch"}); err != nil {
		return tool.Result{}, err
	}

	rawURL, _ := input["url"].(string)
	start := time.Now()
	res, err := rt.netFetch.Fetch(ctx, rawURL)
	elapsed := time.Since(start).Milliseconds()

	if res.HostVerdict == fetch.VerdictWarn {
		rt.bus.Emit(kernel.Event{
			Type:        kernel.EventNetworkFetchWarned,
			ExecutionID: ec.ExecutionID,
			AgentID:     ec.AgentID,
			Data:        map[string]any{"url": rawURL},
		})
	}
	if err != nil {
		return tool.Result{Success: false, Error: err.Error(), DurationMs: elapsed}, nil
	}

	return tool.Result{
		Success: true,
		Output: map[string]any{
			"statusCode": res.StatusCode,
			"body":       string(res.Body),
		},
		DurationMs: elapsed,
	}, nil
}

func toolInput(ec *kernel.ExecutionContext, node *kernel.Node) (map[string]any, bool) {
	if v, ok := node.Config["input"].(map[string]any); ok {
		return v, true
	}
	if name := getString(node.Config, "inputVariable", ""); name != "" {
		if v, ok := ec.Variable(name); ok {
			if m, ok := v.(map[string]any); ok {
				return m, true
			}
		}
	}
	return map[string]any{}, false
}

func (rt *Runtime) dispatchMemoryRead(ctx context.Context, ec *kernel.ExecutionContext, node *kernel.Node) error {
	scope := getString(node.Config, "scope", "")
	if err := rt.verifier.VerifyMemoryInjection(ec.AgentID, scope); err != nil {
		return err
	}
	if err := rt.lifecycle.Transition(ec, kernel.StateMemoryInjection, map[string]any{"scope": scope}); err != nil {
		return err
	}

	query := getString(node.Config, "query", "")
	if name := getString(node.Config, "queryVariable", ""); name != "" {
		if v, ok := ec.Variable(name); ok {
			if s, ok := v.(string); ok {
				query = s
			}
		}
	}
	topK := int(getInt(node.Config, "topK", 5))

	results, err := rt.memMgr.LongTerm.SearchSemantic(ctx, ec.AgentID, query, topK)
	if err != nil {
		return err
	}
	ec.SetVariable(outputVar(node, "results"), results)
	rt.bus.Emit(kernel.Event{Type: kernel.EventMemoryInjected, ExecutionID: ec.ExecutionID, AgentID: ec.AgentID, Data: map[string]any{"scope": scope, "count": len(results)}})

	return rt.lifecycle.Transition(ec, kernel.StateRunning, nil)
}

func (rt *Runtime) dispatchMemoryWrite(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, node *kernel.Node) error {
	if err := rt.lifecycle.Transition(ec, kernel.StateMemoryInjection, nil); err != nil {
		return err
	}

	content := getString(node.Config, "content", "")
	if name := getString(node.Config, "contentVariable", ""); name != "" {
		if v, ok := ec.Variable(name); ok {
			if s, ok := v.(string); ok {
				content = s
			}
		}
	}
	item := &kernel.MemoryItem{
		ID:         rt.nextExecID(),
		AgentID:    ec.AgentID,
		Scope:      getString(node.Config, "scope", kernel.ScopeLogicalPrivate),
		Type:       kernel.MemoryType(getString(node.Config, "type", string(kernel.MemoryEpisodic))),
		Importance: getFloat(node.Config, "importance", 0.5),
		Content:    content,
	}
	if err := rt.memMgr.Upsert(ctx, moduleID, item); err != nil {
		return err
	}
	rt.bus.Emit(kernel.Event{Type: kernel.EventMemoryUpserted, ExecutionID: ec.ExecutionID, AgentID: ec.AgentID, Data: map[string]any{"scope": item.Scope, "itemId": item.ID}})

	return rt.lifecycle.Transition(ec, kernel.StateRunning, nil)
}

func (rt *Runtime) dispatchAgentCall(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, node *kernel.Node) error {
	if err := rt.permEngine.Check(moduleID, kernel.PermissionAgentCall); err != nil {
		return err
	}
	childAgentID := getString(node.Config, "agentId", "")
	priority := int(getInt(node.Config, "priority", 0))

	input, _ := toolInput(ec, node)
	result, err := rt.orch.CallAgent(ec, childAgentID, priority, input)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	rt.contexts[result.ChildExecutionID] = result.ChildContext
	if g, ok := rt.graphs[result.ChildContext.GraphID]; ok {
		rt.guards[result.ChildExecutionID] = graph.NewIterationGuard(g)
	}
	rt.mu.Unlock()

	ec.SetVariable(outputVar(node, "childExecutionId"), result.ChildExecutionID)
	return nil
}

func (rt *Runtime) dispatchHumanApproval(ctx context.Context, ec *kernel.ExecutionContext, node *kernel.Node) error {
	timeout := time.Duration(getInt(node.Config, "timeoutSeconds", 0)) * time.Second
	awaitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		awaitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	approved, err := rt.approval.Await(awaitCtx, ec.ExecutionID, ec.Aborted())
	if err != nil {
		return err
	}
	if !approved {
		return kernel.NewError(kernel.KindPermissionDenied, "human approval denied for execution "+ec.ExecutionID)
	}
	return nil
}

// dispatchParallel runs each configured branch node concurrently and joins
// on all of them before the graph continues past this node. When a branch
// fails, its siblings still run to completion and the variables they set
// stay in the Execution Context; once every branch has returned, the
// PARALLEL node fails with a branch's error. Sibling results are neither
// merged nor rolled back (see DESIGN.md).
func (rt *Runtime) dispatchParallel(ctx context.Context, ec *kernel.ExecutionContext, moduleID string, node *kernel.Node) error {
	branchIDs, _ := node.Config["branches"].([]string)
	if len(branchIDs) == 0 {
		return nil
	}

	g, ok := rt.graphs[ec.GraphID]
	if !ok {
		return kernel.NewError(kernel.KindGraphValidationError, "unknown graph: "+ec.GraphID)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(branchIDs))
	for _, branchID := range branchIDs {
		branchNode, ok := g.Nodes[branchID]
		if !ok {
			return kernel.NewError(kernel.KindGraphValidationError, fmt.Sprintf("parallel node %q references unknown branch %q", node.ID, branchID))
		}
		wg.Add(1)
		go func(n *kernel.Node) {
			defer wg.Done()
			if err := rt.dispatch(ctx, ec, moduleID, n); err != nil {
				errCh <- err
			}
		}(branchNode)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// finish drives ec to its terminal lifecycle state, persists the final
// snapshot, records failure detail if any, and releases per-execution
// bookkeeping.
func (rt *Runtime) finish(ctx context.Context, ec *kernel.ExecutionContext, to kernel.LifecycleState, cause error) {
	data := map[string]any{}
	if cause != nil {
		fd := kernel.FailureDetail{Message: cause.Error()}
		if kind, ok := kernel.KindOf(cause); ok {
			fd.Code = string(kind)
		}
		data["failure"] = fd
	}
	if err := rt.lifecycle.Transition(ec, to, data); err != nil {
		rt.logger.Error(ctx, "runtime: illegal terminal transition", "executionId", ec.ExecutionID, "to", string(to), "err", err)
	}
	if rt.observability != nil {
		rt.observability.RecordExecutionTerminal(ec.AgentID, to)
	}

	rt.snapshotAt(ctx, ec, ec.CurrentNodeID)
	if err := rt.lifecycle.Transition(ec, kernel.StateSnapshotPersisted, nil); err != nil {
		rt.logger.Error(ctx, "runtime: snapshot_persisted transition failed", "executionId", ec.ExecutionID, "err", err)
	} else {
		// Save again so the stored terminal record carries
		// snapshot_persisted; the store replaces it in place.
		rt.snapshotAt(ctx, ec, ec.CurrentNodeID)
	}

	rt.memMgr.DropWorking(ec.ExecutionID)
	rt.forget(ec.ExecutionID)
}

func (rt *Runtime) snapshotAt(ctx context.Context, ec *kernel.ExecutionContext, nodePointer string) {
	rec := &kernel.SnapshotRecord{
		ExecutionID:    ec.ExecutionID,
		AgentID:        ec.AgentID,
		GraphID:        ec.GraphID,
		NodePointer:    nodePointer,
		Timestamp:      time.Now(),
		Variables:      ec.SnapshotVariables(),
		CallStack:      ec.SnapshotCallStack(),
		LifecycleState: ec.State(),
		TokenUsage:     ec.TokenUsage,
		Version:        "v1",
	}
	if err := rt.snapStore.Save(ctx, rec); err != nil {
		rt.logger.Error(ctx, "runtime: snapshot save failed", "executionId", ec.ExecutionID, "err", err)
	}
}

func outputVar(node *kernel.Node, suffix string) string {
	if v := getString(node.Config, "outputVariable", ""); v != "" {
		return v
	}
	return node.ID + "." + suffix
}

func getString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func getInt(cfg map[string]any, key string, def int64) int64 {
	switch v := cfg[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return def
	}
}

func getFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Runtime is the subset of *internal/runtime.Runtime a RuntimeHandler
// drives. Declared as an interface here (rather than importing the runtime
// package's concrete type) so transport stays a pure consumer of the
// Runtime's public surface — Transport is an external collaborator wired
// in by the embedding host.
type Runtime interface {
	Execute(agentID string, input map[string]any) (*kernel.ExecutionContext, error)
	Abort(executionID string)
	Events() *events.Bus
	InjectMemory(ctx context.Context, moduleID string, item *kernel.MemoryItem) error
	ModuleForAgent(agentID string) (string, bool)
}

// RuntimeHandler adapts a Runtime to the grpctransport.Handler interface
// (and is reusable by any other framing a host chooses), dispatching each
// wire envelope action to its Runtime call or Event Bus subscription.
type RuntimeHandler struct {
	rt     Runtime
	signer *TokenSigner
}

// NewRuntimeHandler builds a handler. signer may be nil, in which case
// heartbeat/approve_checkpoint are rejected outright.
func NewRuntimeHandler(rt Runtime, signer *TokenSigner) *RuntimeHandler {
	return &RuntimeHandler{rt: rt, signer: signer}
}

func (h *RuntimeHandler) authenticate(e Envelope) error {
	if !e.Action.requiresSignedToken() {
		return nil
	}
	if h.signer == nil {
		return kernel.NewError(kernel.KindPermissionDenied, "transport: no signer configured for a signed action")
	}
	return h.signer.RequireAuthentication(e)
}

// Handle dispatches every action except subscribe_events, which streams and
// is handled by Subscribe instead.
func (h *RuntimeHandler) Handle(ctx context.Context, e Envelope) Response {
	if err := h.authenticate(e); err != nil {
		return Fail(err)
	}
	switch e.Action {
	case ActionStartExecution:
		return h.handleStart(e)
	case ActionAbortExecution:
		h.rt.Abort(e.ExecutionID)
		return OK(map[string]any{"executionId": e.ExecutionID})
	case ActionInjectMemory:
		return h.handleInjectMemory(ctx, e)
	case ActionApproveCheckpoint:
		return h.handleApprove(e)
	case ActionHeartbeat:
		return OK(map[string]any{"alive": true})
	default:
		return Fail(kernel.NewError(kernel.KindValidationError, "unsupported action: "+string(e.Action)))
	}
}

func (h *RuntimeHandler) handleStart(e Envelope) Response {
	agentID, _ := e.Payload["agentId"].(string)
	if agentID == "" {
		return Fail(kernel.NewError(kernel.KindValidationError, "start_execution requires payload.agentId"))
	}
	input, _ := e.Payload["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	ec, err := h.rt.Execute(agentID, input)
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]any{"executionId": ec.ExecutionID})
}

func (h *RuntimeHandler) handleInjectMemory(ctx context.Context, e Envelope) Response {
	agentID, _ := e.Payload["agentId"].(string)
	moduleID, ok := h.rt.ModuleForAgent(agentID)
	if !ok {
		return Fail(kernel.NewError(kernel.KindValidationError, "inject_memory: unknown agentId "+agentID))
	}
	content, _ := e.Payload["content"].(string)
	scope, _ := e.Payload["scope"].(string)
	if scope == "" {
		scope = kernel.ScopeLogicalPrivate
	}
	memType, _ := e.Payload["type"].(string)
	if memType == "" {
		memType = string(kernel.MemoryEpisodic)
	}
	importance, _ := e.Payload["importance"].(float64)

	item := &kernel.MemoryItem{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Scope:      scope,
		Type:       kernel.MemoryType(memType),
		Importance: importance,
		Content:    content,
	}
	if err := h.rt.InjectMemory(ctx, moduleID, item); err != nil {
		return Fail(err)
	}
	return OK(map[string]any{"itemId": item.ID})
}

func (h *RuntimeHandler) handleApprove(e Envelope) Response {
	approved, _ := e.Payload["approved"].(bool)
	h.rt.Events().Emit(kernel.Event{
		Type:        kernel.EventPolicyDecision,
		ExecutionID: e.ExecutionID,
		Data:        map[string]any{"action": "approve_checkpoint", "approved": approved},
	})
	return OK(map[string]any{"executionId": e.ExecutionID, "approved": approved})
}

// Subscribe forwards every Event the Event Bus emits to send, scoped to
// e.ExecutionID when provided, until ctx is cancelled.
func (h *RuntimeHandler) Subscribe(ctx context.Context, e Envelope, send func(Response) error) error {
	if err := h.authenticate(e); err != nil {
		return err
	}
	scopeExecutionID, _ := e.Payload["executionId"].(string)
	if scopeExecutionID == "" {
		scopeExecutionID = e.ExecutionID
	}

	errCh := make(chan error, 1)
	unsubscribe := h.rt.Events().OnAny(func(ev kernel.Event) {
		if scopeExecutionID != "" && ev.ExecutionID != scopeExecutionID {
			return
		}
		resp := OK(map[string]any{
			"type":        string(ev.Type),
			"executionId": ev.ExecutionID,
			"agentId":     ev.AgentID,
			"data":        ev.Data,
		})
		if err := send(resp); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Result is the outcome of one tool call. Output is never
// transformed by the Executor — it is exactly the sandbox's raw
// JSON-serializable output.
type Result struct {
	Success    bool
	Output     any
	Error      string
	DurationMs int64
}

// Executor validates tool input against its declared JSON Schema and runs
// the call inside the Sandbox port under the tool's declared resource
// limits. The raw sandbox output is handed back untransformed.
type Executor struct {
	registry *Registry
	sandbox  Sandbox
	bus      *events.Bus

	mu     sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewExecutor builds an Executor over registry, running calls through
// sandbox. bus may be nil.
func NewExecutor(registry *Registry, sandbox Sandbox, bus *events.Bus) *Executor {
	return &Executor{
		registry: registry,
		sandbox:  sandbox,
		bus:      bus,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// SetBus attaches the event bus used to report tool lifecycle events.
func (e *Executor) SetBus(bus *events.Bus) { e.bus = bus }

// Validate JSON-Schema-validates input against toolName's declared schema.
func (e *Executor) Validate(toolName string, input map[string]any) error {
	def, ok := e.registry.Get(toolName)
	if !ok {
		return kernel.NewError(kernel.KindValidationError, "unknown tool: "+toolName)
	}
	if def.InputSchema == nil {
		return nil
	}
	schema, err := e.compiledSchema(toolName, def.InputSchema)
	if err != nil {
		return kernel.Wrap(kernel.KindValidationError, "compile schema for "+toolName, err)
	}
	if err := schema.Validate(input); err != nil {
		return kernel.Wrap(kernel.KindValidationError, "input failed schema validation for "+toolName, err)
	}
	return nil
}

func (e *Executor) compiledSchema(name string, schemaDoc map[string]any) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[name]; ok {
		return s, nil
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas[name] = compiled
	return compiled, nil
}

// Execute validates input, then runs toolName inside the sandbox with the
// tool's declared timeout. A timeout terminates the sandbox call and
// returns {success:false, error:"timeout", durationMs:timeoutMs}.
func (e *Executor) Execute(ctx context.Context, toolName string, input map[string]any) (Result, error) {
	def, ok := e.registry.Get(toolName)
	if !ok {
		return Result{}, kernel.NewError(kernel.KindValidationError, "unknown tool: "+toolName)
	}
	if err := e.Validate(toolName, input); err != nil {
		return Result{}, err
	}
	if e.sandbox == nil {
		return Result{}, kernel.NewError(kernel.KindSandboxError, "no sandbox port configured")
	}

	timeout := time.Duration(def.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limits := SandboxLimits{
		TimeoutMs:         def.TimeoutMs,
		MaxMemoryBytes:    def.MaxMemoryBytes,
		AllowAPIs:         def.AllowAPIs,
		DenyAPIs:          def.DenyAPIs,
		NetworkAllowed:    def.NetworkAllowed,
		FilesystemAllowed: def.FilesystemAllowed,
	}

	start := time.Now()
	code, _ := json.Marshal(input)
	sr, err := e.sandbox.Execute(callCtx, toolName, map[string]any{"input": json.RawMessage(code)}, limits)
	elapsed := time.Since(start).Milliseconds()

	if callCtx.Err() == context.DeadlineExceeded {
		e.emit(toolName, false, "timeout")
		return Result{Success: false, Error: "timeout", DurationMs: def.TimeoutMs}, nil
	}
	if err != nil {
		e.emit(toolName, false, err.Error())
		return Result{}, kernel.Wrap(kernel.KindToolExecutionError, "tool execution failed: "+toolName, err)
	}
	if sr.Error != "" {
		e.emit(toolName, false, sr.Error)
		return Result{Success: false, Error: sr.Error, DurationMs: orDefault(sr.DurationMs, elapsed)}, nil
	}

	e.emit(toolName, true, "")
	return Result{Success: true, Output: sr.Output, DurationMs: orDefault(sr.DurationMs, elapsed)}, nil
}

func orDefault(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

func (e *Executor) emit(toolName string, success bool, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(kernel.Event{
		Type: kernel.EventGraphNodeExited,
		Data: map[string]any{
			"tool":    toolName,
			"success": success,
			"error":   errMsg,
		},
	})
}

// String renders a compact executor summary for logging.
func (e *Executor) String() string {
	return fmt.Sprintf("tool.Executor{tools=%d}", len(e.registry.List()))
}

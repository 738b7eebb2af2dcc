package tool

import "context"

// SandboxLimits is the resource envelope the Executor enforces on one call,
// derived from a tool Definition.
type SandboxLimits struct {
	TimeoutMs         int64
	MaxMemoryBytes    int64
	AllowAPIs         []string
	DenyAPIs          []string
	NetworkAllowed    bool
	FilesystemAllowed bool
}

// SandboxResult is the raw outcome of one sandboxed call.
type SandboxResult struct {
	Output          any
	Error           string
	DurationMs      int64
	MemoryUsedBytes int64
}

// Sandbox is the externally-provided execution port. A fresh, isolated
// worker handles each call; the sandbox has no ambient access to the host
// process.
type Sandbox interface {
	Execute(ctx context.Context, code string, execContext map[string]any, limits SandboxLimits) (SandboxResult, error)
}

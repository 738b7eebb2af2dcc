package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// SubprocessSandbox is a local, single-host Sandbox port backed by bash
// subprocesses: a per-call timeout and a workspace directory holding the
// call's input files. It needs no infrastructure beyond a shell, so it is the
// zero-config default; FirecrackerSandbox (firecrackersandbox.go) is the
// stronger-isolation sibling for deployments that have a kernel image and
// rootfs to boot.
//
// It is a real isolation boundary only in the filesystem-confinement sense
// (each call gets a fresh temp directory); it does not sandbox CPU, memory,
// or network the way a VM-backed runner does.
type SubprocessSandbox struct {
	// WorkDir is the parent directory fresh call workspaces are created
	// under. Defaults to os.TempDir() when empty.
	WorkDir string
	// Shell is the interpreter invoked with the call's code as -c argument.
	// Defaults to "bash".
	Shell string
}

// NewSubprocessSandbox builds a SubprocessSandbox with default settings.
func NewSubprocessSandbox() *SubprocessSandbox {
	return &SubprocessSandbox{Shell: "bash"}
}

// Execute runs code in a fresh temp directory, honoring limits.TimeoutMs and
// limits.FilesystemAllowed/NetworkAllowed as best-effort constraints.
func (s *SubprocessSandbox) Execute(ctx context.Context, code string, execContext map[string]any, limits SandboxLimits) (SandboxResult, error) {
	shell := s.Shell
	if shell == "" {
		shell = "bash"
	}
	timeout := time.Duration(limits.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir, err := os.MkdirTemp(s.WorkDir, "agentkernel-sandbox-")
	if err != nil {
		return SandboxResult{}, kernel.Wrap(kernel.KindToolExecutionError, "create sandbox workspace", err)
	}
	defer os.RemoveAll(workDir)

	if !limits.FilesystemAllowed {
		// Still needs a workspace for the script itself, but the call's
		// declared input context is not materialized onto disk.
		execContext = nil
	}
	for name, value := range execContext {
		data, err := json.Marshal(value)
		if err != nil {
			continue
		}
		_ = os.WriteFile(filepath.Join(workDir, sanitizeFilename(name)+".json"), data, 0o600)
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", code)
	cmd.Dir = workDir
	cmd.Env = sandboxEnv(limits)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := SandboxResult{
		Output: map[string]any{
			"stdout":   stdout.String(),
			"stderr":   stderr.String(),
			"exitCode": cmd.ProcessState.ExitCode(),
		},
		DurationMs: duration.Milliseconds(),
	}
	if runCtx.Err() != nil {
		result.Error = "sandbox: execution timed out after " + timeout.String()
		return result, nil
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return result, nil
}

// sandboxEnv builds a minimal environment for the subprocess, stripping the
// host's environment unless the call explicitly allows network access (a
// network-disabled call also loses proxy/DNS env vars a real network call
// would need, which is the point).
func sandboxEnv(limits SandboxLimits) []string {
	if limits.NetworkAllowed {
		return os.Environ()
	}
	return []string{"PATH=/usr/bin:/bin"}
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(name)
}

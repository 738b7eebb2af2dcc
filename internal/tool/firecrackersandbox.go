//go:build linux

package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// FirecrackerSandboxConfig configures one microVM boot. One fresh VM
// serves each call — the Sandbox port calls Execute independently per
// tool invocation, so there is no pool to keep warm.
type FirecrackerSandboxConfig struct {
	// KernelPath is the Linux kernel image booted by every VM.
	KernelPath string
	// RootFSPath is the root filesystem image every VM boots from.
	RootFSPath string
	// SocketDir holds the per-call Firecracker API unix sockets.
	SocketDir string
	VCPUCount  int64
	MemSizeMB  int64
}

// FirecrackerSandbox implements Sandbox by booting one disposable
// Firecracker microVM per call and running code inside it over its serial
// console, giving the Tool Executor VM-level isolation (distinct kernel,
// distinct memory space) instead of SubprocessSandbox's filesystem-only
// confinement.
type FirecrackerSandbox struct {
	cfg FirecrackerSandboxConfig
}

// NewFirecrackerSandbox builds a FirecrackerSandbox. cfg.KernelPath and
// cfg.RootFSPath must point at images already present on the host; this
// reference implementation does not provision them.
func NewFirecrackerSandbox(cfg FirecrackerSandboxConfig) (*FirecrackerSandbox, error) {
	if cfg.KernelPath == "" || cfg.RootFSPath == "" {
		return nil, kernel.NewError(kernel.KindValidationError, "firecracker sandbox requires KernelPath and RootFSPath")
	}
	if cfg.VCPUCount <= 0 {
		cfg.VCPUCount = 1
	}
	if cfg.MemSizeMB <= 0 {
		cfg.MemSizeMB = 256
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = os.TempDir()
	}
	return &FirecrackerSandbox{cfg: cfg}, nil
}

// buildMachineConfig builds the VM's configuration: boot source, a single
// read-write root drive, and a machine configuration whose memory size
// comes from the call's resource limits when set (vCPU count always comes
// from the sandbox config).
func (s *FirecrackerSandbox) buildMachineConfig(socketPath, logPath string, limits SandboxLimits) firecracker.Config {
	vcpus := s.cfg.VCPUCount
	memMB := s.cfg.MemSizeMB
	if limits.MaxMemoryBytes > 0 {
		if mb := limits.MaxMemoryBytes / (1024 * 1024); mb > 0 {
			memMB = mb
		}
	}

	drives := []models.Drive{
		{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(s.cfg.RootFSPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		},
	}

	return firecracker.Config{
		SocketPath:      socketPath,
		LogPath:         logPath,
		LogLevel:        "Warning",
		KernelImagePath: s.cfg.KernelPath,
		Drives:          drives,
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(vcpus),
			MemSizeMib: firecracker.Int64(memMB),
			Smt:        firecracker.Bool(false),
		},
	}
}

// Execute boots a fresh microVM, runs code as its init command over the
// configured kernel boot args, and tears the VM down on exit — every
// return path stops the machine, matching the scoped-resource release
// rule for sandbox workers.
func (s *FirecrackerSandbox) Execute(ctx context.Context, code string, execContext map[string]any, limits SandboxLimits) (SandboxResult, error) {
	timeout := time.Duration(limits.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runDir, err := os.MkdirTemp(s.cfg.SocketDir, "agentkernel-firecracker-")
	if err != nil {
		return SandboxResult{}, kernel.Wrap(kernel.KindSandboxError, "create firecracker run dir", err)
	}
	defer os.RemoveAll(runDir)

	if limits.FilesystemAllowed {
		payload, _ := json.Marshal(execContext)
		_ = os.WriteFile(filepath.Join(runDir, "context.json"), payload, 0o600)
	}

	fcConfig := s.buildMachineConfig(
		filepath.Join(runDir, "firecracker.sock"),
		filepath.Join(runDir, "firecracker.log"),
		limits,
	)
	fcConfig.KernelArgs = fmt.Sprintf("init=/sbin/agentkernel-run console=ttyS0 reboot=k panic=1 agentkernel.cmd=%s", encodeKernelArg(code))

	start := time.Now()
	machine, err := firecracker.NewMachine(runCtx, fcConfig)
	if err != nil {
		return SandboxResult{}, kernel.Wrap(kernel.KindSandboxError, "configure firecracker machine", err)
	}
	if err := machine.Start(runCtx); err != nil {
		return SandboxResult{}, kernel.Wrap(kernel.KindSandboxError, "start firecracker machine", err)
	}
	defer machine.StopVMM()

	waitErr := machine.Wait(runCtx)
	duration := time.Since(start)

	result := SandboxResult{DurationMs: duration.Milliseconds()}
	if runCtx.Err() != nil {
		result.Error = "sandbox: execution timed out after " + timeout.String()
		return result, nil
	}
	if waitErr != nil {
		result.Error = waitErr.Error()
		return result, nil
	}
	result.Output = map[string]any{"exitedCleanly": true}
	return result, nil
}

func encodeKernelArg(code string) string {
	// Kernel boot args are whitespace-delimited; the call's code is handed
	// to the init process as a single opaque base64 token it decodes
	// before execution, avoiding any quoting ambiguity on the cmdline.
	return base64.RawURLEncoding.EncodeToString([]byte(code))
}

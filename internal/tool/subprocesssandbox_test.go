package tool

import (
	"context"
	"runtime"
	"testing"
)

func TestSubprocessSandbox_ExecuteCapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash not available")
	}
	s := NewSubprocessSandbox()
	result, err := s.Execute(context.Background(), "echo hello", nil, SandboxLimits{TimeoutMs: 2000})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	out, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", result.Output)
	}
	if out["stdout"] != "hello\n" {
		t.Fatalf("expected stdout %q, got %q", "hello\n", out["stdout"])
	}
}

func TestSubprocessSandbox_ExecuteTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash not available")
	}
	s := NewSubprocessSandbox()
	result, err := s.Execute(context.Background(), "sleep 5", nil, SandboxLimits{TimeoutMs: 50})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Error == "" {
		t.Fatal("expected a timeout error")
	}
}

func TestSubprocessSandbox_NetworkDisabledStripsEnv(t *testing.T) {
	env := sandboxEnv(SandboxLimits{NetworkAllowed: false})
	if len(env) != 1 {
		t.Fatalf("expected a minimal PATH-only env, got %v", env)
	}
}

func TestSubprocessSandbox_NetworkAllowedKeepsHostEnv(t *testing.T) {
	env := sandboxEnv(SandboxLimits{NetworkAllowed: true})
	if len(env) == 0 {
		t.Fatal("expected the host environment to pass through")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"plain":         "plain",
		"a/b":           "a_b",
		"../etc/passwd": "__etc_passwd",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

package tool

import (
	"context"
	"testing"
	"time"
)

type fakeSandbox struct {
	delay  time.Duration
	output any
	err    string
}

func (f *fakeSandbox) Execute(ctx context.Context, code string, execContext map[string]any, limits SandboxLimits) (SandboxResult, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return SandboxResult{}, ctx.Err()
	}
	return SandboxResult{Output: f.output, Error: f.err, DurationMs: f.delay.Milliseconds()}, nil
}

func schemaFor(required ...string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": required,
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: "search"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(Definition{Name: "search"}); err == nil {
		t.Fatal("expected duplicate registration to be rejected")
	}
}

func TestRegistryEmptyNameRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: ""}); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
}

func TestExecuteValidatesSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "search", InputSchema: schemaFor("query"), TimeoutMs: 1000})
	ex := NewExecutor(r, &fakeSandbox{output: "ok"}, nil)

	if _, err := ex.Execute(context.Background(), "search", map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	res, err := ex.Execute(context.Background(), "search", map[string]any{"query": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Output != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "slow", TimeoutMs: 10})
	ex := NewExecutor(r, &fakeSandbox{delay: 100 * time.Millisecond}, nil)

	res, err := ex.Execute(context.Background(), "slow", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != "timeout" {
		t.Fatalf("expected timeout result, got %+v", res)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	ex := NewExecutor(r, &fakeSandbox{}, nil)
	if _, err := ex.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

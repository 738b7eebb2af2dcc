package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_RecordNodeEntered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordNodeEntered("agent-1", kernel.NodeLLM)
	m.RecordNodeEntered("agent-1", kernel.NodeLLM)

	if got := counterValue(t, m.NodeEntered, string(kernel.NodeLLM)); got != 2 {
		t.Fatalf("expected 2 node_entered events, got %v", got)
	}
}

func TestMetrics_RecordExecutionTerminal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExecutionTerminal("agent-1", kernel.StateCompleted)

	if got := counterValue(t, m.ExecutionTerminal, string(kernel.StateCompleted)); got != 1 {
		t.Fatalf("expected 1 completed execution, got %v", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordNodeEntered("agent-1", kernel.NodeLLM)
	m.RecordExecutionTerminal("agent-1", kernel.StateFailed)
	m.RecordToolExecution("web_search", "success", 0.2)
	m.RecordProviderRequest("anthropic", "claude", "success", 0.5)
	m.RecordFallbackAttempt("anthropic", "attempted")
	m.RecordBudgetExceeded("agent")
	m.SetSchedulerDepth(3)
	m.SetWorkerUtilization(0.5)
}

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tr, shutdown := NewTracer(context.Background(), TraceConfig{ServiceName: "test"})
	if tr == nil {
		t.Fatal("expected non-nil tracer")
	}
	ctx, span := tr.StartNode(context.Background(), "exec-1", "agent-1", "node-1", "LLM")
	if ctx == nil || span == nil {
		t.Fatal("expected a usable span even in no-op mode")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown to succeed: %v", err)
	}
}

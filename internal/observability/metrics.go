// Package observability provides the kernel's metrics and tracing sinks, and
// an Observability adapter the Runtime drives through its optional
// Observability port (internal/runtime.Observability).
//
// Prometheus counters/histograms are registered via promauto; tracing
// exports OTLP over gRPC.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Metrics holds the kernel's Prometheus instruments, registered once at
// Runtime construction and read by a /metrics HTTP handler the embedding
// host mounts; the kernel itself exposes no HTTP surface.
type Metrics struct {
	// NodeEntered counts graph node entries by node type.
	// Labels: node_type (LLM|TOOL|MEMORY_READ|...)
	NodeEntered *prometheus.CounterVec

	// ExecutionTerminal counts executions reaching a terminal lifecycle
	// state. Labels: state (completed|failed|aborted)
	ExecutionTerminal *prometheus.CounterVec

	// SchedulerDepth tracks the pending-queue depth.
	SchedulerDepth prometheus.Gauge

	// WorkerUtilization tracks the fraction of the pool currently busy.
	WorkerUtilization prometheus.Gauge

	// BudgetExceeded counts budget-exceeded terminations by scope.
	// Labels: scope (agent|session|workspace)
	BudgetExceeded *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	// Labels: tool, status (success|error|timeout)
	ToolExecutionDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures LLM provider call latency.
	// Labels: provider, model, status (success|error)
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderFallbackAttempts counts per-attempt fallback outcomes.
	// Labels: provider, outcome (attempted|failed|succeeded)
	ProviderFallbackAttempts *prometheus.CounterVec
}

// NewMetrics registers and returns the kernel's Prometheus instruments
// against reg. Pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in a single-kernel-per-process deployment.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NodeEntered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_graph_node_entered_total",
				Help: "Total number of graph node entries by node type.",
			},
			[]string{"node_type"},
		),
		ExecutionTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_execution_terminal_total",
				Help: "Total number of executions reaching a terminal lifecycle state.",
			},
			[]string{"state"},
		),
		SchedulerDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentkernel_scheduler_depth",
				Help: "Current depth of the Scheduler's pending execution queue.",
			},
		),
		WorkerUtilization: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentkernel_worker_utilization",
				Help: "Fraction of the Worker Pool currently running an execution.",
			},
		),
		BudgetExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_budget_exceeded_total",
				Help: "Total number of budget-exceeded terminations by scope.",
			},
			[]string{"scope"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentkernel_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentkernel_provider_request_duration_seconds",
				Help:    "LLM provider request latency in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		ProviderFallbackAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_provider_fallback_attempts_total",
				Help: "Provider fallback attempts by outcome.",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// RecordNodeEntered implements runtime.Observability.
func (m *Metrics) RecordNodeEntered(agentID string, nodeType kernel.NodeType) {
	if m == nil {
		return
	}
	m.NodeEntered.WithLabelValues(string(nodeType)).Inc()
}

// RecordExecutionTerminal implements runtime.Observability.
func (m *Metrics) RecordExecutionTerminal(agentID string, state kernel.LifecycleState) {
	if m == nil {
		return
	}
	m.ExecutionTerminal.WithLabelValues(string(state)).Inc()
}

// RecordToolExecution records one tool call's latency and outcome.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionDuration.WithLabelValues(tool, status).Observe(seconds)
}

// RecordProviderRequest records one provider call's latency and outcome.
func (m *Metrics) RecordProviderRequest(provider, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequestDuration.WithLabelValues(provider, model, status).Observe(seconds)
}

// RecordFallbackAttempt records one candidate's fallback outcome.
func (m *Metrics) RecordFallbackAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderFallbackAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordBudgetExceeded records a budget-exceeded termination for scope.
func (m *Metrics) RecordBudgetExceeded(scope string) {
	if m == nil {
		return
	}
	m.BudgetExceeded.WithLabelValues(scope).Inc()
}

// SetSchedulerDepth reports the Scheduler's current pending queue depth.
func (m *Metrics) SetSchedulerDepth(depth int) {
	if m == nil {
		return
	}
	m.SchedulerDepth.Set(float64(depth))
}

// SetWorkerUtilization reports the fraction of the pool currently busy.
func (m *Metrics) SetWorkerUtilization(fraction float64) {
	if m == nil {
		return
	}
	m.WorkerUtilization.Set(fraction)
}

package budget

import (
	"testing"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/internal/ratelimit"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func disabledRates() ratelimit.Config {
	return ratelimit.Config{Enabled: false}
}

func TestCheckAllowedUnderLimit(t *testing.T) {
	m := New(nil, disabledRates())
	m.SetLimit(ScopeAgent, "a", Limit{MaxTokens: 100})

	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 10}); got != Allowed {
		t.Fatalf("expected Allowed, got %v", got)
	}
}

func TestCheckWarnAtEightyPercent(t *testing.T) {
	m := New(nil, disabledRates())
	m.SetLimit(ScopeAgent, "a", Limit{MaxTokens: 100})

	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 80}); got != Warn {
		t.Fatalf("expected Warn, got %v", got)
	}
}

func TestCheckExceeded(t *testing.T) {
	m := New(nil, disabledRates())
	m.SetLimit(ScopeAgent, "a", Limit{MaxTokens: 100})

	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 101}); got != Exceeded {
		t.Fatalf("expected Exceeded, got %v", got)
	}
}

// TestBudgetExceedWalkthrough drives a full warn-then-exceed sequence: with a
// 100-token cap, a first usage of 80 (the 80% warn threshold) warns, a
// second request of 45 would push past the cap, and recording it emits
// exceeded exactly once.
func TestBudgetExceedWalkthrough(t *testing.T) {
	bus := events.New()
	var warnings, exceeded int
	bus.On(kernel.EventBudgetWarning, func(e kernel.Event) { warnings++ })
	bus.On(kernel.EventBudgetExceeded, func(e kernel.Event) { exceeded++ })

	m := New(bus, disabledRates())
	m.SetLimit(ScopeAgent, "agent-1", Limit{MaxTokens: 100})

	if status := m.Record("exec-1", ScopeAgent, "agent-1", Usage{Tokens: 80}); status != Warn {
		t.Fatalf("expected Warn after first usage, got %v", status)
	}
	if warnings != 1 {
		t.Fatalf("expected 1 warning, got %d", warnings)
	}

	status, err := m.CheckAndExceededError(ScopeAgent, "agent-1", Usage{Tokens: 45})
	if status != Exceeded {
		t.Fatalf("expected Exceeded on second check, got %v", status)
	}
	if !kernel.IsKind(err, kernel.KindBudgetExceeded) {
		t.Fatalf("expected BudgetExceeded error, got %v", err)
	}

	// Recording the over-budget usage fires budget.exceeded exactly once
	// even if Record is called again afterward.
	m.Record("exec-1", ScopeAgent, "agent-1", Usage{Tokens: 45})
	m.Record("exec-1", ScopeAgent, "agent-1", Usage{Tokens: 1})
	if exceeded != 1 {
		t.Fatalf("expected exactly 1 budget.exceeded event, got %d", exceeded)
	}
}

func TestRemainingReportsUnlimitedAsNegativeOne(t *testing.T) {
	m := New(nil, disabledRates())
	tokens, usd := m.Remaining(ScopeSession, "s1")
	if tokens != -1 || usd != -1 {
		t.Fatalf("expected unlimited (-1, -1), got (%d, %f)", tokens, usd)
	}
}

func TestRequestRateLimitingExceedsRegardlessOfTokens(t *testing.T) {
	cfg := ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}
	m := New(nil, cfg)
	m.SetLimit(ScopeAgent, "a", Limit{MaxTokens: 1000})

	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 1}); got != Allowed {
		t.Fatalf("expected first request allowed, got %v", got)
	}
	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 1}); got != Exceeded {
		t.Fatalf("expected second immediate request rate-limited to Exceeded, got %v", got)
	}
}

func TestReset(t *testing.T) {
	m := New(nil, disabledRates())
	m.SetLimit(ScopeAgent, "a", Limit{MaxTokens: 10})
	m.Record("exec-1", ScopeAgent, "a", Usage{Tokens: 10})
	m.Reset()

	if got := m.Check(ScopeAgent, "a", Usage{Tokens: 1}); got != Allowed {
		t.Fatalf("expected Allowed after reset, got %v", got)
	}
}

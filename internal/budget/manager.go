// Package budget implements the Budget/Rate Manager: per-scope
// token/USD/request counters with check-then-record semantics, warning and
// exceeded thresholds, and a token-bucket request-rate limiter keyed by
// (scope, agentId). Requests are metered by continuous refill; there are
// no fixed window boundaries.
//
// The request-rate dimension rides on internal/ratelimit's token bucket;
// tokens and USD are tracked as per-scope counters with explicit
// warn/exceed semantics.
package budget

import (
	"sync"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/internal/ratelimit"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Scope is the closed enum of budget scopes.
type Scope string

const (
	ScopeAgent     Scope = "agent"
	ScopeSession   Scope = "session"
	ScopeWorkspace Scope = "workspace"
)

// Status is the outcome of a Check, ordered so max() picks the strictest
// across token, USD, and request-rate dimensions.
type Status int

const (
	Allowed Status = iota
	Warn
	Exceeded
)

func (s Status) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Warn:
		return "warn"
	case Exceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// warnThreshold is the fraction of a budget at which Check returns Warn
// instead of Allowed.
const warnThreshold = 0.8

// Limit caps one scope's consumption. Zero fields mean "no cap on that
// dimension".
type Limit struct {
	MaxTokens      int64
	MaxUSD         float64
	MaxRequestsWin int // not consulted by Check; the request rate comes from the ratelimit.Config passed to New
}

// Usage is a single unit of consumption to record against a scope.
type Usage struct {
	Tokens int64
	USD    float64
}

// key identifies one counter: a scope kind plus the entity id it is scoped
// to (agentId, sessionId, or workspaceId).
type key struct {
	scope Scope
	id    string
}

// counter holds the running totals for one (scope, id) pair. exceededFired
// tracks whether budget.exceeded has already been emitted for this counter,
// per the "exactly once" invariant.
type counter struct {
	mu            sync.Mutex
	tokens        int64
	usd           float64
	limit         Limit
	exceededFired bool
}

// Manager tracks per-scope budgets and a token-bucket request-rate limiter.
// Reader-heavy, writer-rare; reads
// (Remaining) take the per-counter lock only, never the map lock, once a
// counter exists.
type Manager struct {
	bus *events.Bus

	mu       sync.RWMutex
	counters map[key]*counter

	rates *ratelimit.Limiter
}

// New creates a Manager. bus may be nil (no events emitted, used in tests).
// rateConfig configures the underlying token-bucket's refill rate/capacity;
// pass a zero ratelimit.Config to disable rate limiting entirely.
func New(bus *events.Bus, rateConfig ratelimit.Config) *Manager {
	return &Manager{
		bus:      bus,
		counters: make(map[key]*counter),
		rates:    ratelimit.NewLimiter(rateConfig),
	}
}

// SetLimit installs (or replaces) the Limit for one scope/id pair. Must be
// called before the first Check/Record for that pair to take effect from
// the start; calling it later re-bases future checks against the new cap
// without altering totals already accumulated.
func (m *Manager) SetLimit(scope Scope, id string, limit Limit) {
	c := m.getCounter(scope, id)
	c.mu.Lock()
	c.limit = limit
	c.mu.Unlock()
}

func (m *Manager) getCounter(scope Scope, id string) *counter {
	k := key{scope, id}

	m.mu.RLock()
	c, ok := m.counters[k]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[k]; ok {
		return c
	}
	c = &counter{}
	m.counters[k] = c
	return c
}

// Check reports whether a pending usage would keep (scope, id) within its
// token/USD limits, without recording anything. It also consults the
// request-rate limiter for (scope, id); a rate-limited request reports
// Exceeded regardless of token/USD headroom.
func (m *Manager) Check(scope Scope, id string, pending Usage) Status {
	rateKey := ratelimit.CompositeKey(string(scope), id)
	if !m.rates.Allow(rateKey) {
		return Exceeded
	}

	c := m.getCounter(scope, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(pending)
}

func (c *counter) statusLocked(pending Usage) Status {
	tokens := c.tokens + pending.Tokens
	usd := c.usd + pending.USD

	if c.limit.MaxTokens > 0 && tokens > c.limit.MaxTokens {
		return Exceeded
	}
	if c.limit.MaxUSD > 0 && usd > c.limit.MaxUSD {
		return Exceeded
	}
	if c.limit.MaxTokens > 0 && float64(tokens) >= float64(c.limit.MaxTokens)*warnThreshold {
		return Warn
	}
	if c.limit.MaxUSD > 0 && usd >= c.limit.MaxUSD*warnThreshold {
		return Warn
	}
	return Allowed
}

// Record atomically applies usage to (scope, id)'s running totals and
// emits budget.warning or budget.exceeded as thresholds are crossed.
// budget.exceeded fires at most once per counter;
// budget.warning may fire on every call once past the threshold — it
// marks the crossing call and every one after, not "exactly once" like
// exceeded.
func (m *Manager) Record(executionID string, scope Scope, id string, usage Usage) Status {
	c := m.getCounter(scope, id)

	c.mu.Lock()
	c.tokens += usage.Tokens
	c.usd += usage.USD
	status := c.statusLocked(Usage{})
	alreadyFired := c.exceededFired
	if status == Exceeded {
		c.exceededFired = true
	}
	remaining := c.limit.MaxTokens - c.tokens
	c.mu.Unlock()

	switch status {
	case Warn:
		m.emit(kernel.EventBudgetWarning, executionID, id, scope, remaining)
	case Exceeded:
		if !alreadyFired {
			m.emit(kernel.EventBudgetExceeded, executionID, id, scope, remaining)
		}
	}
	return status
}

func (m *Manager) emit(t kernel.EventType, executionID, agentID string, scope Scope, remaining int64) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(kernel.Event{
		Type:        t,
		ExecutionID: executionID,
		AgentID:     agentID,
		Data: map[string]any{
			"scope":     string(scope),
			"remaining": remaining,
		},
	})
}

// Remaining returns the remaining token and USD headroom for (scope, id).
// A zero-valued limit on a dimension reports that dimension as unlimited
// (represented as -1 so callers can distinguish "no cap" from "none left").
func (m *Manager) Remaining(scope Scope, id string) (tokens int64, usd float64) {
	c := m.getCounter(scope, id)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit.MaxTokens > 0 {
		tokens = c.limit.MaxTokens - c.tokens
	} else {
		tokens = -1
	}
	if c.limit.MaxUSD > 0 {
		usd = c.limit.MaxUSD - c.usd
	} else {
		usd = -1
	}
	return tokens, usd
}

// Reset clears every counter. Rate-limit buckets are left as they are.
// Test-only entry point.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.counters = make(map[key]*counter)
	m.mu.Unlock()
}

// CheckAndExceededError runs Check and, if the result is Exceeded, returns a
// ready-to-propagate kernel.Error of kind BudgetExceeded, which aborts the
// current execution. Callers that only need the Status should call Check
// directly.
func (m *Manager) CheckAndExceededError(scope Scope, id string, pending Usage) (Status, error) {
	status := m.Check(scope, id, pending)
	if status != Exceeded {
		return status, nil
	}
	return status, kernel.NewError(kernel.KindBudgetExceeded, "budget exceeded for "+string(scope)+" "+id).
		WithDetails(map[string]any{"scope": string(scope), "id": id})
}

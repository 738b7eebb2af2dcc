// Package policy implements the Policy Engine: a list of named
// policies, each evaluating (agentId, action, context) to allow/deny/prompt,
// aggregated by strictest-wins (deny > prompt > allow).
//
// Every registered policy is asked about every action; a single deny or
// prompt outcome is never shadowed by a later allow.
package policy

import (
	"sync"
)

// Decision is the closed three-valued policy outcome.
type Decision int

const (
	Allow Decision = iota
	Prompt
	Deny
)

// String renders the decision for logging.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Prompt:
		return "prompt"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// stricter returns the more restrictive of a and b (deny > prompt > allow).
func stricter(a, b Decision) Decision {
	if a > b {
		return a
	}
	return b
}

// Action describes the privileged operation being evaluated.
type Action struct {
	Name string // e.g. "tool.exec", "provider.call", "memory.write"
	Tool string // populated for tool calls
}

// Context carries whatever evaluation-time facts a Policy needs. Kept as a
// map rather than a closed struct because individual policies are allowed
// to look at arbitrary request facts.
type Context map[string]any

// Policy evaluates one rule over (agentID, action, ctx).
type Policy interface {
	Name() string
	Evaluate(agentID string, action Action, ctx Context) Decision
}

// Func adapts a plain function to the Policy interface.
type Func struct {
	PolicyName string
	Eval       func(agentID string, action Action, ctx Context) Decision
}

func (f Func) Name() string { return f.PolicyName }
func (f Func) Evaluate(agentID string, action Action, ctx Context) Decision {
	return f.Eval(agentID, action, ctx)
}

// Engine aggregates a list of Policies.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

// New creates an Engine with no policies registered (an empty engine always
// allows, matching a deny-list model where no rule means no restriction).
func New() *Engine {
	return &Engine{}
}

// Register appends a policy to the evaluation list. Evaluation order does
// not affect the outcome since aggregation is strictest-wins, but it is
// preserved for deterministic Decisions (the first policy name, severity
// sub-kind etc. a caller inspects via EvaluateDetailed).
func (e *Engine) Register(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
}

// Evaluate runs every registered policy over (agentID, action, ctx) and
// returns the strictest decision. An Engine with no policies allows.
func (e *Engine) Evaluate(agentID string, action Action, ctx Context) Decision {
	return e.EvaluateDetailed(agentID, action, ctx).Decision
}

// Verdict is the result of evaluating every policy, including which policy
// (if any) produced the winning (strictest) decision.
type Verdict struct {
	Decision    Decision
	PolicyName  string
}

// EvaluateDetailed runs every policy and reports which policy produced the
// strictest decision, for audit/logging.
func (e *Engine) EvaluateDetailed(agentID string, action Action, ctx Context) Verdict {
	e.mu.RLock()
	policies := append([]Policy(nil), e.policies...)
	e.mu.RUnlock()

	verdict := Verdict{Decision: Allow}
	for _, p := range policies {
		d := p.Evaluate(agentID, action, ctx)
		if d > verdict.Decision {
			verdict.Decision = d
			verdict.PolicyName = p.Name()
		}
	}
	return verdict
}

// Unregister removes every policy with the given name.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.policies[:0]
	for _, p := range e.policies {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	e.policies = kept
}

// Reset removes every registered policy. Test-only entry point.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = nil
}

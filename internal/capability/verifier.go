package capability

import (
	"sync"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/internal/security"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Verifier holds per-agent Grants and the Constraints derived from them, and
// performs every capability check a Worker needs before it invokes a
// privileged subsystem.
type Verifier struct {
	mu          sync.RWMutex
	grants      map[string]kernel.Grant
	constraints map[string]kernel.Constraint

	bus   *events.Bus
	audit *security.AuditLog
}

// NewVerifier creates a Verifier that emits capability.* events on bus and
// records denials in audit. Either may be nil.
func NewVerifier(bus *events.Bus, audit *security.AuditLog) *Verifier {
	return &Verifier{
		grants:      make(map[string]kernel.Grant),
		constraints: make(map[string]kernel.Constraint),
		bus:         bus,
		audit:       audit,
	}
}

// Grant stores g and recomputes its derived Constraint.
func (v *Verifier) Grant(g kernel.Grant) {
	v.mu.Lock()
	v.grants[g.AgentID] = g
	v.constraints[g.AgentID] = deriveConstraint(g)
	v.mu.Unlock()

	v.emit(kernel.EventCapabilityGranted, g.AgentID, "", "grant", "")
}

// Revoke removes an agent's grant and constraint.
func (v *Verifier) Revoke(agentID string) {
	v.mu.Lock()
	delete(v.grants, agentID)
	delete(v.constraints, agentID)
	v.mu.Unlock()

	v.emit(kernel.EventCapabilityRevoked, agentID, "", "revoke", "")
}

// GrantFor returns the stored grant for agentID, if any.
func (v *Verifier) GrantFor(agentID string) (kernel.Grant, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	g, ok := v.grants[agentID]
	return g, ok
}

// Constraint returns the derived constraint for agentID, if any.
func (v *Verifier) Constraint(agentID string) (kernel.Constraint, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.constraints[agentID]
	return c, ok
}

func deriveConstraint(g kernel.Grant) kernel.Constraint {
	tools := make(map[string]struct{}, len(g.AllowedTools))
	for _, t := range g.AllowedTools {
		tools[t] = struct{}{}
	}
	agents := make(map[string]struct{}, len(g.AllowedAgents))
	for _, a := range g.AllowedAgents {
		agents[a] = struct{}{}
	}
	return kernel.Constraint{
		AllowedTools:       tools,
		AllowedNetworkHost: append([]string(nil), g.AllowedHosts...),
		AllowedMemoryScope: append([]string(nil), g.AllowedMemory...),
		MaxTokenBudget:     g.MaxTokenBudget,
		AllowedAgentTarget: agents,
	}
}

// Verify checks whether agentID holds capName among its granted
// capabilities.
func (v *Verifier) Verify(agentID, capName string) error {
	v.mu.RLock()
	g, ok := v.grants[agentID]
	v.mu.RUnlock()
	if !ok {
		return v.deny(agentID, "capability:"+capName, "no grant for agent")
	}
	for _, c := range g.Capabilities {
		if c == capName {
			return nil
		}
	}
	return v.deny(agentID, "capability:"+capName, "capability not granted")
}

// VerifyToolCall checks that toolName is in agentID's allowed-tools
// constraint.
func (v *Verifier) VerifyToolCall(agentID, toolName string) error {
	c, ok := v.Constraint(agentID)
	if !ok {
		return v.deny(agentID, "tool:"+toolName, "no constraint for agent")
	}
	if _, allowed := c.AllowedTools[toolName]; !allowed {
		return v.deny(agentID, "tool:"+toolName, "tool not in allow-list")
	}
	return nil
}

// VerifyProviderCall checks that agentID is permitted to call an LLM
// provider at all (it must hold a grant; fine-grained model selection is
// the Provider Router's concern).
func (v *Verifier) VerifyProviderCall(agentID string) error {
	if _, ok := v.GrantFor(agentID); !ok {
		return v.deny(agentID, "provider:call", "no grant for agent")
	}
	return nil
}

// VerifyMemoryInjection checks that scope matches one of agentID's allowed
// memory scope patterns. A pattern ending in "*" matches by prefix.
func (v *Verifier) VerifyMemoryInjection(agentID, scope string) error {
	c, ok := v.Constraint(agentID)
	if !ok {
		return v.deny(agentID, "memory:"+scope, "no constraint for agent")
	}
	for _, pattern := range c.AllowedMemoryScope {
		if matchScope(pattern, scope) {
			return nil
		}
	}
	return v.deny(agentID, "memory:"+scope, "scope not in allow-list")
}

func matchScope(pattern, scope string) bool {
	if pattern == scope {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(scope) >= len(prefix) && scope[:len(prefix)] == prefix
	}
	return false
}

// VerifyCrossAgentMessage checks that to is in from's allowed agent-target
// list.
func (v *Verifier) VerifyCrossAgentMessage(from, to string) error {
	c, ok := v.Constraint(from)
	if !ok {
		return v.deny(from, "agent_boundary:"+to, "no constraint for agent")
	}
	if _, allowed := c.AllowedAgentTarget[to]; !allowed {
		return v.deny(from, "agent_boundary:"+to, "target not in allow-list")
	}
	return nil
}

func (v *Verifier) deny(agentID, action, reason string) error {
	v.emit(kernel.EventCapabilityDenied, agentID, "", action, reason)
	if v.audit != nil {
		v.audit.Record(security.Finding{
			Severity: security.SeverityWarn,
			AgentID:  agentID,
			Action:   action,
			Reason:   reason,
		})
	}
	return kernel.NewError(kernel.KindPermissionDenied, action+": "+reason)
}

func (v *Verifier) emit(t kernel.EventType, agentID, executionID, action, reason string) {
	if v.bus == nil {
		return
	}
	v.bus.Emit(kernel.Event{
		Type:        t,
		AgentID:     agentID,
		ExecutionID: executionID,
		Data: map[string]any{
			"action": action,
			"reason": reason,
		},
	})
}

// Reset clears all grants and constraints. Test-only entry point.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.grants = make(map[string]kernel.Grant)
	v.constraints = make(map[string]kernel.Constraint)
}

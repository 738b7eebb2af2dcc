package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corewire/agentkernel/internal/backoff"
	"github.com/corewire/agentkernel/internal/budget"
	"github.com/corewire/agentkernel/internal/cache"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// dedupeWindow/dedupeMaxSize bound the recordUsage idempotency guard below:
// a worker that re-dispatches the identical LLM call for a node it already
// has a recorded response for (replay, a retried suspension point) must not
// charge the Budget Manager twice for it: usage accounting is exactly-once
// per call, not per attempt.
const (
	dedupeWindow  = 10 * time.Minute
	dedupeMaxSize = 10000
)

// Router is a named registry of Providers that orders candidates by
// Strategy and attempts them in order up to MaxFallbackAttempts.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // registration order, for round-robin and priority ties

	Strategy            Strategy
	MaxFallbackAttempts int
	BackoffPolicy       backoff.Policy

	budgetMgr *budget.Manager

	rrMu   sync.Mutex
	rrNext uint64

	dedupe *cache.DedupeCache

	lastAttempts []AttemptLog
}

// New creates a Router with the given strategy and fallback cap. A
// non-positive maxFallbackAttempts defaults to DefaultMaxFallbackAttempts.
func New(strategy Strategy, maxFallbackAttempts int) *Router {
	if maxFallbackAttempts <= 0 {
		maxFallbackAttempts = DefaultMaxFallbackAttempts
	}
	return &Router{
		providers:           make(map[string]Provider),
		Strategy:            strategy,
		MaxFallbackAttempts: maxFallbackAttempts,
		BackoffPolicy:       backoff.DefaultPolicy(),
		dedupe: cache.NewDedupeCache(cache.DedupeCacheOptions{
			TTL:     dedupeWindow,
			MaxSize: dedupeMaxSize,
		}),
	}
}

// SetBudgetManager attaches the Budget Manager usage is recorded to on
// response completion.
func (r *Router) SetBudgetManager(m *budget.Manager) { r.budgetMgr = m }

// Register adds a named provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// candidates returns the providers supporting req.Model, ordered per
// r.Strategy.
func (r *Router) candidates(req Request) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cands []Provider
	for _, name := range r.order {
		p := r.providers[name]
		if p.SupportsModel(req.Model) {
			cands = append(cands, p)
		}
	}

	switch r.Strategy {
	case StrategyCostOptimized:
		sort.SliceStable(cands, func(i, j int) bool {
			ci, iok := cands[i].(CostEstimator)
			cj, jok := cands[j].(CostEstimator)
			if !iok || !jok {
				return false
			}
			return ci.EstimatedCostPerMillionTokens() < cj.EstimatedCostPerMillionTokens()
		})
	case StrategyLatencyOptimized:
		sort.SliceStable(cands, func(i, j int) bool {
			li, iok := cands[i].(LatencyEstimator)
			lj, jok := cands[j].(LatencyEstimator)
			if !iok || !jok {
				return false
			}
			return li.EstimatedLatencyMs() < lj.EstimatedLatencyMs()
		})
	case StrategyRoundRobin:
		if len(cands) > 0 {
			r.rrMu.Lock()
			offset := int(r.rrNext % uint64(len(cands)))
			r.rrNext++
			r.rrMu.Unlock()
			rotated := make([]Provider, len(cands))
			for i := range cands {
				rotated[i] = cands[(offset+i)%len(cands)]
			}
			cands = rotated
		}
	case StrategyPriority:
		// registration order already reflects priority
	}
	return cands
}

// Route selects candidates for req and attempts them in order up to
// MaxFallbackAttempts, logging and advancing on each failure; if all
// attempted candidates fail, returns the last error.
func (r *Router) Route(ctx context.Context, req Request) (Response, error) {
	cands := r.candidates(req)
	if len(cands) == 0 {
		return Response{}, kernel.NewError(kernel.KindProviderError, "no provider supports model "+req.Model)
	}

	max := r.MaxFallbackAttempts
	if max > len(cands) {
		max = len(cands)
	}

	var attempts []AttemptLog
	var lastErr error
	for i := 0; i < max; i++ {
		if i > 0 {
			if err := r.BackoffPolicy.Sleep(ctx, i-1); err != nil {
				lastErr = err
				break
			}
		}
		p := cands[i]
		resp, err := p.Generate(ctx, req)
		attempts = append(attempts, AttemptLog{ProviderName: p.Name(), Err: err})
		if err == nil {
			resp.ProviderName = p.Name()
			r.recordUsage(req, resp.Usage)
			r.mu.Lock()
			r.lastAttempts = attempts
			r.mu.Unlock()
			return resp, nil
		}
		lastErr = err
	}

	r.mu.Lock()
	r.lastAttempts = attempts
	r.mu.Unlock()
	return Response{}, kernel.Wrap(kernel.KindProviderError, fmt.Sprintf("all %d provider attempts failed for model %s", len(attempts), req.Model), lastErr)
}

// RouteStream selects candidates identically to Route and tries them in
// order up to MaxFallbackAttempts, without backoff between attempts and
// without recording an attempt log. It yields chunks from the first
// provider that begins streaming successfully — there is no mid-stream
// failover.
func (r *Router) RouteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	cands := r.candidates(req)
	if len(cands) == 0 {
		return nil, kernel.NewError(kernel.KindProviderError, "no provider supports model "+req.Model)
	}
	max := r.MaxFallbackAttempts
	if max > len(cands) {
		max = len(cands)
	}

	var lastErr error
	for i := 0; i < max; i++ {
		p := cands[i]
		ch, err := p.GenerateStream(ctx, req)
		if err == nil {
			return r.wrapStreamUsage(req, ch), nil
		}
		lastErr = err
	}
	return nil, kernel.Wrap(kernel.KindProviderError, "all provider stream attempts failed for model "+req.Model, lastErr)
}

func (r *Router) wrapStreamUsage(req Request, in <-chan Chunk) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for c := range in {
			if c.Usage != nil {
				r.recordUsage(req, *c.Usage)
			}
			out <- c
		}
	}()
	return out
}

func (r *Router) recordUsage(req Request, u Usage) {
	if r.budgetMgr == nil || req.AgentID == "" {
		return
	}
	if key := requestDedupeKey(req); key != "" && r.dedupe.Check(key) {
		return
	}
	r.budgetMgr.Record(req.ExecutionID, budget.ScopeAgent, req.AgentID, budget.Usage{
		Tokens: u.PromptTokens + u.CompletionTokens,
	})
}

// requestDedupeKey fingerprints the parts of a Request that determine the
// LLM call it produces, scoped to one execution. Two Route calls from the
// same execution with an identical fingerprint are the same logical node
// call, not two distinct ones — recordUsage uses this to charge budget once.
func requestDedupeKey(req Request) string {
	if req.ExecutionID == "" {
		return ""
	}
	var msgs strings.Builder
	for _, m := range req.Messages {
		msgs.WriteString(m.Role)
		msgs.WriteByte('\x00')
		msgs.WriteString(m.Content)
		msgs.WriteByte('\x1e')
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%.4f|%d|%s",
		req.ExecutionID, req.Model, req.SystemPrompt, req.Temperature, req.MaxTokens, msgs.String())))
	return hex.EncodeToString(sum[:])
}

// LastAttempts returns the attempt log of the most recent Route call, for
// tests and diagnostics.
func (r *Router) LastAttempts() []AttemptLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AttemptLog(nil), r.lastAttempts...)
}

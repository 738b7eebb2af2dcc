// Package memory implements the Memory Manager: a per-execution
// working-memory buffer, a per-session keyed store, and a long-term
// embedding-backed store with semantic search and pruning.
//
// Working memory's token-aware compaction leans on internal/context for
// token-window estimation and internal/compaction for the chunked
// summarization trigger; each Execution Context owns one rolling buffer.
package memory

import (
	"context"
	"sync"

	"github.com/corewire/agentkernel/internal/compaction"
	kcontext "github.com/corewire/agentkernel/internal/context"
)

// WorkingMemory is the rolling turn buffer for one execution.
type WorkingMemory struct {
	mu     sync.Mutex
	turns  []*compaction.Turn
	budget *kcontext.Budget

	summarizer compaction.Summarizer
}

// NewWorkingMemory builds an empty buffer whose token budget is sized to
// modelID's context window. summarizer may be nil; Compact becomes a
// prune-only no-op-safe fallback in that case.
func NewWorkingMemory(modelID string, summarizer compaction.Summarizer) *WorkingMemory {
	return &WorkingMemory{
		budget:     kcontext.NewBudgetForModel(modelID),
		summarizer: summarizer,
	}
}

// AppendMessage adds one turn to the buffer and tracks its token cost.
func (w *WorkingMemory) AppendMessage(turn *compaction.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, turn)
	w.budget.AddText(turn.Content)
}

// GetConversationHistory returns a copy of the buffered turns in order.
func (w *WorkingMemory) GetConversationHistory() []*compaction.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*compaction.Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Compact summarizes the buffer down under maxTokens once its estimated
// cost exceeds the limit. On success the buffer is replaced by
// a single synthetic system turn carrying the summary, followed by
// whatever trailing turns PruneToShare still fit under maxTokens.
func (w *WorkingMemory) Compact(ctx context.Context, maxTokens int) error {
	w.mu.Lock()
	turns := append([]*compaction.Turn(nil), w.turns...)
	window := w.budget.Snapshot().TotalTokens
	w.mu.Unlock()

	if compaction.TotalTokens(turns) <= maxTokens {
		return nil
	}

	plan := compaction.DefaultSummaryPlan()
	plan.ContextWindow = window

	outcome := compaction.PruneToShare(turns, maxTokens, compaction.BaseChunkShare, compaction.DefaultSummaryParts)
	kept := outcome.Turns
	toSummarize := turns[:len(turns)-len(kept)]
	if len(toSummarize) == 0 {
		return nil
	}

	if w.summarizer == nil {
		w.mu.Lock()
		w.turns = append([]*compaction.Turn(nil), kept...)
		w.budget.Reset()
		for _, t := range w.turns {
			w.budget.AddText(t.Content)
		}
		w.mu.Unlock()
		return nil
	}

	summary, err := compaction.Summarize(ctx, toSummarize, w.summarizer, plan)
	if err != nil {
		return err
	}

	summaryTurn := &compaction.Turn{Role: "system", Content: summary}
	w.mu.Lock()
	w.turns = append([]*compaction.Turn{summaryTurn}, kept...)
	w.budget.Reset()
	for _, t := range w.turns {
		w.budget.AddText(t.Content)
	}
	w.mu.Unlock()
	return nil
}

// TokensUsed returns the working buffer's current token-estimate total.
func (w *WorkingMemory) TokensUsed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.budget.Snapshot().UsedTokens
}

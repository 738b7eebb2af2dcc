// Package compaction keeps one Execution Context's working-memory buffer
// under its token budget: it partitions buffered turns into
// chunks a Summarizer can digest, prunes the tail that summarization would
// discard anyway, and merges chunk summaries back into one. Token costs are
// estimated via internal/context.EstimateTokens rather than a second,
// independently-tuned ratio, so a buffer's compaction trigger and its
// Budget.ShouldWarn threshold never disagree about what a turn costs.
package compaction

import (
	"context"
	"fmt"
	"strings"

	kcontext "github.com/corewire/agentkernel/internal/context"
)

// Chunk-sizing and fallback tunables.
const (
	// BaseChunkShare is the default fraction of a context window given to
	// one summarization chunk.
	BaseChunkShare = 0.4

	// MinChunkShare floors AdaptiveChunkShare so chunks never shrink to
	// the point of costing more in per-call overhead than they save.
	MinChunkShare = 0.15

	// estimateSafetyMargin inflates how aggressively AdaptiveChunkShare
	// reacts to large turns, since EstimateTokens is an estimate, not a
	// count.
	estimateSafetyMargin = 1.2

	// FallbackSummary stands in for an empty or entirely-oversized turn set.
	FallbackSummary = "No prior history."

	// DefaultSummaryParts is the default fan-out for SummarizeStaged.
	DefaultSummaryParts = 2

	// OversizeShare is the fraction of a context window above which a
	// single turn is treated as too large to summarize inline.
	OversizeShare = 0.5

	// DefaultMinTurnsForSplit is the buffer size below which
	// SummarizeStaged skips straight to a single-pass summary.
	DefaultMinTurnsForSplit = 4
)

// Turn is one buffered entry in an Execution Context's working memory:
// an LLM exchange, or a tool call/result pair recorded alongside it.
type Turn struct {
	Role        string
	Content     string
	Timestamp   int64
	ID          string
	ToolCalls   string
	ToolResults string
	Metadata    map[string]any
}

// tokenCost is what the turn contributes to EstimateTokens: its content
// plus any serialized tool call/result payload riding along with it.
func (t *Turn) tokenCost() string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.Content)
	b.WriteString(t.ToolCalls)
	b.WriteString(t.ToolResults)
	return b.String()
}

// EstimateTokens delegates to internal/context so a Turn's estimated cost
// always matches how the owning Budget would price the same text.
func EstimateTokens(t *Turn) int {
	return kcontext.EstimateTokens(t.tokenCost())
}

// TotalTokens sums EstimateTokens across turns.
func TotalTokens(turns []*Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t)
	}
	return total
}

// PartitionByTokenShare splits turns into parts groups with roughly equal
// token totals. Unlike a fixed per-part target, the target recomputes
// after each split from whatever tokens remain and how many parts are
// still owed, so a token-heavy early turn doesn't starve every later part.
func PartitionByTokenShare(turns []*Turn, parts int) [][]*Turn {
	if len(turns) == 0 {
		return nil
	}
	if parts <= 0 {
		parts = DefaultSummaryParts
	}
	if parts == 1 || len(turns) < parts {
		return [][]*Turn{turns}
	}

	remainingTokens := TotalTokens(turns)
	remainingParts := parts

	result := make([][]*Turn, 0, parts)
	current := make([]*Turn, 0)
	currentTokens := 0

	for i, t := range turns {
		cost := EstimateTokens(t)
		current = append(current, t)
		currentTokens += cost
		remainingTokens -= cost

		isLast := i == len(turns)-1
		target := 0
		if remainingParts > 1 {
			target = remainingTokens / remainingParts
		}

		if !isLast && remainingParts > 1 && currentTokens >= target && currentTokens > 0 {
			result = append(result, current)
			current = make([]*Turn, 0)
			currentTokens = 0
			remainingParts--
		}
	}

	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// ChunkByBudget splits turns into consecutive chunks, each at or under
// maxTokens; a single turn exceeding maxTokens becomes its own chunk.
func ChunkByBudget(turns []*Turn, maxTokens int) [][]*Turn {
	if len(turns) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]*Turn{turns}
	}

	var chunks [][]*Turn
	flush := func(chunk []*Turn) []*Turn {
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
		return nil
	}

	var chunk []*Turn
	tokens := 0
	for _, t := range turns {
		cost := EstimateTokens(t)

		if cost > maxTokens {
			chunk = flush(chunk)
			tokens = 0
			chunks = append(chunks, []*Turn{t})
			continue
		}

		if tokens+cost > maxTokens && len(chunk) > 0 {
			chunk = flush(chunk)
			tokens = 0
		}

		chunk = append(chunk, t)
		tokens += cost
	}
	flush(chunk)

	return chunks
}

// AdaptiveChunkShare scales BaseChunkShare down as turns grow large
// relative to contextWindow, so chunking responds to how dense the
// buffer actually is rather than a fixed ratio.
func AdaptiveChunkShare(turns []*Turn, contextWindow int) float64 {
	if len(turns) == 0 || contextWindow <= 0 {
		return BaseChunkShare
	}

	avgCost := float64(TotalTokens(turns)) / float64(len(turns))
	densityRatio := avgCost / float64(contextWindow) * estimateSafetyMargin

	share := BaseChunkShare * (1 - densityRatio)
	if share < MinChunkShare {
		return MinChunkShare
	}
	if share > BaseChunkShare {
		return BaseChunkShare
	}
	return share
}

// IsOversizeTurn reports whether t alone exceeds OversizeShare of
// contextWindow, making it unsafe to fold into a normal summarization pass.
func IsOversizeTurn(t *Turn, contextWindow int) bool {
	if t == nil || contextWindow <= 0 {
		return false
	}
	return float64(EstimateTokens(t)) > float64(contextWindow)*OversizeShare
}

// SummaryPlan parameterizes one summarization pass.
type SummaryPlan struct {
	Model              string
	APIKey             string
	ReserveTokens      int
	MaxChunkTokens     int
	ContextWindow      int
	CustomInstructions string
	PreviousSummary    string
	Parts              int
	MinTurnsForSplit   int
}

// DefaultSummaryPlan returns sensible defaults, sourcing ContextWindow from
// internal/context's default rather than a second hardcoded figure, so a
// caller that never overrides it still agrees with the Budget it compacts
// against.
func DefaultSummaryPlan() *SummaryPlan {
	return &SummaryPlan{
		ReserveTokens:    2000,
		MaxChunkTokens:   20000,
		ContextWindow:    kcontext.DefaultTokenBudget,
		Parts:            DefaultSummaryParts,
		MinTurnsForSplit: DefaultMinTurnsForSplit,
	}
}

// Summarizer generates a natural-language summary of a run of turns.
type Summarizer interface {
	GenerateSummary(ctx context.Context, turns []*Turn, plan *SummaryPlan) (string, error)
}

func resolveChunkTokenLimit(plan *SummaryPlan) int {
	if plan.MaxChunkTokens > 0 {
		return plan.MaxChunkTokens
	}
	return int(float64(plan.ContextWindow) * BaseChunkShare)
}

// SummarizeInChunks chunks turns by resolveChunkTokenLimit, summarizes each
// chunk independently, then merges the chunk summaries into one.
func SummarizeInChunks(ctx context.Context, turns []*Turn, summarizer Summarizer, plan *SummaryPlan) (string, error) {
	if len(turns) == 0 {
		return FallbackSummary, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("compaction: summarizer is nil")
	}
	if plan == nil {
		plan = DefaultSummaryPlan()
	}

	chunks := ChunkByBudget(turns, resolveChunkTokenLimit(plan))
	if len(chunks) == 0 {
		return FallbackSummary, nil
	}
	if len(chunks) == 1 {
		return summarizer.GenerateSummary(ctx, chunks[0], plan)
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := summarizer.GenerateSummary(ctx, chunk, plan)
		if err != nil {
			return "", fmt.Errorf("compaction: summarizing chunk %d: %w", i, err)
		}
		chunkSummaries = append(chunkSummaries, summary)
	}

	return mergeChunkSummaries(ctx, chunkSummaries, summarizer, plan)
}

// mergeChunkSummaries folds multiple chunk summaries into one by feeding
// them back through the Summarizer as synthetic system turns.
func mergeChunkSummaries(ctx context.Context, summaries []string, summarizer Summarizer, plan *SummaryPlan) (string, error) {
	if len(summaries) == 0 {
		return FallbackSummary, nil
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	mergeTurns := make([]*Turn, len(summaries))
	for i, s := range summaries {
		mergeTurns[i] = &Turn{Role: "system", Content: fmt.Sprintf("chunk %d summary:\n%s", i+1, s)}
	}

	mergePlan := *plan
	mergePlan.CustomInstructions = "combine these chunk summaries into one coherent summary, preserving chronological order"
	if plan.CustomInstructions != "" {
		mergePlan.CustomInstructions = plan.CustomInstructions + "\n\n" + mergePlan.CustomInstructions
	}

	return summarizer.GenerateSummary(ctx, mergeTurns, &mergePlan)
}

// Summarize runs SummarizeInChunks over turns that fit inline, and appends
// a note in place of any turn IsOversizeTurn flags rather than failing the
// whole pass on it.
func Summarize(ctx context.Context, turns []*Turn, summarizer Summarizer, plan *SummaryPlan) (string, error) {
	if len(turns) == 0 {
		return FallbackSummary, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("compaction: summarizer is nil")
	}
	if plan == nil {
		plan = DefaultSummaryPlan()
	}

	var normal []*Turn
	var oversizeNotes []string
	for _, t := range turns {
		if IsOversizeTurn(t, plan.ContextWindow) {
			oversizeNotes = append(oversizeNotes, fmt.Sprintf("[oversize %s turn, %d estimated tokens, content omitted]", t.Role, EstimateTokens(t)))
			continue
		}
		normal = append(normal, t)
	}

	summary := FallbackSummary
	if len(normal) > 0 {
		var err error
		summary, err = SummarizeInChunks(ctx, normal, summarizer, plan)
		if err != nil {
			return "", fmt.Errorf("compaction: summarizing turns: %w", err)
		}
	}

	if len(oversizeNotes) > 0 {
		summary = summary + "\n\n" + strings.Join(oversizeNotes, "\n")
	}
	return summary, nil
}

// SummarizeStaged splits turns into plan.Parts roughly-equal partitions,
// summarizes each independently via Summarize, then merges the partition
// summaries — useful for a buffer long enough that the parts can be
// summarized as independent work rather than one long chunked pass.
func SummarizeStaged(ctx context.Context, turns []*Turn, summarizer Summarizer, plan *SummaryPlan) (string, error) {
	if len(turns) == 0 {
		return FallbackSummary, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("compaction: summarizer is nil")
	}
	if plan == nil {
		plan = DefaultSummaryPlan()
	}

	parts := plan.Parts
	if parts <= 0 {
		parts = DefaultSummaryParts
	}
	minTurns := plan.MinTurnsForSplit
	if minTurns <= 0 {
		minTurns = DefaultMinTurnsForSplit
	}
	if len(turns) < minTurns {
		return Summarize(ctx, turns, summarizer, plan)
	}

	partitions := PartitionByTokenShare(turns, parts)
	if len(partitions) <= 1 {
		return Summarize(ctx, turns, summarizer, plan)
	}

	partSummaries := make([]string, 0, len(partitions))
	for i, partition := range partitions {
		summary, err := Summarize(ctx, partition, summarizer, plan)
		if err != nil {
			return "", fmt.Errorf("compaction: summarizing partition %d: %w", i, err)
		}
		partSummaries = append(partSummaries, summary)
	}

	if plan.PreviousSummary != "" && plan.PreviousSummary != FallbackSummary {
		partSummaries = append([]string{plan.PreviousSummary}, partSummaries...)
	}

	return mergeChunkSummaries(ctx, partSummaries, summarizer, plan)
}

// PruneOutcome reports what PruneToShare kept and dropped.
type PruneOutcome struct {
	Turns         []*Turn
	DroppedChunks int
	DroppedTurns  int
	DroppedTokens int
	KeptTokens    int
	BudgetTokens  int
}

// PruneToShare keeps the most recent turns fitting within
// maxHistoryShare of maxContextTokens, dropping the oldest first. parts
// partitions the original turns (via PartitionByTokenShare) purely to
// report DroppedChunks — how many whole partitions were dropped entirely
// — without needing pointer identity between the original and kept slices.
func PruneToShare(turns []*Turn, maxContextTokens int, maxHistoryShare float64, parts int) *PruneOutcome {
	outcome := &PruneOutcome{Turns: turns, BudgetTokens: maxContextTokens}

	if len(turns) == 0 || maxContextTokens <= 0 {
		return outcome
	}
	if maxHistoryShare <= 0 || maxHistoryShare > 1 {
		maxHistoryShare = 1.0
	}

	budgetTokens := int(float64(maxContextTokens) * maxHistoryShare)
	outcome.BudgetTokens = budgetTokens

	totalTokens := TotalTokens(turns)
	if totalTokens <= budgetTokens {
		outcome.KeptTokens = totalTokens
		return outcome
	}

	keptFromIndex := len(turns)
	keptTokens := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := EstimateTokens(turns[i])
		if keptTokens+cost > budgetTokens {
			break
		}
		keptTokens += cost
		keptFromIndex = i
	}

	kept := turns[keptFromIndex:]
	droppedCount := keptFromIndex
	droppedTokens := totalTokens - keptTokens

	droppedChunks := 0
	if parts > 0 && droppedCount > 0 {
		dropped := 0
		for _, chunk := range PartitionByTokenShare(turns, parts) {
			if dropped+len(chunk) <= droppedCount {
				droppedChunks++
				dropped += len(chunk)
				continue
			}
			break
		}
	}

	outcome.Turns = kept
	outcome.DroppedChunks = droppedChunks
	outcome.DroppedTurns = droppedCount
	outcome.DroppedTokens = droppedTokens
	outcome.KeptTokens = keptTokens
	return outcome
}

// FormatTurnsForSummary renders turns into the plain-text block a
// Summarizer implementation typically feeds to its own prompt.
func FormatTurnsForSummary(turns []*Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t == nil {
			continue
		}
		fmt.Fprintf(&b, "[%s]: %s", t.Role, t.Content)
		if t.ToolCalls != "" {
			fmt.Fprintf(&b, "\n  [tool calls: %s]", clipString(t.ToolCalls, 200))
		}
		if t.ToolResults != "" {
			fmt.Fprintf(&b, "\n  [tool results: %s]", clipString(t.ToolResults, 200))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func clipString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

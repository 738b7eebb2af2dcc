package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Embedder is the externally-provided embedding port, narrowed to the
// single call the Long-term memory layer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorMatch is one hit returned by a Vector Store search.
type VectorMatch struct {
	ID    string
	Score float64
}

// VectorStore is the externally-provided vector index port.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vec []float32, meta map[string]any) error
	Search(ctx context.Context, vec []float32, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, id string) error
}

// PruneStrategy is the closed set of long-term memory pruning strategies.
type PruneStrategy string

const (
	PruneDecay     PruneStrategy = "decay"
	PruneTTL       PruneStrategy = "ttl"
	PruneSummarize PruneStrategy = "summarize"
	PruneManual    PruneStrategy = "manual"
)

// LongTerm is the embed-then-upsert, semantic-search memory layer over
// kernel.MemoryItem records carrying importance/type/scope.
type LongTerm struct {
	embedder Embedder
	store    VectorStore

	mu    sync.RWMutex
	items map[string]*kernel.MemoryItem
}

// NewLongTerm builds a long-term memory layer. embedder and store may be
// nil in tests that only exercise the in-process item index.
func NewLongTerm(embedder Embedder, store VectorStore) *LongTerm {
	return &LongTerm{embedder: embedder, store: store, items: make(map[string]*kernel.MemoryItem)}
}

// Store embeds item.Content and upserts item into the vector store and
// the in-process index.
func (lt *LongTerm) Store(ctx context.Context, item *kernel.MemoryItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.UpdatedAt = time.Now()

	if lt.embedder != nil {
		vec, err := lt.embedder.Embed(ctx, item.Content)
		if err != nil {
			return kernel.Wrap(kernel.KindProviderError, "embed memory item", err)
		}
		item.Embedding = vec
	}

	lt.mu.Lock()
	lt.items[item.ID] = item
	lt.mu.Unlock()

	if lt.store != nil && item.Embedding != nil {
		meta := map[string]any{
			"agentId":   item.AgentID,
			"scope":     item.Scope,
			"type":      string(item.Type),
			"updatedAt": item.UpdatedAt,
		}
		if err := lt.store.Upsert(ctx, item.ID, item.Embedding, meta); err != nil {
			return kernel.Wrap(kernel.KindProviderError, "upsert memory item", err)
		}
	}
	return nil
}

// SearchResult pairs a MemoryItem with its similarity score.
type SearchResult struct {
	Item  *kernel.MemoryItem
	Score float64
}

// SearchSemantic embeds query, searches the vector store, and returns
// results ordered by descending cosine similarity with ties broken by most
// recent UpdatedAt.
func (lt *LongTerm) SearchSemantic(ctx context.Context, agentID, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if lt.embedder == nil || lt.store == nil {
		return lt.bruteForceSearch(agentID, query, topK), nil
	}

	vec, err := lt.embedder.Embed(ctx, query)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "embed query", err)
	}
	matches, err := lt.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "vector search", err)
	}

	lt.mu.RLock()
	defer lt.mu.RUnlock()
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		item, ok := lt.items[m.ID]
		if !ok || item.AgentID != agentID {
			continue
		}
		out = append(out, SearchResult{Item: item, Score: m.Score})
	}
	sortResults(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// bruteForceSearch is the fallback used when no embedder/vector store is
// configured: a content-length overlap score (1 for an exact match) over
// the agent's indexed items, with or without an embedding, so unit tests
// can exercise ranking without live ports.
func (lt *LongTerm) bruteForceSearch(agentID, query string, topK int) []SearchResult {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	var out []SearchResult
	for _, item := range lt.items {
		if item.AgentID != agentID {
			continue
		}
		out = append(out, SearchResult{Item: item, Score: textOverlapScore(item.Content, query)})
	}
	sortResults(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.UpdatedAt.After(results[j].Item.UpdatedAt)
	})
}

func textOverlapScore(content, query string) float64 {
	if content == query {
		return 1
	}
	if len(content) == 0 || len(query) == 0 {
		return 0
	}
	return 1 / (1 + math.Abs(float64(len(content)-len(query))))
}

// CosineSimilarity computes cosine similarity between two embeddings.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Prune applies strategy to agentID's items, removing those that fall
// below threshold importance (decay/manual) or past their TTL (ttl). The
// summarize strategy is a caller-driven operation: Prune returns the items
// selected for summarization without removing them, since producing the
// summary requires an LLM call outside this package's scope.
func (lt *LongTerm) Prune(ctx context.Context, agentID string, strategy PruneStrategy, threshold float64, ttl time.Duration) ([]*kernel.MemoryItem, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	var affected []*kernel.MemoryItem
	now := time.Now()
	for id, item := range lt.items {
		if item.AgentID != agentID {
			continue
		}
		switch strategy {
		case PruneDecay, PruneManual:
			if item.Importance < threshold {
				affected = append(affected, item)
				delete(lt.items, id)
				if lt.store != nil {
					_ = lt.store.Delete(ctx, id)
				}
			}
		case PruneTTL:
			if ttl > 0 && now.Sub(item.UpdatedAt) > ttl {
				affected = append(affected, item)
				delete(lt.items, id)
				if lt.store != nil {
					_ = lt.store.Delete(ctx, id)
				}
			}
		case PruneSummarize:
			if item.Importance < threshold {
				affected = append(affected, item)
			}
		}
	}
	return affected, nil
}

// Get returns one item by id, for tests and replay.
func (lt *LongTerm) Get(id string) (*kernel.MemoryItem, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	item, ok := lt.items[id]
	return item, ok
}

// Package search ranks stored chunks against a query. Hybrid search blends
// vector similarity with keyword presence; semantic search uses similarity
// alone with an optional floor.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/draftforge/draftforge/internal/chunker"
	"github.com/draftforge/draftforge/internal/vectorstore"
)

// Default ranking parameters.
const (
	// DefaultVectorWeight is the hybrid blend applied when the caller does
	// not supply one.
	DefaultVectorWeight = 0.7

	// DefaultTopK bounds results when the caller does not supply a limit.
	DefaultTopK = 5

	// maxQueryKeywords caps how many query tokens participate in keyword
	// scoring.
	maxQueryKeywords = 10

	// overFetchFactor widens the vector candidate set so keyword scoring can
	// promote entries that pure similarity would cut.
	overFetchFactor = 2
)

// VectorQuerier is the slice of the vector store the engine needs.
type VectorQuerier interface {
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Match, error)
}

// Embedder turns a query string into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Result is one ranked chunk.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]any

	// Score is the value the results are ordered by: the blended score for
	// hybrid search, the similarity for semantic search.
	Score float64

	VectorScore  float64
	KeywordScore float64
}

// Options tunes a search call. Unset fields fall back to defaults.
type Options struct {
	// TopK is the maximum number of results.
	TopK int

	// VectorWeight is the hybrid blend factor in [0, 1]: 1 ranks purely by
	// similarity, 0 purely by keyword overlap. Nil applies
	// DefaultVectorWeight; an explicit 0 is honored.
	VectorWeight *float64

	// MinSimilarity discards semantic results below this similarity. Hybrid
	// search ignores it.
	MinSimilarity float64
}

// Engine executes searches over one vector store.
type Engine struct {
	store    VectorQuerier
	embedder Embedder
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store VectorQuerier, embedder Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, logger: logger}
}

// Hybrid ranks chunks by a blend of vector similarity and keyword overlap.
// The candidate set is over-fetched from the vector store at twice the
// requested size, rescored, and truncated, so a chunk with strong keyword
// overlap can outrank a nearer neighbour.
func (e *Engine) Hybrid(ctx context.Context, collection, query string, opts Options) ([]Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	weight := DefaultVectorWeight
	if opts.VectorWeight != nil {
		weight = *opts.VectorWeight
	}
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("search: vector weight %v out of range [0,1]", weight)
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.store.Query(ctx, collection, vector, topK*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	keywords := chunker.ExtractKeywords(query, maxQueryKeywords)

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		vectorScore := 1 - m.Distance
		keywordScore := keywordOverlap(m.Content, keywords)
		results = append(results, Result{
			ID:           m.ID,
			Content:      m.Content,
			Metadata:     m.Metadata,
			Score:        weight*vectorScore + (1-weight)*keywordScore,
			VectorScore:  vectorScore,
			KeywordScore: keywordScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	e.logger.Debug("hybrid search",
		"collection", collection,
		"candidates", len(matches),
		"returned", len(results),
		"keywords", len(keywords))
	return results, nil
}

// Semantic ranks chunks by vector similarity only, dropping results below
// the similarity floor.
func (e *Engine) Semantic(ctx context.Context, collection, query string, opts Options) ([]Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.store.Query(ctx, collection, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		similarity := 1 - m.Distance
		if similarity < opts.MinSimilarity {
			continue
		}
		results = append(results, Result{
			ID:          m.ID,
			Content:     m.Content,
			Metadata:    m.Metadata,
			Score:       similarity,
			VectorScore: similarity,
		})
	}
	return results, nil
}

// keywordOverlap scores how many query keywords appear in content, each
// counted once, normalized by the keyword count. No keywords means zero.
func keywordOverlap(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	lowered := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

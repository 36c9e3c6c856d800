package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// Engine runs semantic searches. It is safe for concurrent use when its
// dependencies are.
type Engine struct {
	embedder embed.Embedder
	vectors  VectorSearcher
	resolver ChunkResolver
	state    StateReader
	config   Config
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithStateReader enables the check that the query embedder matches the
// dimensions the index was built with.
func WithStateReader(s StateReader) EngineOption {
	return func(e *Engine) {
		e.state = s
	}
}

// NewEngine creates a search engine.
func NewEngine(embedder embed.Embedder, vectors VectorSearcher, resolver ChunkResolver, config Config, opts ...EngineOption) (*Engine, error) {
	if embedder == nil || vectors == nil || resolver == nil {
		return nil, perrors.ValidationError("search engine requires an embedder, a vector searcher and a chunk resolver", nil)
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxLimit
	}

	e := &Engine{
		embedder: embedder,
		vectors:  vectors,
		resolver: resolver,
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search embeds query and returns its k nearest chunks, closest first.
// Hits are resolved to text one at a time as the Results are iterated.
// No hits is an empty Results, not an error.
func (e *Engine) Search(ctx context.Context, query string, k int) (*Results, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, perrors.ValidationError("query must not be empty", nil)
	}
	if k <= 0 {
		return nil, perrors.ValidationError(fmt.Sprintf("result count must be positive, got %d", k), nil)
	}
	if k > e.config.MaxLimit {
		slog.Debug("result count capped", slog.Int("requested", k), slog.Int("max", e.config.MaxLimit))
		k = e.config.MaxLimit
	}

	if err := e.validateDimensions(ctx); err != nil {
		return nil, err
	}

	vector, err := e.embedder.Embed(ctx, e.config.QueryPrefix+query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	slog.Debug("search_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("k", k),
		slog.Int("hits", len(hits)),
		slog.Duration("latency", time.Since(start)))

	return &Results{hits: hits, resolver: e.resolver}, nil
}

// validateDimensions rejects queries from an embedder other than the one
// the index was built with. Without recorded state every query is allowed.
func (e *Engine) validateDimensions(ctx context.Context) error {
	if e.state == nil {
		return nil
	}
	stored, err := e.state.GetState(ctx, store.StateKeyEmbeddingDimensions)
	if err != nil || stored == "" {
		return nil
	}
	indexDims, err := strconv.Atoi(stored)
	if err != nil {
		slog.Warn("invalid stored index dimension", slog.String("value", stored))
		return nil
	}

	if current := e.embedder.Dimensions(); current != indexDims {
		model, _ := e.state.GetState(ctx, store.StateKeyEmbeddingModel)
		return perrors.Newf(perrors.ErrCodeDimensionMismatch,
			"index has %d dimensions (%s), but the current embedder has %d (%s)",
			indexDims, model, current, e.embedder.ModelName()).
			WithSuggestion("Rebuild the index with 'pagesearch index --force' or switch back to the original embedder")
	}
	return nil
}

func truncateQuery(q string, n int) string {
	if len(q) <= n {
		return q
	}
	return q[:n] + "..."
}

// Package search answers natural-language queries against the index: the
// query is embedded, its nearest chunk vectors are found, and each hit is
// resolved lazily back to its document, page and text.
package search

import (
	"context"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// Default limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// VectorSearcher finds the nearest stored vectors to a query vector.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// ChunkResolver maps a chunk ID to its source location and text.
type ChunkResolver interface {
	GetDocument(ctx context.Context, chunkID int64) (*store.ChunkRef, error)
}

// StateReader exposes index state recorded at indexing time.
type StateReader interface {
	GetState(ctx context.Context, key string) (string, error)
}

// Config configures the engine.
type Config struct {
	// QueryPrefix is prepended to every query before embedding. Passages
	// are embedded without it.
	QueryPrefix string

	// MaxLimit caps k (default: 100).
	MaxLimit int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		QueryPrefix: embed.DefaultQueryPrefix,
		MaxLimit:    MaxLimit,
	}
}

// Result is one resolved search hit.
type Result struct {
	Distance float32 // cosine distance, lower is closer
	Score    float32 // similarity in [0, 1]
	ChunkID  int64
	Path     string
	PageNo   int // 0-based
	Text     string
}

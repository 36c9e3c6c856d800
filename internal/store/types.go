// Package store provides the two persistence layers of the index: relational
// metadata in SQLite (documents, pages, chunks) and the HNSW vector index.
//
// The two stores share one identifier space: the vector key of every
// embedding is the primary key of its row in the chunks table.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// State keys for the metadata store.
const (
	// StateKeyEmbeddingModel stores the embedder model the index was built with.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDimensions stores the embedding dimension of the index.
	StateKeyEmbeddingDimensions = "embedding_dimensions"
)

// ErrNotFound matches, via errors.Is, any lookup that found no row.
var ErrNotFound = perrors.Sentinel(perrors.ErrCodeNotFound)

// Document is one indexed source file.
type Document struct {
	ID        int64
	Path      string // canonical absolute path
	IndexedAt time.Time
	Pages     int
	Chunks    int
}

// Page is the extracted text of one page of a document.
type Page struct {
	ID         int64
	DocumentID int64
	PageNo     int // 0-based position in the source
	Text       string
}

// ChunkRef is a chunk resolved back to its source location and text.
type ChunkRef struct {
	ChunkID int64
	Path    string
	PageNo  int
	Span    chunk.Span
	Text    string
}

// Stats holds row counts of the metadata store.
type Stats struct {
	Documents int
	Pages     int
	Chunks    int
}

// MetadataStore persists documents, pages and chunks.
type MetadataStore interface {
	DocumentExists(ctx context.Context, path string) (bool, error)
	BeginTx(ctx context.Context) (*Tx, error)
	GetDocument(ctx context.Context, chunkID int64) (*ChunkRef, error)
	ChunkIDs(ctx context.Context) ([]int64, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DocumentPages(ctx context.Context, path string) ([]*Page, error)
	Stats(ctx context.Context) (*Stats, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	Close() error
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	Key      uint64  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for nomic-embed-text and bge-base).
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore is a nearest-neighbour index keyed by caller-chosen uint64
// identifiers. It never generates keys itself.
type VectorStore interface {
	// Reserve grows capacity by additional vectors. Add fails once
	// capacity is used up.
	Reserve(additional int)

	// Add inserts one vector under key.
	Add(ctx context.Context, key uint64, vector []float32) error

	// Search finds the k nearest neighbours of query, closest first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by key. Unknown keys are ignored.
	Delete(ctx context.Context, keys []uint64) error

	// Keys returns every stored key in ascending order.
	Keys() []uint64

	// MaxKey returns the largest stored key, or 0 when empty.
	MaxKey() uint64

	// Contains checks if key exists.
	Contains(key uint64) bool

	// Len returns the number of stored vectors.
	Len() int

	// Capacity returns the number of vectors that fit without Reserve.
	Capacity() int

	// Dimensions returns the configured vector dimension.
	Dimensions() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'pagesearch index --force')", e.Expected, e.Got)
}

// Is makes ErrDimensionMismatch match perrors.ErrCodeDimensionMismatch.
func (e ErrDimensionMismatch) Is(target error) bool {
	return perrors.GetCode(target) == perrors.ErrCodeDimensionMismatch
}

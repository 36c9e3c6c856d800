package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose chunk row does not exist.
	// Left behind by a crash between saving vectors and committing rows.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a chunk row with no vector.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID int64
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Chunks is the number of chunk rows in the metadata store.
	Chunks int
	// Vectors is the number of vectors in the vector index.
	Vectors int
	// Inconsistencies contains all detected issues, orphans first.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// Count returns the number of issues of type t.
func (r *CheckResult) Count(t InconsistencyType) int {
	n := 0
	for _, issue := range r.Inconsistencies {
		if issue.Type == t {
			n++
		}
	}
	return n
}

// RepairResult summarizes a repair.
type RepairResult struct {
	OrphansRemoved    int
	VectorsReembedded int
}

// ConsistencyChecker compares the chunk IDs of the metadata store (the
// source of truth) with the keys of the vector index.
type ConsistencyChecker struct {
	metadata  store.MetadataStore
	vectors   store.VectorStore
	embedder  embed.Embedder
	indexPath string
	batchSize int
}

// NewConsistencyChecker creates a checker. embedder is only needed by
// Repair to re-embed missing vectors; indexPath, when set, is where the
// repaired vector index is saved.
func NewConsistencyChecker(metadata store.MetadataStore, vectors store.VectorStore, embedder embed.Embedder, indexPath string) *ConsistencyChecker {
	return &ConsistencyChecker{
		metadata:  metadata,
		vectors:   vectors,
		embedder:  embedder,
		indexPath: indexPath,
		batchSize: DefaultBatchSize,
	}
}

// Check scans both stores for inconsistencies.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	ids, err := c.metadata.ChunkIDs(ctx)
	if err != nil {
		return nil, err
	}
	keys := c.vectors.Keys()

	rows := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		rows[uint64(id)] = true
	}

	var issues []Inconsistency
	for _, key := range keys {
		if !rows[key] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ChunkID: int64(key)})
		}
	}
	for _, id := range ids {
		if !c.vectors.Contains(uint64(id)) {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ChunkID: id})
		}
	}

	return &CheckResult{
		Chunks:          len(ids),
		Vectors:         len(keys),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// QuickCheck only compares counts. A true result does not rule out an
// orphan and a missing vector cancelling out.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	stats, err := c.metadata.Stats(ctx)
	if err != nil {
		return false, err
	}
	consistent := stats.Chunks == c.vectors.Len()
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("chunks", stats.Chunks),
			slog.Int("vectors", c.vectors.Len()))
	}
	return consistent, nil
}

// Repair fixes the given issues: orphan vectors are deleted and missing
// vectors are re-embedded from the stored chunk text.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (*RepairResult, error) {
	var orphans []uint64
	var missing []int64
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, uint64(issue.ChunkID))
		case InconsistencyMissingVector:
			missing = append(missing, issue.ChunkID)
		}
	}

	result := &RepairResult{}
	if len(orphans) > 0 {
		if err := c.vectors.Delete(ctx, orphans); err != nil {
			return result, err
		}
		result.OrphansRemoved = len(orphans)
		slog.Info("deleted orphan vectors", slog.Int("count", len(orphans)))
	}

	if len(missing) > 0 {
		if c.embedder == nil {
			return result, perrors.InternalError("repairing missing vectors requires an embedder", nil)
		}
		for from := 0; from < len(missing); from += c.batchSize {
			batch := missing[from:min(from+c.batchSize, len(missing))]
			if err := c.reembed(ctx, batch); err != nil {
				return result, err
			}
			result.VectorsReembedded += len(batch)
		}
		slog.Info("re-embedded missing vectors", slog.Int("count", len(missing)))
	}

	if c.indexPath != "" && (result.OrphansRemoved > 0 || result.VectorsReembedded > 0) {
		if err := c.vectors.Save(c.indexPath); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (c *ConsistencyChecker) reembed(ctx context.Context, ids []int64) error {
	texts := make([]string, len(ids))
	for i, id := range ids {
		ref, err := c.metadata.GetDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve chunk %d: %w", id, err)
		}
		texts[i] = ref.Text
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(ids) {
		return perrors.Newf(perrors.ErrCodeEmbeddingFailed,
			"embedder returned %d vectors for %d chunks", len(vectors), len(ids))
	}

	c.vectors.Reserve(len(ids))
	for i, id := range ids {
		if err := c.vectors.Add(ctx, uint64(id), vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

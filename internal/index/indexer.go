// Package index turns source documents into rows in the metadata store and
// vectors in the vector index, keeping the two in step.
//
// Each document is indexed inside one metadata transaction. Vectors are
// added and the vector index saved before that transaction commits, so a
// crash can leave orphan vectors (harmless, removed by the consistency
// checker) but never chunk rows without vectors.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/extract"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/internal/ui"
)

// DefaultBatchSize is the number of chunks embedded per EmbedBatch call.
const DefaultBatchSize = 256

// MetadataWriter is the part of the metadata store the indexer writes to.
type MetadataWriter interface {
	DocumentExists(ctx context.Context, path string) (bool, error)
	BeginTx(ctx context.Context) (*store.Tx, error)
}

// VectorIndex is the part of the vector store the indexer writes to.
type VectorIndex interface {
	Reserve(additional int)
	Add(ctx context.Context, key uint64, vector []float32) error
	Delete(ctx context.Context, keys []uint64) error
	MaxKey() uint64
	Save(path string) error
}

// Options configures an Indexer.
type Options struct {
	// ChunkSize is the window length in grapheme clusters (default: 512).
	ChunkSize int

	// ChunkStride is the window step in grapheme clusters (default: 64).
	ChunkStride int

	// BatchSize is the number of chunks embedded together (default: 256).
	BatchSize int

	// IndexPath is where the vector index is saved before each commit.
	// Empty keeps the index in memory only.
	IndexPath string

	// Force re-indexes documents that are already present.
	Force bool

	// Renderer receives progress. Nil discards it.
	Renderer ui.Renderer
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunk.DefaultSize
	}
	if o.ChunkStride <= 0 {
		o.ChunkStride = chunk.DefaultStride
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Renderer == nil {
		o.Renderer = ui.NopRenderer{}
	}
	return o
}

// Indexer runs the extract, chunk, embed and store pipeline.
// It is not safe for concurrent use.
type Indexer struct {
	source   extract.Source
	embedder embed.Embedder
	metadata MetadataWriter
	vectors  VectorIndex
	opts     Options
}

// New creates an Indexer.
func New(source extract.Source, embedder embed.Embedder, metadata MetadataWriter, vectors VectorIndex, opts Options) (*Indexer, error) {
	if source == nil || embedder == nil || metadata == nil || vectors == nil {
		return nil, perrors.ValidationError("indexer requires a source, an embedder and both stores", nil)
	}
	opts = opts.withDefaults()
	if opts.ChunkStride > opts.ChunkSize {
		slog.Warn("chunk stride exceeds chunk size, text between windows will not be indexed",
			slog.Int("size", opts.ChunkSize),
			slog.Int("stride", opts.ChunkStride))
	}
	return &Indexer{
		source:   source,
		embedder: embedder,
		metadata: metadata,
		vectors:  vectors,
		opts:     opts,
	}, nil
}

// IndexFiles indexes each path in turn. A failing document is logged,
// recorded in the report and skipped; the run always continues.
func (ix *Indexer) IndexFiles(ctx context.Context, paths []string) *Report {
	return ix.run(ctx, paths, ix.opts.Force)
}

// Reindex indexes paths, replacing documents that are already indexed.
func (ix *Indexer) Reindex(ctx context.Context, paths []string) *Report {
	return ix.run(ctx, paths, true)
}

func (ix *Indexer) run(ctx context.Context, paths []string, force bool) *Report {
	report := &Report{RunID: uuid.NewString()}
	start := time.Now()
	logger := slog.With(slog.String("run_id", report.RunID))

	logger.Info("index run started",
		slog.Int("files", len(paths)),
		slog.Bool("force", force),
		slog.String("embedder", ix.embedder.ModelName()))

	for i, path := range paths {
		if ctx.Err() != nil {
			report.add(FileResult{Path: path, Status: StatusFailed, Err: ctx.Err()})
			continue
		}

		ix.opts.Renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageExtracting,
			Current:     i + 1,
			Total:       len(paths),
			CurrentFile: path,
		})

		result := ix.indexFile(ctx, logger, path, force, i+1, len(paths))
		report.add(result)

		switch result.Status {
		case StatusFailed:
			ix.opts.Renderer.AddError(ui.ErrorEvent{File: result.Path, Err: result.Err})
		case StatusMissing, StatusSkipped:
			ix.opts.Renderer.AddError(ui.ErrorEvent{File: result.Path, Err: result.Err, IsWarn: true})
		}
	}

	report.Duration = time.Since(start)
	logger.Info("index run finished",
		slog.Int("indexed", report.Indexed),
		slog.Int("skipped", report.Skipped),
		slog.Int("missing", report.Missing),
		slog.Int("failed", report.Failed),
		slog.Int("chunks", report.Chunks),
		slog.Duration("duration", report.Duration))

	return report
}

func (ix *Indexer) indexFile(ctx context.Context, logger *slog.Logger, path string, force bool, current, total int) FileResult {
	start := time.Now()

	canonical, err := Canonicalize(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("file not found, skipping", slog.String("path", path))
			return FileResult{Path: path, Status: StatusMissing, Err: perrors.New(perrors.ErrCodeFileNotFound, "file not found: "+path, err)}
		}
		return FileResult{Path: path, Status: StatusFailed, Err: err}
	}

	exists, err := ix.metadata.DocumentExists(ctx, canonical)
	if err != nil {
		logger.Error("document indexing failed", slog.String("path", canonical), slog.Any("error", perrors.FormatForLog(err)))
		return FileResult{Path: canonical, Status: StatusFailed, Err: err}
	}
	if exists && !force {
		logger.Warn("document already indexed, skipping", slog.String("path", canonical))
		return FileResult{
			Path:   canonical,
			Status: StatusSkipped,
			Err:    fmt.Errorf("already indexed (use --force to re-index)"),
		}
	}

	pages, chunks, err := ix.indexDocument(ctx, logger, canonical, exists, current, total)
	result := FileResult{Path: canonical, Pages: pages, Chunks: chunks, Duration: time.Since(start)}
	if err != nil {
		logger.Error("document indexing failed",
			slog.String("path", canonical),
			slog.Any("error", perrors.FormatForLog(err)))
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	logger.Info("document indexed",
		slog.String("path", canonical),
		slog.Int("pages", pages),
		slog.Int("chunks", chunks),
		slog.Duration("duration", result.Duration))
	result.Status = StatusIndexed
	return result
}

// indexDocument writes one document. On any error the transaction is rolled
// back and the vectors added so far are removed again.
func (ix *Indexer) indexDocument(ctx context.Context, logger *slog.Logger, path string, replace bool, current, total int) (pages, chunks int, err error) {
	tx, err := ix.metadata.BeginTx(ctx)
	if err != nil {
		return 0, 0, err
	}

	var added []uint64
	saved, committed := false, false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn("rollback failed", slog.String("path", path), slog.String("error", rbErr.Error()))
		}
		if len(added) == 0 {
			return
		}
		if delErr := ix.vectors.Delete(context.WithoutCancel(ctx), added); delErr != nil {
			logger.Warn("failed to remove vectors of failed document",
				slog.String("path", path),
				slog.Int("count", len(added)),
				slog.String("error", delErr.Error()))
			return
		}
		if saved {
			if saveErr := ix.save(); saveErr != nil {
				logger.Warn("failed to save vector index", slog.String("error", saveErr.Error()))
			}
		}
	}()

	// Vectors saved by a document that never committed keep their keys on
	// disk, and the rollback handed their ids back to the sequence.
	if err := tx.AdvanceChunkIDs(ctx, int64(ix.vectors.MaxKey())); err != nil {
		return 0, 0, err
	}

	var stale []int64
	if replace {
		if stale, err = tx.DeleteDocument(ctx, path); err != nil {
			return 0, 0, err
		}
	}

	docID, err := tx.InsertDocument(ctx, path)
	if err != nil {
		return 0, 0, err
	}

	for text, pageErr := range ix.source.Pages(ctx, path) {
		if pageErr != nil {
			return pages, chunks, pageErr
		}

		pageID, err := tx.InsertPage(ctx, docID, pages, text)
		if err != nil {
			return pages, chunks, err
		}

		spans, err := chunk.Indices(text, ix.opts.ChunkSize, ix.opts.ChunkStride)
		if err != nil {
			return pages, chunks, perrors.Wrap(perrors.ErrCodeChunkingFailed, err)
		}

		for from := 0; from < len(spans); from += ix.opts.BatchSize {
			batch := spans[from:min(from+ix.opts.BatchSize, len(spans))]

			keys, err := ix.storeBatch(ctx, tx, pageID, text, batch)
			added = append(added, keys...)
			if err != nil {
				return pages, chunks, err
			}
			chunks += len(batch)

			ix.opts.Renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageEmbedding,
				Current:     current,
				Total:       total,
				CurrentFile: path,
				Message:     fmt.Sprintf("page %d: %d chunks", pages+1, chunks),
			})
		}
		pages++
	}

	ix.opts.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageStoring,
		Current:     current,
		Total:       total,
		CurrentFile: path,
	})

	// Vectors must be durable before the rows that reference them.
	if err := ix.save(); err != nil {
		return pages, chunks, err
	}
	saved = true
	if err := tx.Commit(); err != nil {
		return pages, chunks, err
	}
	committed = true

	if len(stale) > 0 {
		ix.dropVectors(ctx, logger, stale)
	}
	return pages, chunks, nil
}

// storeBatch inserts the chunk rows of one batch and adds their vectors.
// It returns the keys added to the vector index, even on error.
func (ix *Indexer) storeBatch(ctx context.Context, tx *store.Tx, pageID int64, text string, batch []chunk.Span) ([]uint64, error) {
	ids, err := tx.InsertChunks(ctx, pageID, batch)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(batch))
	for i, span := range batch {
		texts[i] = span.Slice(text)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, perrors.Newf(perrors.ErrCodeEmbeddingFailed,
			"embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	ix.vectors.Reserve(len(batch))
	keys := make([]uint64, 0, len(ids))
	for i, id := range ids {
		if err := ix.vectors.Add(ctx, uint64(id), vectors[i]); err != nil {
			return keys, err
		}
		keys = append(keys, uint64(id))
	}
	return keys, nil
}

func (ix *Indexer) save() error {
	if ix.opts.IndexPath == "" {
		return nil
	}
	return ix.vectors.Save(ix.opts.IndexPath)
}

// dropVectors removes vectors whose rows are already gone. Failures only
// leave orphans behind, so they are logged rather than returned.
func (ix *Indexer) dropVectors(ctx context.Context, logger *slog.Logger, ids []int64) {
	keys := make([]uint64, len(ids))
	for i, id := range ids {
		keys[i] = uint64(id)
	}
	if err := ix.vectors.Delete(context.WithoutCancel(ctx), keys); err != nil {
		logger.Warn("failed to delete stale vectors", slog.Int("count", len(keys)), slog.String("error", err.Error()))
		return
	}
	if err := ix.save(); err != nil {
		logger.Warn("failed to save vector index", slog.String("error", err.Error()))
	}
}

// RemoveDocument deletes a document and its vectors. It returns the number
// of chunks removed; an unknown path removes nothing.
func (ix *Indexer) RemoveDocument(ctx context.Context, path string) (int, error) {
	canonical := canonicalizeRemoved(path)

	tx, err := ix.metadata.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := tx.DeleteDocument(ctx, canonical)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		ix.dropVectors(ctx, slog.Default(), ids)
		slog.Info("document removed", slog.String("path", canonical), slog.Int("chunks", len(ids)))
	}
	return len(ids), nil
}

// Canonicalize returns the absolute, symlink-free form of path. Documents
// are keyed by this form.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// canonicalizeRemoved resolves a path that may no longer exist through its
// parent directory.
func canonicalizeRemoved(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs))
	}
	return abs
}

// Expand replaces each directory in paths with the supported files below
// it, in lexical order. Other paths are kept as given, including paths
// that do not exist.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			out = append(out, p)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // Skip what we can't access
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if extract.Supported(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return out, nil
}

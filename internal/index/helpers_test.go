package index

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

const testDims = 64

// fakeSource serves pages keyed by file base name. failAfter makes a
// document fail once that many pages have been yielded.
type fakeSource struct {
	pages     map[string][]string
	failAfter map[string]int
}

func (s *fakeSource) Pages(ctx context.Context, path string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		name := filepath.Base(path)
		pages, ok := s.pages[name]
		if !ok {
			yield("", errors.New("no pages for "+name))
			return
		}
		limit, fails := s.failAfter[name]
		for i, text := range pages {
			if fails && i == limit {
				yield("", errors.New("corrupt page"))
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct {
	embed.Embedder
}

func (e shortEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

type harness struct {
	dir      string
	source   *fakeSource
	embedder embed.Embedder
	metadata *store.SQLiteStore
	vectors  *store.HNSWStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	metadata, err := store.NewSQLiteStore(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	return &harness{
		dir:      dir,
		source:   &fakeSource{pages: map[string][]string{}, failAfter: map[string]int{}},
		embedder: embed.NewStaticEmbedder(testDims),
		metadata: metadata,
		vectors:  vectors,
	}
}

// file creates an empty file whose pages the fake source serves.
func (h *harness) file(t *testing.T, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o644))
	h.source.pages[name] = pages
	canonical, err := Canonicalize(path)
	require.NoError(t, err)
	return canonical
}

func (h *harness) indexer(t *testing.T, opts Options) *Indexer {
	t.Helper()
	if opts.ChunkSize == 0 {
		opts.ChunkSize, opts.ChunkStride = 10, 5
	}
	ix, err := New(h.source, h.embedder, h.metadata, h.vectors, opts)
	require.NoError(t, err)
	return ix
}

func (h *harness) stats(t *testing.T) store.Stats {
	t.Helper()
	s, err := h.metadata.Stats(context.Background())
	require.NoError(t, err)
	return *s
}

func (h *harness) chunkIDs(t *testing.T) []uint64 {
	t.Helper()
	ids, err := h.metadata.ChunkIDs(context.Background())
	require.NoError(t, err)
	keys := make([]uint64, len(ids))
	for i, id := range ids {
		keys[i] = uint64(id)
	}
	return keys
}

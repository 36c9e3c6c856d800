package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// newTestApp builds an App over a temp data dir with the static embedder.
func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PAGESEARCH_EMBEDDER", "static")
	t.Setenv("PAGESEARCH_DIMENSIONS", "32")
	t.Setenv("PAGESEARCH_CHUNK_SIZE", "16")
	t.Setenv("PAGESEARCH_CHUNK_STRIDE", "8")

	a, err := New(Options{DataDir: filepath.Join(t.TempDir(), "data")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeText(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNew_CreatesDataDirAndLog(t *testing.T) {
	a := newTestApp(t)

	assert.DirExists(t, a.Config.DataDir)
	a.Logger.Info("hello")
	assert.FileExists(t, filepath.Join(a.Config.DataDir, "logs", "pagesearch.log"))
	assert.Equal(t, 16, a.Config.Chunking.Size)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PAGESEARCH_CHUNK_SIZE", "0")

	_, err := New(Options{DataDir: t.TempDir()})

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeConfigInvalid))
}

func TestLock_SecondWriterIsRefused(t *testing.T) {
	// Given one app holding the lock
	first := newTestApp(t)
	require.NoError(t, first.Lock())
	require.NoError(t, first.Lock(), "re-locking the same app is a no-op")

	// When a second app over the same data dir tries to lock
	second, err := New(Options{DataDir: first.Config.DataDir})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	err = second.Lock()

	// Then it is refused with the locked code
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeIndexLocked))

	// And succeeds once the first releases
	require.NoError(t, first.Close())
	assert.NoError(t, second.Lock())
}

func TestIndexSearchStatusCheck_EndToEnd(t *testing.T) {
	// Given a two-page text file
	a := newTestApp(t)
	ctx := context.Background()
	path := writeText(t, "notes.txt", "the quick brown fox jumps\fover the lazy dog")

	// When indexing it
	ix, err := a.Indexer(ctx, IndexOptions{})
	require.NoError(t, err)
	report := ix.IndexFiles(ctx, []string{path})

	// Then both pages are stored and the embedder is recorded
	require.Equal(t, 1, report.Indexed, "%+v", report.Files)
	assert.Equal(t, 2, report.Pages)

	metadata, err := a.Metadata()
	require.NoError(t, err)
	model, err := metadata.GetState(ctx, store.StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "static-32", model)

	// And search resolves hits back to the file
	engine, err := a.Engine(ctx)
	require.NoError(t, err)
	results, err := engine.Search(ctx, "lazy dog", 3)
	require.NoError(t, err)
	hits, err := results.Collect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	assert.Equal(t, resolved, hits[0].Path)

	// And status reports matching counts
	info, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Documents)
	assert.Equal(t, 2, info.Pages)
	assert.Equal(t, report.Chunks, info.Chunks)
	assert.Equal(t, report.Chunks, info.Vectors)
	assert.Equal(t, 32, info.Dimensions)
	assert.Equal(t, "ready", info.EmbedderStatus)
	assert.Positive(t, info.VectorSize)

	// And the stores are consistent
	checker, err := a.Checker(ctx, false)
	require.NoError(t, err)
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.Consistent())
}

func TestIndexer_RefusesDifferentModel(t *testing.T) {
	// Given an index whose chunks came from another model
	a := newTestApp(t)
	ctx := context.Background()
	ix, err := a.Indexer(ctx, IndexOptions{})
	require.NoError(t, err)
	report := ix.IndexFiles(ctx, []string{writeText(t, "a.txt", "some text to index here")})
	require.Equal(t, 1, report.Indexed)

	metadata, err := a.Metadata()
	require.NoError(t, err)
	require.NoError(t, metadata.SetState(ctx, store.StateKeyEmbeddingModel, "nomic-embed-text"))

	// When building another indexer
	_, err = a.Indexer(ctx, IndexOptions{})

	// Then it is refused
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeDimensionMismatch))
}

func TestIndexer_InvalidOCRFlag(t *testing.T) {
	a := newTestApp(t)

	_, err := a.Indexer(context.Background(), IndexOptions{OCR: "sometimes"})

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidInput))
}

func TestStatus_EmptyDataDir(t *testing.T) {
	a := newTestApp(t)

	info, err := a.Status(context.Background())

	require.NoError(t, err)
	assert.Zero(t, info.Documents)
	assert.Zero(t, info.Vectors)
	assert.Equal(t, a.Config.DataDir, info.DataDir)
	assert.True(t, info.LastIndexed.IsZero())
	assert.True(t, info.Consistent)
}

func TestStatus_ReportsCountMismatch(t *testing.T) {
	// Given: an indexed file and one extra vector with no chunk row
	a := newTestApp(t)
	ctx := context.Background()
	ix, err := a.Indexer(ctx, IndexOptions{})
	require.NoError(t, err)
	ix.IndexFiles(ctx, []string{writeText(t, "a.txt", "status consistency scenario text")})

	info, err := a.Status(ctx)
	require.NoError(t, err)
	require.True(t, info.Consistent)

	emb, err := a.Embedder(ctx)
	require.NoError(t, err)
	vectors, err := a.Vectors(emb.Dimensions())
	require.NoError(t, err)
	vec, err := emb.Embed(ctx, "stray")
	require.NoError(t, err)
	vectors.Reserve(1)
	require.NoError(t, vectors.Add(ctx, 525252, vec))

	// When: status is gathered
	info, err = a.Status(ctx)

	// Then: the counts differ and status says so
	require.NoError(t, err)
	assert.Equal(t, info.Chunks+1, info.Vectors)
	assert.False(t, info.Consistent)
}

func TestChecker_RepairsOrphan(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	ix, err := a.Indexer(ctx, IndexOptions{})
	require.NoError(t, err)
	ix.IndexFiles(ctx, []string{writeText(t, "a.txt", "orphan repair scenario text")})

	emb, err := a.Embedder(ctx)
	require.NoError(t, err)
	vectors, err := a.Vectors(emb.Dimensions())
	require.NoError(t, err)
	vec, err := emb.Embed(ctx, "stray")
	require.NoError(t, err)
	vectors.Reserve(1)
	require.NoError(t, vectors.Add(ctx, 424242, vec))

	checker, err := a.Checker(ctx, true)
	require.NoError(t, err)
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(index.InconsistencyOrphanVector))

	repaired, err := checker.Repair(ctx, res.Inconsistencies)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired.OrphansRemoved)
	assert.False(t, vectors.Contains(424242))
}

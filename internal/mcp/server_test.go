package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

const testDims = 32

type fixture struct {
	embedder embed.Embedder
	metadata *store.SQLiteStore
	vectors  *store.HNSWStore
	engine   *search.Engine
}

// newFixture indexes one document with one chunk per page.
func newFixture(t *testing.T, pages ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	metadata, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	emb := embed.NewStaticEmbedder(testDims)

	tx, err := metadata.BeginTx(ctx)
	require.NoError(t, err)
	docID, err := tx.InsertDocument(ctx, "/docs/manual.pdf")
	require.NoError(t, err)
	for i, text := range pages {
		pageID, err := tx.InsertPage(ctx, docID, i, text)
		require.NoError(t, err)
		ids, err := tx.InsertChunks(ctx, pageID, []chunk.Span{{Start: 0, End: len(text)}})
		require.NoError(t, err)
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		vectors.Reserve(1)
		require.NoError(t, vectors.Add(ctx, uint64(ids[0]), vec))
	}
	require.NoError(t, tx.Commit())

	engine, err := search.NewEngine(emb, vectors, metadata, search.Config{})
	require.NoError(t, err)
	return &fixture{embedder: emb, metadata: metadata, vectors: vectors, engine: engine}
}

func (f *fixture) server(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(f.engine, f.metadata, f.vectors, f.embedder, Options{DataDir: "/data"})
	require.NoError(t, err)
	return s
}

var manualPages = []string{
	"Replacing the printer toner cartridge",
	"Connecting to a wireless network",
}

// recordingSearcher captures k and fails.
type recordingSearcher struct {
	k   int
	err error
}

func (r *recordingSearcher) Search(_ context.Context, _ string, k int) (*search.Results, error) {
	r.k = k
	return nil, r.err
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewServer(nil, f.metadata, f.vectors, nil, Options{})
	assert.Error(t, err)
	_, err = NewServer(f.engine, nil, f.vectors, nil, Options{})
	assert.Error(t, err)
	_, err = NewServer(f.engine, f.metadata, nil, nil, Options{})
	assert.Error(t, err)

	s, err := NewServer(f.engine, f.metadata, f.vectors, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, search.DefaultLimit, s.opts.DefaultLimit)
}

func TestListTools(t *testing.T) {
	s := newFixture(t).server(t)

	var names []string
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
	}

	assert.Equal(t, []string{"search", "index_status"}, names)
}

func TestSearchHandler_ReturnsPassages(t *testing.T) {
	// Given an index with two pages
	s := newFixture(t, manualPages...).server(t)

	// When searching for the second page's text
	res, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: manualPages[1], Limit: 1})

	// Then the passage comes back with a 1-based page and markdown content
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "/docs/manual.pdf", out.Results[0].Path)
	assert.Equal(t, 2, out.Results[0].Page)
	assert.Equal(t, manualPages[1], out.Results[0].Text)

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "/docs/manual.pdf, page 2")
}

func TestSearchHandler_EmptyQuery(t *testing.T) {
	s := newFixture(t).server(t)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "   "})

	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchHandler_LimitDefaultsAndClamps(t *testing.T) {
	f := newFixture(t)
	rec := &recordingSearcher{err: errors.New("boom")}
	s, err := NewServer(rec, f.metadata, f.vectors, nil, Options{DefaultLimit: 7})
	require.NoError(t, err)

	_, _, err = s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, 7, rec.k)

	_, _, _ = s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "q", Limit: 5000})
	assert.Equal(t, search.MaxLimit, rec.k)
}

func TestSearchHandler_OrphanVectorIsInconsistency(t *testing.T) {
	// Given a vector whose key has no chunk row
	f := newFixture(t, manualPages...)
	vec, err := f.embedder.Embed(context.Background(), "orphan")
	require.NoError(t, err)
	f.vectors.Reserve(1)
	require.NoError(t, f.vectors.Add(context.Background(), 9999, vec))
	s := f.server(t)

	// When every vector is returned
	_, _, err = s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "orphan", Limit: 10})

	// Then the client sees an inconsistency error, not a short list
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeIndexInconsistent, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "check --repair")
}

func TestIndexStatusHandler(t *testing.T) {
	s := newFixture(t, manualPages...).server(t)

	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	require.NoError(t, err)
	assert.Equal(t, "/data", out.DataDir)
	assert.Equal(t, IndexStats{
		Documents:   1,
		Pages:       2,
		Chunks:      2,
		Vectors:     2,
		LastIndexed: out.Stats.LastIndexed,
	}, out.Stats)
	assert.NotEmpty(t, out.Stats.LastIndexed)
	assert.True(t, out.Consistent)
	assert.Equal(t, testDims, out.Embeddings.Dimensions)
	assert.Equal(t, "ready", out.Embeddings.Status)
}

func TestIndexStatusHandler_NoEmbedder(t *testing.T) {
	f := newFixture(t)
	s, err := NewServer(f.engine, f.metadata, f.vectors, nil, Options{})
	require.NoError(t, err)

	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	require.NoError(t, err)
	assert.Equal(t, "unavailable", out.Embeddings.Status)
	assert.Empty(t, out.Stats.LastIndexed)
}

func TestResources_RegisterAndRead(t *testing.T) {
	// Given an indexed document
	s := newFixture(t, manualPages...).server(t)
	ctx := context.Background()

	// When registering twice
	require.NoError(t, s.RegisterResources(ctx))
	require.NoError(t, s.RegisterResources(ctx))

	// Then the document is registered once and reads back page by page
	assert.Len(t, s.resources, 1)
	assert.True(t, s.resources["file:///docs/manual.pdf"])

	res, err := s.handleReadResource(ctx, "/docs/manual.pdf")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, strings.Join(manualPages, "\f"), res.Contents[0].Text)
	assert.Equal(t, "text/plain", res.Contents[0].MIMEType)
}

func TestResources_DropsRemovedDocuments(t *testing.T) {
	f := newFixture(t, manualPages...)
	s := f.server(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterResources(ctx))

	// When the document is deleted and resources are refreshed
	tx, err := f.metadata.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.DeleteDocument(ctx, "/docs/manual.pdf")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, s.RegisterResources(ctx))

	// Then it is no longer listed
	assert.Empty(t, s.resources)
}

func TestResources_ReadUnknownDocument(t *testing.T) {
	s := newFixture(t).server(t)

	_, err := s.handleReadResource(context.Background(), "/docs/absent.pdf")

	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeDocumentNotFound, mcpErr.Code)
}

func TestServer_InMemoryClientRoundTrip(t *testing.T) {
	// Given a server connected to a client over in-memory transports
	s := newFixture(t, manualPages...).server(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	// When listing tools and calling search
	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": manualPages[0], "limit": 1},
	})
	require.NoError(t, err)

	// Then both tools are advertised and the search succeeds
	assert.Len(t, tools.Tools, 2)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "page 1")
}

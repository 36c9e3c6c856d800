package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "pagesearch"

// Searcher runs a semantic query. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (*search.Results, error)
}

// Catalog exposes what has been indexed.
type Catalog interface {
	ListDocuments(ctx context.Context) ([]*store.Document, error)
	DocumentPages(ctx context.Context, path string) ([]*store.Page, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// VectorCounter reports the number of stored vectors.
type VectorCounter interface {
	Len() int
}

// Options configures a Server.
type Options struct {
	DataDir      string
	DefaultLimit int
	Logger       *slog.Logger
}

// Server is the MCP server for pagesearch. Tool handlers may run
// concurrently; the engine and stores are safe for concurrent reads.
type Server struct {
	mcp      *mcp.Server
	engine   Searcher
	catalog  Catalog
	vectors  VectorCounter
	embedder embed.Embedder
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	resources map[string]bool
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Semantic search over indexed PDF and text documents. Returns the closest passages with their document path and page number.",
	},
	{
		Name:        "index_status",
		Description: "Report how many documents, pages and passages are indexed and which embedding model is active. Use before searching to check the index is populated.",
	},
}

// NewServer creates a new MCP server. embedder may be nil, in which case
// index_status reports it as unavailable.
func NewServer(engine Searcher, catalog Catalog, vectors VectorCounter, embedder embed.Embedder, opts Options) (*Server, error) {
	if engine == nil {
		return nil, perrors.ValidationError("search engine is required", nil)
	}
	if catalog == nil {
		return nil, perrors.ValidationError("metadata catalog is required", nil)
	}
	if vectors == nil {
		return nil, perrors.ValidationError("vector index is required", nil)
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = search.DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		engine:    engine,
		catalog:   catalog,
		vectors:   vectors,
		embedder:  embedder,
		opts:      opts,
		logger:    opts.Logger,
		resources: make(map[string]bool),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := clampLimit(input.Limit, s.opts.DefaultLimit, search.MaxLimit)

	requestID := generateRequestID()
	start := time.Now()

	results, err := s.engine.Search(ctx, query, limit)
	if err != nil {
		s.logger.Warn("mcp search failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}
	hits, err := results.Collect(ctx)
	if err != nil {
		s.logger.Warn("mcp search failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	output := SearchOutput{Results: make([]SearchResultOutput, 0, len(hits))}
	for _, h := range hits {
		output.Results = append(output.Results, ToSearchResultOutput(h))
	}

	s.logger.Info("mcp_search",
		slog.String("request_id", requestID),
		slog.Int("query_len", len(query)),
		slog.Int("limit", limit),
		slog.Int("results", len(hits)),
		slog.Duration("duration", time.Since(start)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(query, hits)}},
	}, output, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	stats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.catalog.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	out := &IndexStatusOutput{
		DataDir: s.opts.DataDir,
		Stats: IndexStats{
			Documents: stats.Documents,
			Pages:     stats.Pages,
			Chunks:    stats.Chunks,
			Vectors:   s.vectors.Len(),
		},
		Embeddings: EmbeddingInfo{Status: "unavailable"},
	}
	out.Consistent = out.Stats.Chunks == out.Stats.Vectors

	var last time.Time
	for _, d := range docs {
		if d.IndexedAt.After(last) {
			last = d.IndexedAt
		}
	}
	if !last.IsZero() {
		out.Stats.LastIndexed = last.UTC().Format(time.RFC3339)
	}

	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		if s.embedder.Available(ctx) {
			out.Embeddings.Status = "ready"
		}
	}
	return out, nil
}

// Serve runs the server over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

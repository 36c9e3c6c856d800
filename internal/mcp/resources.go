package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceSize is the largest extracted text returned for one document.
const MaxResourceSize = 1024 * 1024

// pageSeparator is a form feed, the conventional page break in plain text.
const pageSeparator = "\f"

// RegisterResources exposes every indexed document as a text resource
// holding its extracted pages. It may be called again after indexing to
// pick up new documents and drop removed ones.
func (s *Server) RegisterResources(ctx context.Context) error {
	docs, err := s.catalog.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(docs))
	for _, d := range docs {
		current[resourceURI(d.Path)] = true
	}
	var stale []string
	for uri := range s.resources {
		if !current[uri] {
			stale = append(stale, uri)
			delete(s.resources, uri)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveResources(stale...)
	}

	added := 0
	for _, d := range docs {
		uri := resourceURI(d.Path)
		if s.resources[uri] {
			continue
		}
		s.mcp.AddResource(&mcp.Resource{
			Name:        filepath.Base(d.Path),
			URI:         uri,
			Description: fmt.Sprintf("%s (%s pages, %s passages)", d.Path, humanize.Comma(int64(d.Pages)), humanize.Comma(int64(d.Chunks))),
			MIMEType:    "text/plain",
		}, s.makeDocumentHandler(d.Path))
		s.resources[uri] = true
		added++
	}

	s.logger.Info("registered resources",
		slog.Int("added", added),
		slog.Int("removed", len(stale)),
		slog.Int("total", len(s.resources)))
	return nil
}

func resourceURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func (s *Server) makeDocumentHandler(path string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.handleReadResource(ctx, path)
	}
}

// handleReadResource returns the extracted text of one document with pages
// separated by form feeds.
func (s *Server) handleReadResource(ctx context.Context, path string) (*mcp.ReadResourceResult, error) {
	pages, err := s.catalog.DocumentPages(ctx, path)
	if err != nil {
		return nil, MapError(err)
	}

	texts := make([]string, len(pages))
	size := 0
	for i, p := range pages {
		texts[i] = p.Text
		size += len(p.Text)
	}
	if size > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeResourceTooLarge,
			Message: fmt.Sprintf("document text too large: %s (max %s)", humanize.IBytes(uint64(size)), humanize.IBytes(MaxResourceSize)),
		}
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      resourceURI(path),
			MIMEType: "text/plain",
			Text:     strings.Join(texts, pageSeparator),
		}},
	}, nil
}

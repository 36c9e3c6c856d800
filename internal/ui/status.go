package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo contains index health information.
type StatusInfo struct {
	DataDir     string    `json:"data_dir"`
	Documents   int       `json:"documents"`
	Pages       int       `json:"pages"`
	Chunks      int       `json:"chunks"`
	Vectors     int       `json:"vectors"`
	Consistent  bool      `json:"consistent"`
	LastIndexed time.Time `json:"last_indexed,omitempty"`

	// Storage sizes in bytes
	MetadataSize int64 `json:"metadata_size"`
	VectorSize   int64 `json:"vector_size"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderModel  string `json:"embedder_model,omitempty"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	Dimensions     int    `json:"dimensions"`
}

// TotalSize returns the combined on-disk size of both stores.
func (i StatusInfo) TotalSize() int64 {
	return i.MetadataSize + i.VectorSize
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("Index Status: "+info.DataDir))

	_, _ = fmt.Fprintf(w, "  Documents:    %s\n", humanize.Comma(int64(info.Documents)))
	_, _ = fmt.Fprintf(w, "  Pages:        %s\n", humanize.Comma(int64(info.Pages)))
	_, _ = fmt.Fprintf(w, "  Chunks:       %s\n", humanize.Comma(int64(info.Chunks)))
	_, _ = fmt.Fprintf(w, "  Vectors:      %s\n", humanize.Comma(int64(info.Vectors)))
	if !info.Consistent {
		_, _ = fmt.Fprintf(w, "  %s\n", r.styles.Warning.Render("Chunk and vector counts differ, run 'pagesearch check --repair'"))
	}
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(w, "  Last indexed: %s\n", humanize.Time(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "  Storage:")
	_, _ = fmt.Fprintf(w, "    Metadata:   %s\n", humanize.IBytes(uint64(info.MetadataSize)))
	_, _ = fmt.Fprintf(w, "    Vectors:    %s\n", humanize.IBytes(uint64(info.VectorSize)))
	_, _ = fmt.Fprintf(w, "    Total:      %s\n", humanize.IBytes(uint64(info.TotalSize())))
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "  Embedder:")
	_, _ = fmt.Fprintf(w, "    Type:       %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(w, "    Status:     %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(w, "    Model:      %s\n", info.EmbedderModel)
	}
	if info.Dimensions > 0 {
		_, _ = fmt.Fprintf(w, "    Dimensions: %d\n", info.Dimensions)
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// Package output formats command results for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/ui"
)

// Format selects how results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", perrors.ValidationError(fmt.Sprintf("invalid format %q (want text or json)", s), nil)
}

const ruleWidth = 60

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	color  bool
	styles ui.Styles
}

// Option configures a Writer.
type Option func(*Writer)

// WithColor forces color on or off.
func WithColor(enabled bool) Option {
	return func(w *Writer) {
		w.color = enabled
	}
}

// New creates a Writer. Color is on when out is a terminal and NO_COLOR is
// unset.
func New(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		out:   out,
		color: ui.IsTTY(out) && !ui.DetectNoColor(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.styles = ui.GetStyles(!w.color)
	return w
}

func (w *Writer) paint(style lipgloss.Style, s string) string {
	if !w.color {
		return s
	}
	return style.Render(s)
}

// Errors from writing are intentionally ignored for console output.
func (w *Writer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Status prints a status message with an icon.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		w.printf("%s %s\n", icon, msg)
		return
	}
	w.printf("  %s\n", msg)
}

// Success prints a success message with a checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.paint(w.styles.Success, "✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.paint(w.styles.Warning, "!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.paint(w.styles.Error, "✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Rule prints a horizontal separator.
func (w *Writer) Rule() {
	w.printf("%s\n", w.paint(w.styles.Dim, strings.Repeat("─", ruleWidth)))
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchHit is the JSON shape of one search result. Page is 1-based.
type SearchHit struct {
	Rank     int     `json:"rank"`
	Distance float32 `json:"distance"`
	Score    float32 `json:"score"`
	ChunkID  int64   `json:"chunk_id"`
	Path     string  `json:"path"`
	Page     int     `json:"page"`
	Text     string  `json:"text"`
}

// SearchOutput is the JSON document printed by search --format json.
type SearchOutput struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// Results prints search results. Page numbers are shown 1-based.
func (w *Writer) Results(query string, results []*search.Result, format Format) error {
	if format == FormatJSON {
		doc := SearchOutput{Query: query, Results: make([]SearchHit, 0, len(results))}
		for i, r := range results {
			doc.Results = append(doc.Results, SearchHit{
				Rank:     i + 1,
				Distance: r.Distance,
				Score:    r.Score,
				ChunkID:  r.ChunkID,
				Path:     r.Path,
				Page:     r.PageNo + 1,
				Text:     r.Text,
			})
		}
		return w.JSON(doc)
	}

	if len(results) == 0 {
		w.printf("No results\n")
		return nil
	}
	for i, r := range results {
		w.printf("%s %s %s %s\n",
			w.paint(w.styles.Header, fmt.Sprintf("[%d]", i+1)),
			w.paint(w.styles.Label, fmt.Sprintf("%.4f", r.Distance)),
			r.Path,
			w.paint(w.styles.Label, fmt.Sprintf("(page %d)", r.PageNo+1)))
		w.printf("%s\n", strings.TrimSpace(r.Text))
		w.Rule()
	}
	return nil
}

// Report prints one line per file followed by totals.
func (w *Writer) Report(r *index.Report) {
	for _, f := range r.Files {
		switch f.Status {
		case index.StatusIndexed:
			w.Successf("%s (%d pages, %d chunks)", f.Path, f.Pages, f.Chunks)
		case index.StatusSkipped, index.StatusMissing:
			w.Warningf("%s: %s", f.Path, reason(f))
		default:
			w.Errorf("%s: %s", f.Path, reason(f))
		}
	}
	w.printf("%d indexed, %d skipped, %d missing, %d failed (%d pages, %d chunks) in %s\n",
		r.Indexed, r.Skipped, r.Missing, r.Failed, r.Pages, r.Chunks, r.Duration.Round(time.Millisecond))
}

func reason(f index.FileResult) string {
	if f.Err == nil {
		return f.Status.String()
	}
	if appErr, ok := perrors.As(f.Err); ok {
		return appErr.Message
	}
	return f.Err.Error()
}

// Check prints a consistency check result.
func (w *Writer) Check(res *index.CheckResult, repaired *index.RepairResult) {
	w.printf("%s %d chunks, %d vectors\n", w.paint(w.styles.Label, "Checked"), res.Chunks, res.Vectors)
	if res.Consistent() {
		w.Success("metadata and vector index are consistent")
		return
	}
	orphans := res.Count(index.InconsistencyOrphanVector)
	missing := res.Count(index.InconsistencyMissingVector)
	if orphans > 0 {
		w.Warningf("%d orphan vectors (no chunk row)", orphans)
	}
	if missing > 0 {
		w.Warningf("%d chunks without a vector", missing)
	}
	if repaired == nil {
		w.Status("", "Run 'pagesearch check --repair' to fix")
		return
	}
	w.Successf("removed %d orphan vectors, re-embedded %d chunks",
		repaired.OrphansRemoved, repaired.VectorsReembedded)
}

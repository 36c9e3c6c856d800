package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/pagesearch/internal/search"
)

// FormatSearchResults renders results as markdown for clients that only
// read text content.
func FormatSearchResults(query string, results []*search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for %q\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s, page %d (distance: %.4f)\n\n", i+1, r.Path, r.PageNo+1, r.Distance)
		for _, line := range strings.Split(strings.TrimSpace(r.Text), "\n") {
			fmt.Fprintf(&sb, "> %s\n", line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts a result to the tool output shape. Pages
// are reported 1-based.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	if r == nil {
		return SearchResultOutput{}
	}
	return SearchResultOutput{
		Path:     r.Path,
		Page:     r.PageNo + 1,
		Text:     r.Text,
		Distance: r.Distance,
		Score:    r.Score,
		ChunkID:  r.ChunkID,
	}
}

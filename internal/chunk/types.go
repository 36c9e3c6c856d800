// Package chunk splits page text into overlapping windows measured in
// grapheme clusters, reported as byte offsets into the original string.
package chunk

// Window defaults, counted in grapheme clusters.
const (
	DefaultSize   = 512
	DefaultStride = 64
)

// Span is a half-open byte range [Start, End) into the chunked text.
// Both offsets fall on grapheme cluster boundaries.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Slice returns the substring of text covered by the span.
func (s Span) Slice(text string) string {
	return text[s.Start:s.End]
}

package chunk

import (
	"fmt"
	"iter"

	"github.com/rivo/uniseg"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Iterator yields the windows of one text lazily. It holds a single cursor
// and can be restarted with Reset.
type Iterator struct {
	text   string
	size   int
	stride int

	// bounds[i] is the byte offset where grapheme i starts; the final entry
	// is len(text). Filled on first use.
	bounds []int
	cursor int
	done   bool
}

// Spans returns an iterator over the windows of text. size and stride are
// counts of grapheme clusters and must both be positive. Empty text yields
// no windows.
func Spans(text string, size, stride int) (*Iterator, error) {
	if size <= 0 {
		return nil, perrors.ValidationError(fmt.Sprintf("chunk size must be positive, got %d", size), nil)
	}
	if stride <= 0 {
		return nil, perrors.ValidationError(fmt.Sprintf("chunk stride must be positive, got %d", stride), nil)
	}
	return &Iterator{text: text, size: size, stride: stride, done: text == ""}, nil
}

// Next returns the next window. The second result is false once the window
// reaching the end of the text has been returned.
func (it *Iterator) Next() (Span, bool) {
	if it.done {
		return Span{}, false
	}
	if it.bounds == nil {
		it.bounds = graphemeBounds(it.text)
	}

	n := len(it.bounds) - 1
	from := it.cursor
	to := from + it.size
	if to >= n {
		it.done = true
		return Span{Start: it.bounds[from], End: len(it.text)}, true
	}

	it.cursor += it.stride
	if it.cursor >= n {
		// Only reachable when stride > size.
		it.done = true
	}
	return Span{Start: it.bounds[from], End: it.bounds[to]}, true
}

// Reset rewinds the iterator to the first window.
func (it *Iterator) Reset() {
	it.cursor = 0
	it.done = it.text == ""
}

// All adapts the iterator to a range-over-func sequence starting from the
// iterator's current position.
func (it *Iterator) All() iter.Seq[Span] {
	return func(yield func(Span) bool) {
		for {
			span, ok := it.Next()
			if !ok || !yield(span) {
				return
			}
		}
	}
}

// Indices returns every window of text as byte spans.
func Indices(text string, size, stride int) ([]Span, error) {
	it, err := Spans(text, size, stride)
	if err != nil {
		return nil, err
	}
	var spans []Span
	for span := range it.All() {
		spans = append(spans, span)
	}
	return spans, nil
}

// Chunks returns every window of text as substrings.
func Chunks(text string, size, stride int) ([]string, error) {
	spans, err := Indices(text, size, stride)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Slice(text)
	}
	return out, nil
}

// graphemeBounds returns the start offset of every grapheme cluster in
// text followed by len(text).
func graphemeBounds(text string) []int {
	bounds := make([]int, 0, len(text)/2+1)
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		from, _ := g.Positions()
		bounds = append(bounds, from)
	}
	return append(bounds, len(text))
}

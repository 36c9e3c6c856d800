package extract

import (
	"context"
	"iter"
	"os"
	"strings"
)

// TextSource reads UTF-8 text files. A form feed starts a new page; a file
// without form feeds is a single page.
type TextSource struct{}

// NewTextSource creates a TextSource.
func NewTextSource() *TextSource {
	return &TextSource{}
}

// Pages implements Source.
func (s *TextSource) Pages(ctx context.Context, path string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			yield("", openError(path, err))
			return
		}

		text := strings.ToValidUTF8(string(data), "\uFFFD")
		for _, page := range strings.Split(text, "\f") {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Package extract produces the ordered page texts of a source document.
//
// PDFs are read with github.com/ledongthuc/pdf, with an optional OCR pass
// through the pdftoppm and tesseract executables for scanned pages. Plain
// text files are split into pages on form feeds.
package extract

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Source yields the page texts of one document, in order, page 0 first.
type Source interface {
	// Pages iterates the document's pages. Iteration stops after the
	// first non-nil error.
	Pages(ctx context.Context, path string) iter.Seq2[string, error]
}

// OCRMode controls when page images are run through OCR.
type OCRMode string

const (
	// OCRAuto runs OCR only on pages with no extractable text.
	OCRAuto OCRMode = "auto"
	// OCRAlways runs OCR on every page.
	OCRAlways OCRMode = "always"
	// OCRNever uses the embedded text layer only.
	OCRNever OCRMode = "never"
)

// ParseOCRMode validates an OCR mode string. Empty means auto.
func ParseOCRMode(s string) (OCRMode, error) {
	switch OCRMode(strings.ToLower(s)) {
	case "", OCRAuto:
		return OCRAuto, nil
	case OCRAlways:
		return OCRAlways, nil
	case OCRNever:
		return OCRNever, nil
	}
	return "", perrors.ValidationError(fmt.Sprintf("invalid OCR mode %q (want auto, always or never)", s), nil)
}

// Config configures the default source.
type Config struct {
	OCR         OCRMode
	OCRDPI      int
	OCRLanguage string
}

// SupportedExtensions lists the file extensions Router handles.
var SupportedExtensions = []string{".pdf", ".txt", ".text", ".md"}

// Supported reports whether path has an extension Router can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Router dispatches to the PDF or text source by file extension.
type Router struct {
	PDF  Source
	Text Source
}

// NewSource builds the default Router.
func NewSource(cfg Config) *Router {
	return &Router{
		PDF:  NewPDFSource(cfg),
		Text: NewTextSource(),
	}
}

// Pages implements Source.
func (r *Router) Pages(ctx context.Context, path string) iter.Seq2[string, error] {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return r.PDF.Pages(ctx, path)
	}
	if Supported(path) {
		return r.Text.Pages(ctx, path)
	}
	return failed(perrors.New(perrors.ErrCodeExtractionFailed,
		fmt.Sprintf("unsupported file type %q", filepath.Ext(path)), nil).
		WithSuggestion("Index .pdf, .txt or .md files"))
}

// failed returns a sequence that yields a single error.
func failed(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}

// openError maps a file open failure to a coded error.
func openError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return perrors.New(perrors.ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), err)
	case os.IsPermission(err):
		return perrors.New(perrors.ErrCodeFilePermission, fmt.Sprintf("permission denied: %s", path), err)
	default:
		return perrors.New(perrors.ErrCodeExtractionFailed, fmt.Sprintf("cannot read %s", path), err)
	}
}

// Collect drains a page sequence into a slice.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var pages []string
	for text, err := range seq {
		if err != nil {
			return nil, err
		}
		pages = append(pages, text)
	}
	return pages, nil
}

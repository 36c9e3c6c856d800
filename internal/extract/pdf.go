package extract

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// PDFSource extracts page text from PDF files.
type PDFSource struct {
	mode OCRMode
	ocr  *OCR
}

// NewPDFSource creates a PDFSource. OCR is used according to cfg.OCR when
// the OCR tools are installed.
func NewPDFSource(cfg Config) *PDFSource {
	mode := cfg.OCR
	if mode == "" {
		mode = OCRAuto
	}
	return &PDFSource{
		mode: mode,
		ocr:  NewOCR(cfg.OCRDPI, cfg.OCRLanguage),
	}
}

// Pages implements Source.
func (s *PDFSource) Pages(ctx context.Context, path string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.mode == OCRAlways {
			if err := s.ocr.Available(); err != nil {
				yield("", err)
				return
			}
		}

		f, r, err := openPDF(path)
		if err != nil {
			yield("", err)
			return
		}
		defer func() { _ = f.Close() }()

		numPages := r.NumPage()
		for i := 1; i <= numPages; i++ {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			text, err := s.pageText(ctx, path, r, i)
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// pageText returns the text of 1-based page i.
func (s *PDFSource) pageText(ctx context.Context, path string, r *pdf.Reader, i int) (string, error) {
	if s.mode == OCRAlways {
		return s.ocr.Page(ctx, path, i)
	}

	text, err := plainText(r, i)
	if err != nil {
		return "", perrors.New(perrors.ErrCodeExtractionFailed,
			fmt.Sprintf("failed to extract page %d of %s", i, path), err)
	}

	if s.mode == OCRAuto && strings.TrimSpace(text) == "" && s.ocr.Available() == nil {
		slog.Debug("page has no text layer, running OCR",
			slog.String("path", path),
			slog.Int("page", i))
		return s.ocr.Page(ctx, path, i)
	}
	return text, nil
}

// openPDF opens a PDF, turning parser panics on malformed files into errors.
func openPDF(path string) (f interface{ Close() error }, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = perrors.New(perrors.ErrCodeExtractionFailed,
				fmt.Sprintf("malformed PDF %s: %v", path, rec), nil)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		if perr := openError(path, err); !perrors.HasCode(perr, perrors.ErrCodeExtractionFailed) {
			return nil, nil, perr
		}
		return nil, nil, perrors.New(perrors.ErrCodeExtractionFailed,
			fmt.Sprintf("cannot parse PDF %s", path), err)
	}
	return file, reader, nil
}

// plainText extracts the text layer of 1-based page i.
func plainText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()

	page := r.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(text, "\uFFFD"), nil
}

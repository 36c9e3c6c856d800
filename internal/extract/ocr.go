package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// OCR defaults.
const (
	DefaultOCRDPI      = 200
	DefaultOCRLanguage = "eng"
)

// OCR rasterizes PDF pages with pdftoppm and reads them with tesseract.
type OCR struct {
	dpi      int
	language string

	// Executable names, overridable in tests.
	pdftoppm  string
	tesseract string
}

// NewOCR creates an OCR runner. Zero values select the defaults.
func NewOCR(dpi int, language string) *OCR {
	if dpi <= 0 {
		dpi = DefaultOCRDPI
	}
	if language == "" {
		language = DefaultOCRLanguage
	}
	return &OCR{
		dpi:       dpi,
		language:  language,
		pdftoppm:  "pdftoppm",
		tesseract: "tesseract",
	}
}

// Available returns an error naming the first missing executable.
func (o *OCR) Available() error {
	for _, bin := range []string{o.pdftoppm, o.tesseract} {
		if _, err := exec.LookPath(bin); err != nil {
			return perrors.New(perrors.ErrCodeExtractionFailed,
				fmt.Sprintf("OCR needs %s, which is not installed", bin), err).
				WithSuggestion("Install poppler-utils and tesseract-ocr, or use --ocr=never")
		}
	}
	return nil
}

// Page returns the OCR text of 1-based page i of the PDF at path.
func (o *OCR) Page(ctx context.Context, path string, i int) (string, error) {
	dir, err := os.MkdirTemp("", "pagesearch-ocr-")
	if err != nil {
		return "", perrors.New(perrors.ErrCodeExtractionFailed, "failed to create OCR work dir", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	prefix := filepath.Join(dir, "page")
	page := strconv.Itoa(i)
	if _, err := o.run(ctx, o.pdftoppm,
		"-r", strconv.Itoa(o.dpi), "-f", page, "-l", page, "-png", path, prefix); err != nil {
		return "", perrors.New(perrors.ErrCodeExtractionFailed,
			fmt.Sprintf("failed to rasterize page %d of %s", i, path), err)
	}

	// pdftoppm zero-pads the page number to the width of the page count.
	images, _ := filepath.Glob(prefix + "*.png")
	if len(images) != 1 {
		return "", perrors.New(perrors.ErrCodeExtractionFailed,
			fmt.Sprintf("expected one image for page %d of %s, got %d", i, path, len(images)), nil)
	}

	out, err := o.run(ctx, o.tesseract, images[0], "stdout", "-l", o.language)
	if err != nil {
		return "", perrors.New(perrors.ErrCodeExtractionFailed,
			fmt.Sprintf("OCR failed on page %d of %s", i, path), err)
	}
	return strings.ToValidUTF8(out, "\uFFFD"), nil
}

func (o *OCR) run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

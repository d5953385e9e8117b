package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"pdfnotes/internal/ocr"
)

const (
	DefaultMaxChars     = 15000
	DefaultMinTextChars = 100
	DefaultMaxOCRPages  = 3
	DefaultPageDelay    = 500 * time.Millisecond

	// TempDirPattern names the per-extraction raster directories.
	TempDirPattern = "pdf-ocr-*"
)

type Source string

const (
	SourceText Source = "text"
	SourceOCR  Source = "ocr"
)

// Result is the outcome of a successful extraction. Text may be empty when
// OCR produced nothing usable.
type Result struct {
	Text   string
	Source Source
	Pages  int
}

// ExtractionError reports a PDF that could not be read or parsed.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from PDF %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type Options struct {
	MaxChars     int
	MinTextChars int
	MaxOCRPages  int
	PageDelay    time.Duration
	Language     string
	// TempDir is the parent of the raster directories; empty means os.TempDir().
	TempDir string
}

func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinTextChars <= 0 {
		o.MinTextChars = DefaultMinTextChars
	}
	if o.MaxOCRPages <= 0 {
		o.MaxOCRPages = DefaultMaxOCRPages
	}
	if o.PageDelay < 0 {
		o.PageDelay = 0
	}
	if o.Language == "" {
		o.Language = "eng"
	}
	return o
}

// Extractor produces plain text from a PDF, reading the embedded text layer
// first and falling back to rasterization + OCR for scanned documents.
type Extractor struct {
	textLayer  func(path string) (string, int, error)
	rasterizer Rasterizer
	recognizer ocr.Recognizer
	opts       Options
}

// New builds an Extractor. rasterizer or recognizer may be nil, in which case
// image-only PDFs extract to empty text.
func New(rasterizer Rasterizer, recognizer ocr.Recognizer, opts Options) *Extractor {
	return &Extractor{
		textLayer:  ReadTextLayer,
		rasterizer: rasterizer,
		recognizer: recognizer,
		opts:       opts.withDefaults(),
	}
}

func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	text, pages, err := e.textLayer(path)
	if err != nil {
		log.Printf("extract: %s: %v", path, err)
		return nil, &ExtractionError{Path: path, Err: err}
	}

	if runeLen(strings.TrimSpace(text)) > e.opts.MinTextChars {
		log.Printf("extract: text layer yielded %d chars from %s", runeLen(text), path)
		return &Result{Text: Truncate(text, e.opts.MaxChars), Source: SourceText, Pages: pages}, nil
	}

	log.Printf("extract: no text layer in %s, using OCR", path)
	ocrText := e.ocr(ctx, path, pages)
	return &Result{Text: Truncate(ocrText, e.opts.MaxChars), Source: SourceOCR, Pages: pages}, nil
}

// ocr recognises up to MaxOCRPages pages one at a time, stopping at the first
// failing page. The raster directory is always removed.
func (e *Extractor) ocr(ctx context.Context, path string, pages int) string {
	if e.rasterizer == nil || e.recognizer == nil {
		log.Printf("extract: OCR disabled, returning empty text for %s", path)
		return ""
	}

	tempDir, err := os.MkdirTemp(e.opts.TempDir, TempDirPattern)
	if err != nil {
		log.Printf("extract: create OCR temp dir: %v", err)
		return ""
	}
	defer os.RemoveAll(tempDir)

	limit := e.opts.MaxOCRPages
	if pages > 0 && pages < limit {
		limit = pages
	}

	var out strings.Builder
	for page := 1; page <= limit; page++ {
		log.Printf("extract: OCR page %d/%d", page, limit)
		image, err := e.rasterizer.RasterizePage(ctx, path, page, tempDir)
		if err != nil {
			log.Printf("extract: stop OCR at page %d: %v", page, err)
			break
		}
		text, err := e.recognizer.Recognize(ctx, image, e.opts.Language)
		if err != nil {
			log.Printf("extract: stop OCR at page %d: %v", page, err)
			break
		}
		out.WriteString(text)
		out.WriteString("\n\n")

		if e.opts.PageDelay > 0 {
			time.Sleep(e.opts.PageDelay)
		}
	}
	return out.String()
}

// ReadTextLayer returns the embedded text and page count of the PDF at path.
// Parser panics on malformed files are reported as errors.
func ReadTextLayer(path string) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages = r.NumPage()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", pages, fmt.Errorf("read text layer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", pages, fmt.Errorf("read text layer: %w", err)
	}
	return buf.String(), pages, nil
}

// CountPages returns the number of pages in the PDF at path.
func CountPages(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// Truncate cuts s to at most limit characters.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func runeLen(s string) int {
	return len([]rune(s))
}

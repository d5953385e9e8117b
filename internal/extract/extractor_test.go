package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeRasterizer struct {
	failAt int
	calls  []int
	dirs   []string
}

func (f *fakeRasterizer) RasterizePage(ctx context.Context, pdfPath string, page int, outDir string) (string, error) {
	f.calls = append(f.calls, page)
	f.dirs = append(f.dirs, outDir)
	if page == f.failAt {
		return "", fmt.Errorf("render failed")
	}
	out := filepath.Join(outDir, fmt.Sprintf("page-%d.png", page))
	if err := os.WriteFile(out, []byte("png"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeRecognizer struct {
	text string
	lang string
}

func (f *fakeRecognizer) Recognize(ctx context.Context, imagePath string, lang string) (string, error) {
	f.lang = lang
	return f.text + " " + filepath.Base(imagePath), nil
}

func newTestExtractor(text string, pages int, err error, r Rasterizer, rec *fakeRecognizer, tempDir string) *Extractor {
	var e *Extractor
	if rec == nil {
		e = New(r, nil, Options{TempDir: tempDir})
	} else {
		e = New(r, rec, Options{TempDir: tempDir})
	}
	e.opts.PageDelay = 0
	e.textLayer = func(string) (string, int, error) { return text, pages, err }
	return e
}

func TestExtractCapsLongText(t *testing.T) {
	long := strings.Repeat("abcdefghij", 2000)
	e := newTestExtractor(long, 12, nil, nil, nil, t.TempDir())

	res, err := e.Extract(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := len([]rune(res.Text)); got != DefaultMaxChars {
		t.Errorf("expected %d chars, got %d", DefaultMaxChars, got)
	}
	if res.Source != SourceText {
		t.Errorf("expected text provenance, got %s", res.Source)
	}
	if res.Pages != 12 {
		t.Errorf("expected 12 pages, got %d", res.Pages)
	}
}

func TestExtractShortTextUnchanged(t *testing.T) {
	text := strings.Repeat("word ", 40)
	e := newTestExtractor(text, 1, nil, nil, nil, t.TempDir())

	res, err := e.Extract(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != text {
		t.Error("text under the cap should be returned as is")
	}
}

func TestExtractFallsBackToOCR(t *testing.T) {
	tmp := t.TempDir()
	r := &fakeRasterizer{}
	rec := &fakeRecognizer{text: "scanned"}
	e := newTestExtractor("   ", 5, nil, r, rec, tmp)

	res, err := e.Extract(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Source != SourceOCR {
		t.Errorf("expected ocr provenance, got %s", res.Source)
	}
	if len(r.calls) != DefaultMaxOCRPages {
		t.Errorf("expected %d pages rasterized, got %d", DefaultMaxOCRPages, len(r.calls))
	}
	if !strings.Contains(res.Text, "scanned page-1.png\n\nscanned page-2.png") {
		t.Errorf("pages should be joined by blank lines, got %q", res.Text)
	}
	if rec.lang != "eng" {
		t.Errorf("expected eng language, got %q", rec.lang)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("raster directory should be removed, found %d entries", len(entries))
	}
}

func TestExtractOCRBoundedByPageCount(t *testing.T) {
	r := &fakeRasterizer{}
	e := newTestExtractor("", 1, nil, r, &fakeRecognizer{text: "x"}, t.TempDir())

	if _, err := e.Extract(context.Background(), "one-page.pdf"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(r.calls) != 1 {
		t.Errorf("expected a single page, got %v", r.calls)
	}
}

func TestExtractOCRStopsAtFailingPage(t *testing.T) {
	tests := []struct {
		name     string
		failAt   int
		wantText bool
		calls    int
	}{
		{name: "first page", failAt: 1, wantText: false, calls: 1},
		{name: "second page", failAt: 2, wantText: true, calls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRasterizer{failAt: tt.failAt}
			e := newTestExtractor("", 3, nil, r, &fakeRecognizer{text: "ocr"}, t.TempDir())

			res, err := e.Extract(context.Background(), "scan.pdf")
			if err != nil {
				t.Fatalf("page failure should not be an error: %v", err)
			}
			if (res.Text != "") != tt.wantText {
				t.Errorf("unexpected text %q", res.Text)
			}
			if len(r.calls) != tt.calls {
				t.Errorf("expected %d rasterize calls, got %d", tt.calls, len(r.calls))
			}
		})
	}
}

func TestExtractWithoutOCREngine(t *testing.T) {
	e := newTestExtractor("short", 2, nil, &fakeRasterizer{}, nil, t.TempDir())

	res, err := e.Extract(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "" || res.Source != SourceOCR {
		t.Errorf("expected empty ocr result, got %+v", res)
	}
}

func TestExtractReportsParseFailure(t *testing.T) {
	cause := errors.New("malformed xref")
	e := newTestExtractor("", 0, cause, nil, nil, t.TempDir())

	_, err := e.Extract(context.Background(), "broken.pdf")
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extractErr.Path != "broken.pdf" || !errors.Is(err, cause) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestReadTextLayerMissingFile(t *testing.T) {
	if _, _, err := ReadTextLayer(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTruncateCountsCharacters(t *testing.T) {
	s := strings.Repeat("é", 10)
	if got := Truncate(s, 4); got != "éééé" {
		t.Errorf("unexpected truncation %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("unexpected truncation %q", got)
	}
}

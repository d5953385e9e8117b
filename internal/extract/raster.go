package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Rasterizer renders a single PDF page to an image file inside outDir.
type Rasterizer interface {
	RasterizePage(ctx context.Context, pdfPath string, page int, outDir string) (string, error)
}

// Ghostscript renders pages with the gs CLI.
type Ghostscript struct {
	Bin    string
	DPI    int
	Width  int
	Height int
}

// NewGhostscript returns a rasterizer producing 150 DPI, 1200x1600 PNG pages.
func NewGhostscript(bin string) *Ghostscript {
	if bin == "" {
		bin = "gs"
	}
	return &Ghostscript{Bin: bin, DPI: 150, Width: 1200, Height: 1600}
}

func (g *Ghostscript) RasterizePage(ctx context.Context, pdfPath string, page int, outDir string) (string, error) {
	out := filepath.Join(outDir, fmt.Sprintf("page-%03d.png", page))

	// -sDEVICE=png16m: 24-bit color PNG
	// -g: fixed output size in pixels, with -dPDFFitPage scaling the page into it
	cmd := exec.CommandContext(ctx, g.Bin,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", g.DPI),
		fmt.Sprintf("-g%dx%d", g.Width, g.Height),
		"-dPDFFitPage",
		fmt.Sprintf("-dFirstPage=%d", page),
		fmt.Sprintf("-dLastPage=%d", page),
		fmt.Sprintf("-sOutputFile=%s", out),
		pdfPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ghostscript render page %d failed: %w, stderr: %s", page, err, stderr.String())
	}
	return out, nil
}

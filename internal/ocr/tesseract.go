package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tesseract runs the tesseract CLI on a page image and reads the result from stdout.
type Tesseract struct {
	bin string
}

func NewTesseract(bin string) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	return &Tesseract{bin: bin}
}

func (t *Tesseract) Recognize(ctx context.Context, imagePath string, lang string) (string, error) {
	if lang == "" {
		lang = "eng"
	}
	cmd := exec.CommandContext(ctx, t.bin, imagePath, "stdout", "-l", lang)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w, stderr: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

package ocr

import "context"

// Recognizer turns a rasterized page image into text.
type Recognizer interface {
	// Recognize reads the image at imagePath using the given language code (e.g. "eng").
	Recognize(ctx context.Context, imagePath string, lang string) (string, error)
}

// Config holds configuration for OCR engines
type Config struct {
	// Engine selects the implementation: "tesseract", "vision" or "none".
	Engine string

	// Tesseract binary (default: tesseract)
	TesseractBin string

	// Vision API configuration
	VisionKey     string
	VisionBaseURL string
	VisionModel   string
}

// New returns the Recognizer selected by cfg.Engine, or nil when OCR is disabled.
func New(cfg Config) Recognizer {
	switch cfg.Engine {
	case "vision":
		return NewVision(cfg.VisionKey, cfg.VisionBaseURL, cfg.VisionModel)
	case "none", "":
		return nil
	default:
		return NewTesseract(cfg.TesseractBin)
	}
}

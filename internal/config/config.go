package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port        string
	Database    string
	UploadDir   string
	MaxUploadMB int64

	LLMProvider    string
	LLMModel       string
	LLMTimeout     time.Duration
	OllamaURL      string
	OpenAIKey      string
	OpenAIEndpoint string

	OCREngine     string
	OCRLanguage   string
	VisionKey     string
	VisionBaseURL string
	VisionModel   string
	Ghostscript   string
	Tesseract     string

	JobRetention time.Duration
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	cfg := Config{
		Port:        getEnv("PORT", "5000"),
		Database:    getEnv("DATABASE_PATH", "./data/pdfnotes.db"),
		UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadMB: getInt("MAX_UPLOAD_MB", 20),

		LLMProvider:    getEnv("LLM_PROVIDER", "ollama"),
		LLMModel:       getEnv("LLM_MODEL", "llama3.2:1b"),
		LLMTimeout:     getDuration("LLM_TIMEOUT", 180*time.Second),
		OllamaURL:      getEnv("OLLAMA_URL", "http://127.0.0.1:11434"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),

		OCREngine:     getEnv("OCR_ENGINE", "tesseract"),
		OCRLanguage:   getEnv("OCR_LANGUAGE", "eng"),
		VisionKey:     os.Getenv("VISION_API_KEY"),
		VisionBaseURL: getEnv("VISION_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
		VisionModel:   getEnv("VISION_MODEL", "glm-4.5v"),
		Ghostscript:   getEnv("GHOSTSCRIPT_BIN", "gs"),
		Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),

		JobRetention: getDuration("JOB_RETENTION", 6*time.Hour),
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to ensure upload dir %s: %v", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		log.Fatalf("failed to ensure database dir %s: %v", cfg.Database, err)
	}

	return cfg
}

// MaxUploadBytes is the largest accepted PDF upload.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return fallback
	}
	return d
}

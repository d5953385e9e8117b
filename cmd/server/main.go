package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdfnotes/internal/api"
	"pdfnotes/internal/config"
	"pdfnotes/internal/db"
	"pdfnotes/internal/extract"
	"pdfnotes/internal/llm"
	"pdfnotes/internal/maintenance"
	"pdfnotes/internal/ocr"
	"pdfnotes/internal/services"
)

func main() {
	cfg := config.Load()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	recognizer := ocr.New(ocr.Config{
		Engine:        cfg.OCREngine,
		TesseractBin:  cfg.Tesseract,
		VisionKey:     cfg.VisionKey,
		VisionBaseURL: cfg.VisionBaseURL,
		VisionModel:   cfg.VisionModel,
	})
	extractor := extract.New(extract.NewGhostscript(cfg.Ghostscript), recognizer, extract.Options{
		Language: cfg.OCRLanguage,
	})

	model := llm.NewClient(newBackend(cfg), cfg.LLMTimeout)
	go model.WarmUp(context.Background())

	documentService := services.NewDocumentService(conn, cfg.UploadDir)
	courseService := services.NewCourseService(conn)
	analysisService := services.NewAnalysisService(documentService, extractor, model)
	reviewService := services.NewReviewService(conn)

	server := api.NewServer(documentService, courseService, analysisService, reviewService, api.Options{
		Model:          model.Model(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	housekeeping := maintenance.NewManager(server.Jobs(), cfg.JobRetention)
	if err := housekeeping.Start(); err != nil {
		log.Fatalf("start maintenance: %v", err)
	}
	defer housekeeping.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout*2 + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on :%s (model %s, ocr %s)", cfg.Port, model.Model(), cfg.OCREngine)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func newBackend(cfg config.Config) llm.Backend {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			log.Println("OPENAI_API_KEY is empty; requests to the OpenAI backend will fail")
		}
		return llm.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.LLMModel)
	default:
		return llm.NewOllama(cfg.OllamaURL, cfg.LLMModel)
	}
}

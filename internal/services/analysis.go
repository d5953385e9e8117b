package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"pdfnotes/internal/extract"
	"pdfnotes/internal/models"
	"pdfnotes/internal/quiz"
)

const (
	promptWindow    = 4000
	summaryTokens   = 200
	keyPointsTokens = 250
	chatTokens      = 300
)

const (
	QuizSourceModel    = "model"
	QuizSourceFallback = "fallback"
)

// DocumentStore is the persistence the analysis pipeline needs.
type DocumentStore interface {
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	SaveAnalysis(ctx context.Context, id int64, analysis models.Analysis, analyzedAt time.Time) error
}

// TextExtractor turns a stored PDF into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*extract.Result, error)
}

// Completer sends a prompt to the language model.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// QuizResult carries the generated questions and where they came from.
type QuizResult struct {
	Questions []models.QuizQuestion `json:"questions"`
	Source    string                `json:"source"`
}

// Outcomes of the model branch of quiz generation. Each one switches to the
// content-based generator.
var (
	errModelFailed      = errors.New("model call failed")
	errUnparseable      = errors.New("model response contained no question array")
	errNoValidQuestions = errors.New("model response contained no valid questions")
)

// AnalysisService runs summaries, key points, quizzes and Q&A over documents.
type AnalysisService struct {
	store     DocumentStore
	extractor TextExtractor
	model     Completer
}

func NewAnalysisService(store DocumentStore, extractor TextExtractor, model Completer) *AnalysisService {
	return &AnalysisService{store: store, extractor: extractor, model: model}
}

// GetAnalysis returns the cached analysis of a document.
func (s *AnalysisService) GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error) {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Analyzed() {
		return nil, ErrAnalysisNotFound
	}
	return &models.Analysis{
		Summary:    doc.Summary.String,
		KeyPoints:  doc.KeyPoints.String,
		TextLength: doc.TextLength,
	}, nil
}

// Analyze extracts the document text, asks the model for a summary and then
// for key points, and stores both on the document.
func (s *AnalysisService) Analyze(ctx context.Context, id int64) (*models.Analysis, error) {
	doc, text, err := s.load(ctx, id, "analyze")
	if err != nil {
		return nil, err
	}

	short := truncate(text, promptWindow)

	summary, err := s.model.Complete(ctx, summaryPrompt(short), summaryTokens)
	if err != nil {
		return nil, &AnalysisError{Op: "analyze", Err: err}
	}
	keyPoints, err := s.model.Complete(ctx, keyPointsPrompt(short), keyPointsTokens)
	if err != nil {
		return nil, &AnalysisError{Op: "analyze", Err: err}
	}

	analysis := models.Analysis{
		Summary:    summary,
		KeyPoints:  keyPoints,
		TextLength: utf8.RuneCountInString(text),
	}
	if err := s.store.SaveAnalysis(ctx, doc.ID, analysis, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	log.Printf("analysis: document %d analysed (%d chars)", doc.ID, analysis.TextLength)
	return &analysis, nil
}

// GenerateQuiz builds up to count questions. Once the text is extracted it
// never fails: a failed, unparseable or empty model answer falls back to
// questions derived from the text itself. Text that is mostly blank yields an
// empty, non-nil list.
func (s *AnalysisService) GenerateQuiz(ctx context.Context, id int64, count int) (*QuizResult, error) {
	count = quiz.ClampCount(count)

	_, text, err := s.load(ctx, id, "quiz")
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(text) < quiz.MinTextLength {
		return nil, ErrInsufficientContent
	}

	questions, err := s.modelQuiz(ctx, text, count)
	if err == nil {
		log.Printf("analysis: model produced %d quiz questions for document %d", len(questions), id)
		return &QuizResult{Questions: questions, Source: QuizSourceModel}, nil
	}

	log.Printf("analysis: %v for document %d, using content-based quiz", err, id)
	questions = quiz.GenerateFallback(text, count)
	if questions == nil {
		questions = []models.QuizQuestion{}
	}
	return &QuizResult{Questions: questions, Source: QuizSourceFallback}, nil
}

func (s *AnalysisService) modelQuiz(ctx context.Context, text string, count int) ([]models.QuizQuestion, error) {
	raw, err := s.model.Complete(ctx, quiz.BuildPrompt(text, count), quiz.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errModelFailed, err)
	}

	candidates, tier, ok := quiz.Parse(raw)
	if !ok || len(candidates) == 0 {
		return nil, errUnparseable
	}
	log.Printf("analysis: parsed %d quiz candidates (tier %d)", len(candidates), tier)

	questions := quiz.Validate(candidates, count)
	if len(questions) == 0 {
		return nil, errNoValidQuestions
	}
	return questions, nil
}

// Chat answers question from the document text. history is accepted for
// API compatibility but is not part of the prompt.
func (s *AnalysisService) Chat(ctx context.Context, id int64, question string, history []models.ConversationTurn) (string, error) {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if len(history) > 0 {
		log.Printf("analysis: ignoring %d conversation turns for document %d", len(history), id)
	}

	text, err := s.extractText(ctx, doc, "chat")
	if err != nil {
		return "", err
	}

	answer, err := s.model.Complete(ctx, chatPrompt(truncate(text, promptWindow), question), chatTokens)
	if err != nil {
		return "", &AnalysisError{Op: "chat", Err: err}
	}
	return answer, nil
}

func (s *AnalysisService) load(ctx context.Context, id int64, op string) (*models.Document, string, error) {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	text, err := s.extractText(ctx, doc, op)
	if err != nil {
		return nil, "", err
	}
	return doc, text, nil
}

func (s *AnalysisService) extractText(ctx context.Context, doc *models.Document, op string) (string, error) {
	res, err := s.extractor.Extract(ctx, doc.StoredPath)
	if err != nil {
		return "", &AnalysisError{Op: op, Err: err}
	}
	return res.Text, nil
}

func summaryPrompt(text string) string {
	return "Summarize the following text in exactly 5 sentences:\n\n" + text
}

func keyPointsPrompt(text string) string {
	return "List 5 key points from the following text as bullet points:\n\n" + text
}

func chatPrompt(text, question string) string {
	return fmt.Sprintf("Answer the question using ONLY the text below.\n\nText:\n%s\n\nQuestion:\n%s\n\nAnswer:", text, question)
}

func truncate(s string, n int) string {
	return extract.Truncate(s, n)
}

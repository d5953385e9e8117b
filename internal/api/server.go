package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"pdfnotes/internal/models"
	"pdfnotes/internal/services"
)

const (
	maxMultipartMemory = 8 << 20 // 8 MB
	defaultMaxUpload   = 20 << 20
	formOverhead       = 1 << 20
	pdfContentType     = "application/pdf"
)

type Server struct {
	mux       *http.ServeMux
	documents *services.DocumentService
	courses   *services.CourseService
	analysis  *services.AnalysisService
	review    *services.ReviewService
	jobs      *JobManager
	validate  *validator.Validate
	model     string
	maxUpload int64
}

// Options carries the server settings that do not come from a service.
type Options struct {
	Model          string
	MaxUploadBytes int64
}

func NewServer(
	documents *services.DocumentService,
	courses *services.CourseService,
	analysis *services.AnalysisService,
	review *services.ReviewService,
	opts Options,
) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	s := &Server{
		mux:       http.NewServeMux(),
		documents: documents,
		courses:   courses,
		analysis:  analysis,
		review:    review,
		jobs:      NewJobManager(),
		validate:  newValidator(),
		model:     opts.Model,
		maxUpload: opts.MaxUploadBytes,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Jobs exposes the analysis job registry for periodic pruning.
func (s *Server) Jobs() *JobManager {
	return s.jobs
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/courses", s.handleListCourses)
	s.mux.HandleFunc("POST /api/courses", s.handleCreateCourse)
	s.mux.HandleFunc("GET /api/courses/{id}", s.handleGetCourse)
	s.mux.HandleFunc("PUT /api/courses/{id}", s.handleUpdateCourse)
	s.mux.HandleFunc("DELETE /api/courses/{id}", s.handleDeleteCourse)

	s.mux.HandleFunc("GET /api/pdfs", s.handleListDocuments)
	s.mux.HandleFunc("POST /api/pdfs/upload", s.handleUploadDocument)
	s.mux.HandleFunc("GET /api/pdfs/{id}", s.handleGetDocument)
	s.mux.HandleFunc("PUT /api/pdfs/{id}", s.handleUpdateDocument)
	s.mux.HandleFunc("DELETE /api/pdfs/{id}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /api/pdfs/download/{id}", s.handleDownloadDocument)
	s.mux.HandleFunc("GET /api/pdfs/view/{id}", s.handleViewDocument)

	s.mux.HandleFunc("GET /api/ai/analysis/{id}", s.handleGetAnalysis)
	s.mux.HandleFunc("POST /api/ai/analyze/{id}", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/ai/analyze/{id}/jobs", s.handleCreateAnalysisJob)
	s.mux.HandleFunc("GET /api/ai/jobs/{jobId}", s.handleJobStatus)
	s.mux.HandleFunc("POST /api/ai/quiz/{id}", s.handleGenerateQuiz)
	s.mux.HandleFunc("POST /api/ai/chat/{id}", s.handleChat)

	s.mux.HandleFunc("POST /api/review/documents/{id}/cards", s.handleAddCards)
	s.mux.HandleFunc("GET /api/review/documents/{id}/cards", s.handleListCards)
	s.mux.HandleFunc("GET /api/review/next", s.handleGetNextCard)
	s.mux.HandleFunc("GET /api/review/stats", s.handleGetCardsStats)
	s.mux.HandleFunc("POST /api/review/cards/{id}", s.handleReviewCard)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "model": s.model})
}

// Courses

type courseRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"omitempty,oneof=Engineering Medical Business Arts Science Technology Other"`
}

func (req courseRequest) input() services.CourseInput {
	return services.CourseInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    models.Category(req.Category),
	}
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	courses, err := s.courses.List(r.Context(), services.CourseFilter{
		Category: models.Category(q.Get("category")),
		Search:   q.Get("search"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	course, err := s.courses.Create(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"course": course})
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	course, err := s.courses.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	docs, err := s.documents.List(r.Context(), services.DocumentFilter{CourseID: id})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"course":    course,
		"documents": documentsJSON(docs),
	})
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req courseRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	course, err := s.courses.Update(r.Context(), id, req.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": course})
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.courses.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// Documents

type documentRequest struct {
	Title       string   `json:"title" validate:"max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Course      *int64   `json:"course"`
	Tags        []string `json:"tags" validate:"max=20,dive,max=50"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.DocumentFilter{Search: q.Get("search")}
	if raw := q.Get("course"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid course id")
			return
		}
		filter.CourseID = id
	}
	docs, err := s.documents.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pdfs":  documentsJSON(docs),
		"total": len(docs),
	})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Size > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if ct, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type")); ct != pdfContentType {
		writeError(w, http.StatusBadRequest, "only PDF files are allowed")
		return
	}

	courseID, err := parseOptionalID(r.FormValue("course"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}

	doc, err := s.documents.Create(r.Context(), header.Filename, services.DocumentInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		CourseID:    courseID,
		Tags:        strings.Split(r.FormValue("tags"), ","),
	}, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("api: uploaded %s as document %d (%d pages)", header.Filename, doc.ID, doc.PageCount)
	writeJSON(w, http.StatusCreated, map[string]any{"pdf": documentJSON(*doc)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.documents.View(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdf": documentJSON(*doc)})
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req documentRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	input := services.DocumentInput{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	}
	if req.Course != nil {
		input.CourseID = sql.NullInt64{Int64: *req.Course, Valid: true}
	}
	doc, err := s.documents.Update(r.Context(), id, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdf": documentJSON(*doc)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.documents.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.documents.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	f, ok := openStored(w, doc)
	if !ok {
		return
	}
	defer f.Close()

	// Counted only once the file is known to be servable.
	doc, err = s.documents.RecordDownload(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	serveDocument(w, r, doc, f, "attachment")
}

func (s *Server) handleViewDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.documents.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	f, ok := openStored(w, doc)
	if !ok {
		return
	}
	defer f.Close()
	serveDocument(w, r, doc, f, "inline")
}

func openStored(w http.ResponseWriter, doc *models.Document) (*os.File, bool) {
	f, err := os.Open(doc.StoredPath)
	if err != nil {
		log.Printf("api: open %s: %v", doc.StoredPath, err)
		writeError(w, http.StatusNotFound, "file not found")
		return nil, false
	}
	return f, true
}

func serveDocument(w http.ResponseWriter, r *http.Request, doc *models.Document, f *os.File, disposition string) {
	w.Header().Set("Content-Type", pdfContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": doc.OriginalName}))
	http.ServeContent(w, r, doc.OriginalName, doc.UploadedAt, f)
}

// AI

type quizRequest struct {
	NumberOfQuestions *int `json:"numberOfQuestions"`
}

type chatRequest struct {
	Question            string                    `json:"question"`
	ConversationHistory []models.ConversationTurn `json:"conversationHistory" validate:"dive"`
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	analysis, err := s.analysis.GetAnalysis(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": analysis})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	analysis, err := s.analysis.Analyze(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": analysis})
}

func (s *Server) handleCreateAnalysisJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.documents.GetByID(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	jobID, snapshot := s.jobs.CreateJob(id)
	go s.runAnalysisJob(context.Background(), jobID, id)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("jobId"))
	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runAnalysisJob(ctx context.Context, jobID string, documentID int64) {
	s.jobs.MarkProcessing(jobID)
	analysis, err := s.analysis.Analyze(ctx, documentID)
	if err != nil {
		log.Printf("api: analysis job %s failed: %v", jobID, err)
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}
	s.jobs.MarkCompleted(jobID, *analysis)
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req quizRequest
	if !s.decodeAndValidate(w, r, &req, true) {
		return
	}
	count := 5
	if req.NumberOfQuestions != nil {
		count = *req.NumberOfQuestions
	}
	result, err := s.analysis.GenerateQuiz(r.Context(), id, count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": result.Questions,
		"source":    result.Source,
		"total":     len(result.Questions),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req chatRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	answer, err := s.analysis.Chat(r.Context(), id, req.Question, req.ConversationHistory)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

// Review

type addCardsRequest struct {
	Questions []models.QuizQuestion `json:"questions" validate:"required,min=1,dive"`
}

type reviewRequest struct {
	Rating string `json:"rating"`
	Answer *int   `json:"answer"`
}

func (s *Server) handleAddCards(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addCardsRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	cards, err := s.review.AddQuiz(r.Context(), id, req.Questions)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"cards": cardsJSON(cards),
		"total": len(cards),
	})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cards, err := s.review.ListCards(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cards": cardsJSON(cards),
		"total": len(cards),
	})
}

func (s *Server) handleGetNextCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.review.NextCard(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardJSON(*card)})
}

func (s *Server) handleGetCardsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.review.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleReviewCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}

	var (
		card     *models.ReviewCard
		logEntry *models.ReviewLog
		correct  *bool
		err      error
	)
	switch {
	case req.Answer != nil:
		var right bool
		card, logEntry, right, err = s.review.Answer(r.Context(), cardID, *req.Answer)
		correct = &right
	case strings.TrimSpace(req.Rating) != "":
		rating, perr := services.ParseRating(req.Rating)
		if perr != nil {
			writeServiceError(w, perr)
			return
		}
		card, logEntry, err = s.review.ReviewCard(r.Context(), cardID, rating)
	default:
		writeError(w, http.StatusBadRequest, "rating or answer is required")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"card": cardJSON(*card),
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	}
	if correct != nil {
		resp["correct"] = *correct
	}
	writeJSON(w, http.StatusOK, resp)
}

const timeLayout = time.RFC3339

func documentJSON(doc models.Document) map[string]any {
	var course any
	if doc.CourseID.Valid {
		course = doc.CourseID.Int64
	}
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":            doc.ID,
		"title":         doc.Title,
		"description":   doc.Description,
		"originalName":  doc.OriginalName,
		"fileSize":      doc.FileSize,
		"pageCount":     doc.PageCount,
		"course":        course,
		"courseName":    nullString(doc.CourseName),
		"tags":          tags,
		"downloadCount": doc.DownloadCount,
		"viewCount":     doc.ViewCount,
		"analyzed":      doc.Analyzed(),
		"analyzedAt":    nullTimeToString(doc.AnalyzedAt),
		"uploadedAt":    doc.UploadedAt.Format(timeLayout),
	}
}

func documentsJSON(docs []models.Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentJSON(doc))
	}
	return out
}

func cardJSON(card models.ReviewCard) map[string]any {
	var queue any
	if card.WorkingQueuePosition.Valid {
		queue = card.WorkingQueuePosition.Int64
	}
	return map[string]any{
		"id":            card.ID,
		"documentId":    card.DocumentID,
		"document":      nullString(card.DocumentTitle),
		"question":      card.Question,
		"due":           nullTimeToString(card.Due),
		"state":         card.State,
		"stability":     card.Stability,
		"reps":          card.Reps,
		"lapses":        card.Lapses,
		"queuePosition": queue,
		"created_at":    card.CreatedAt.Format(timeLayout),
	}
}

func cardsJSON(cards []models.ReviewCard) []map[string]any {
	out := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		out = append(out, cardJSON(card))
	}
	return out
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func parseOptionalID(raw string) (sql.NullInt64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sql.NullInt64{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return sql.NullInt64{}, fmt.Errorf("invalid id %q", raw)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// With allowEmpty an empty body leaves dst at its zero value.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": FormatValidationErrors(err),
		})
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrAnalysisNotFound),
		errors.Is(err, services.ErrNoDueCards):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInsufficientContent),
		errors.Is(err, services.ErrEmptyQuestion),
		errors.Is(err, services.ErrDuplicateCourse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: %v", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

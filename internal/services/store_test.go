package services

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"pdfnotes/internal/db"
	"pdfnotes/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func uploadDoc(t *testing.T, docs *DocumentService, name string, input DocumentInput) *models.Document {
	t.Helper()
	doc, err := docs.Create(context.Background(), name, input, strings.NewReader("%PDF-1.4 not really a pdf"))
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	uploadDir := t.TempDir()
	docs := NewDocumentService(conn, uploadDir)
	courses := NewCourseService(conn)

	course, err := courses.Create(ctx, CourseInput{Name: "Biology 101", Category: models.CategoryScience})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	doc := uploadDoc(t, docs, "Cell Notes.pdf", DocumentInput{
		Description: "Lecture notes",
		CourseID:    sql.NullInt64{Int64: course.ID, Valid: true},
		Tags:        []string{" cells ", "", "mitosis"},
	})
	if doc.Title != "Cell Notes" {
		t.Errorf("title should default to the file name, got %q", doc.Title)
	}
	if doc.CourseName.String != "Biology 101" {
		t.Errorf("expected course name, got %+v", doc.CourseName)
	}
	if strings.Join(doc.Tags, ",") != "cells,mitosis" {
		t.Errorf("unexpected tags %v", doc.Tags)
	}
	if doc.FileSize == 0 || doc.PageCount != 1 {
		t.Errorf("unexpected size/pages %d/%d", doc.FileSize, doc.PageCount)
	}
	if filepath.Dir(doc.StoredPath) != uploadDir || !strings.HasSuffix(doc.StoredPath, ".pdf") {
		t.Errorf("unexpected stored path %s", doc.StoredPath)
	}
	if doc.Analyzed() {
		t.Error("new document must not be analysed")
	}

	viewed, err := docs.View(ctx, doc.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if viewed.ViewCount != 1 {
		t.Errorf("expected 1 view, got %d", viewed.ViewCount)
	}

	downloaded, err := docs.RecordDownload(ctx, doc.ID)
	if err != nil {
		t.Fatalf("record download: %v", err)
	}
	if downloaded.DownloadCount != 1 {
		t.Errorf("expected 1 download, got %d", downloaded.DownloadCount)
	}
	history, err := docs.Downloads(ctx, doc.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one download row, got %d (%v)", len(history), err)
	}

	now := time.Now().UTC()
	if err := docs.SaveAnalysis(ctx, doc.ID, models.Analysis{Summary: "s", KeyPoints: "k", TextLength: 42}, now); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	got, err := docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Analyzed() || got.KeyPoints.String != "k" || got.TextLength != 42 || !got.AnalyzedAt.Valid {
		t.Errorf("analysis not stored: %+v", got)
	}

	updated, err := docs.Update(ctx, doc.ID, DocumentInput{Title: "Cells", Tags: []string{"biology"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Cells" || updated.CourseID.Valid || strings.Join(updated.Tags, ",") != "biology" {
		t.Errorf("unexpected update result %+v", updated)
	}

	if err := docs.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(doc.StoredPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stored file should be removed, stat err %v", err)
	}
	if _, err := docs.GetByID(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	docs := NewDocumentService(openTestDB(t), t.TempDir())

	if _, err := docs.View(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("view: expected ErrNotFound, got %v", err)
	}
	if _, err := docs.RecordDownload(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("download: expected ErrNotFound, got %v", err)
	}
	if err := docs.SaveAnalysis(ctx, 99, models.Analysis{}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("save analysis: expected ErrNotFound, got %v", err)
	}
	if err := docs.Delete(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete: expected ErrNotFound, got %v", err)
	}
}

func TestDocumentRejectsUnknownCourse(t *testing.T) {
	docs := NewDocumentService(openTestDB(t), t.TempDir())
	_, err := docs.Create(context.Background(), "a.pdf", DocumentInput{CourseID: sql.NullInt64{Int64: 7, Valid: true}}, strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListDocumentsFilters(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	docs := NewDocumentService(conn, t.TempDir())
	courses := NewCourseService(conn)

	math, _ := courses.Create(ctx, CourseInput{Name: "Math", Category: models.CategoryScience})
	uploadDoc(t, docs, "algebra.pdf", DocumentInput{Title: "Linear Algebra", CourseID: sql.NullInt64{Int64: math.ID, Valid: true}})
	uploadDoc(t, docs, "poems.pdf", DocumentInput{Title: "Poetry", Tags: []string{"literature"}})
	uploadDoc(t, docs, "calc.pdf", DocumentInput{Title: "Calculus", Description: "limits and ALGEBRA review"})

	all, err := docs.List(ctx, DocumentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Title != "Calculus" {
		t.Errorf("expected newest first, got %d docs starting with %q", len(all), all[0].Title)
	}

	tests := []struct {
		name   string
		filter DocumentFilter
		want   []string
	}{
		{name: "course", filter: DocumentFilter{CourseID: math.ID}, want: []string{"Linear Algebra"}},
		{name: "search title and description", filter: DocumentFilter{Search: "algebra"}, want: []string{"Calculus", "Linear Algebra"}},
		{name: "search tags", filter: DocumentFilter{Search: "LITERATURE"}, want: []string{"Poetry"}},
		{name: "no match", filter: DocumentFilter{Search: "chemistry"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := docs.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var titles []string
			for _, d := range got {
				titles = append(titles, d.Title)
			}
			if strings.Join(titles, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %v, want %v", titles, tt.want)
			}
		})
	}
}

func TestCourseService(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	courses := NewCourseService(conn)
	docs := NewDocumentService(conn, t.TempDir())

	c, err := courses.Create(ctx, CourseInput{Name: "  Accounting ", Category: models.CategoryBusiness})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Name != "Accounting" {
		t.Errorf("name should be trimmed, got %q", c.Name)
	}

	if _, err := courses.Create(ctx, CourseInput{Name: "accounting"}); !errors.Is(err, ErrDuplicateCourse) {
		t.Errorf("expected ErrDuplicateCourse, got %v", err)
	}
	if _, err := courses.Create(ctx, CourseInput{Name: "Art", Category: "Cooking"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for category, got %v", err)
	}
	if _, err := courses.Create(ctx, CourseInput{Name: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for name, got %v", err)
	}

	other, err := courses.Create(ctx, CourseInput{Name: "Sculpture"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if other.Category != models.CategoryOther {
		t.Errorf("category should default to Other, got %s", other.Category)
	}

	doc := uploadDoc(t, docs, "ledger.pdf", DocumentInput{CourseID: sql.NullInt64{Int64: c.ID, Valid: true}})

	got, err := courses.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PDFCount != 1 {
		t.Errorf("expected pdf count 1, got %d", got.PDFCount)
	}

	business, err := courses.List(ctx, CourseFilter{Category: models.CategoryBusiness})
	if err != nil || len(business) != 1 {
		t.Fatalf("expected one business course, got %d (%v)", len(business), err)
	}
	searched, err := courses.List(ctx, CourseFilter{Search: "sculp"})
	if err != nil || len(searched) != 1 || searched[0].ID != other.ID {
		t.Fatalf("search failed: %v %v", searched, err)
	}

	if _, err := courses.Update(ctx, other.ID, CourseInput{Name: "Accounting"}); !errors.Is(err, ErrDuplicateCourse) {
		t.Errorf("rename onto existing name: expected ErrDuplicateCourse, got %v", err)
	}
	renamed, err := courses.Update(ctx, c.ID, CourseInput{Name: "Accounting", Description: "ledgers", Category: models.CategoryBusiness})
	if err != nil || renamed.Description != "ledgers" {
		t.Fatalf("update: %v %+v", err, renamed)
	}

	if err := courses.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	detached, err := docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("document should survive course deletion: %v", err)
	}
	if detached.CourseID.Valid {
		t.Error("document should be detached from the deleted course")
	}
	if err := courses.Delete(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func sampleQuestions() []models.QuizQuestion {
	return []models.QuizQuestion{
		{Question: "Which pigment absorbs light?", Options: []string{"Chlorophyll", "Keratin", "Melanin", "Insulin"}, CorrectAnswer: 0, Explanation: "Chlorophyll."},
		{Question: "What gas do plants release?", Options: []string{"Nitrogen", "Oxygen", "Helium", "Argon"}, CorrectAnswer: 1},
	}
}

func TestReviewDeck(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	docs := NewDocumentService(conn, t.TempDir())
	review := NewReviewService(conn)

	if _, err := review.NextCard(ctx); !errors.Is(err, ErrNoDueCards) {
		t.Fatalf("empty deck: expected ErrNoDueCards, got %v", err)
	}

	doc := uploadDoc(t, docs, "plants.pdf", DocumentInput{Title: "Plants"})
	cards, err := review.AddQuiz(ctx, doc.ID, sampleQuestions())
	if err != nil {
		t.Fatalf("add quiz: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}

	listed, err := review.ListCards(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(listed) != 2 || listed[1].Question.Options[1] != "Oxygen" || listed[0].DocumentTitle.String != "Plants" {
		t.Errorf("unexpected cards %+v", listed)
	}

	next, err := review.NextCard(ctx)
	if err != nil {
		t.Fatalf("next card: %v", err)
	}
	if next.ID != cards[0].ID {
		t.Errorf("expected oldest unseen card %d, got %d", cards[0].ID, next.ID)
	}

	// A wrong answer puts the card in the working queue.
	updated, entry, correct, err := review.Answer(ctx, cards[1].ID, 3)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if correct || entry.Rating != int(fsrs.Again) {
		t.Errorf("wrong answer should rate Again, got correct=%v rating=%d", correct, entry.Rating)
	}
	if !updated.WorkingQueuePosition.Valid || updated.WorkingQueuePosition.Int64 != 1 {
		t.Errorf("expected queue position 1, got %+v", updated.WorkingQueuePosition)
	}

	next, err = review.NextCard(ctx)
	if err != nil {
		t.Fatalf("next card: %v", err)
	}
	if next.ID != cards[1].ID {
		t.Errorf("working queue card should come first, got %d", next.ID)
	}

	updated, _, err = review.ReviewCard(ctx, cards[1].ID, fsrs.Good)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if updated.WorkingQueuePosition.Valid {
		t.Error("a Good rating should leave the working queue")
	}
	if updated.Reps != 2 || !updated.LastReview.Valid {
		t.Errorf("unexpected scheduling state %+v", updated)
	}

	stats, err := review.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total"] != 2 || stats["new"] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}

	if _, _, err := review.ReviewCard(ctx, 999, fsrs.Good); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, _, _, err := review.Answer(ctx, cards[0].ID, 9); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := review.AddQuiz(ctx, 999, sampleQuestions()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkingQueueIsBounded(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	docs := NewDocumentService(conn, t.TempDir())
	review := NewReviewService(conn)

	doc := uploadDoc(t, docs, "deck.pdf", DocumentInput{})
	var questions []models.QuizQuestion
	for i := 0; i < workingQueueSize+2; i++ {
		questions = append(questions, sampleQuestions()[0])
	}
	cards, err := review.AddQuiz(ctx, doc.ID, questions)
	if err != nil {
		t.Fatalf("add quiz: %v", err)
	}
	for _, c := range cards {
		if _, _, err := review.ReviewCard(ctx, c.ID, fsrs.Again); err != nil {
			t.Fatalf("review: %v", err)
		}
	}

	var queued int
	var maxPos int64
	if err := conn.QueryRow(`SELECT COUNT(*), MAX(working_queue_position) FROM review_cards WHERE working_queue_position IS NOT NULL`).Scan(&queued, &maxPos); err != nil {
		t.Fatalf("count queue: %v", err)
	}
	if queued != workingQueueSize || maxPos != workingQueueSize {
		t.Errorf("expected %d queued cards, got %d (max position %d)", workingQueueSize, queued, maxPos)
	}

	next, err := review.NextCard(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.ID != cards[2].ID {
		t.Errorf("oldest surviving queue entry should be card %d, got %d", cards[2].ID, next.ID)
	}
}

func TestRatingHelpers(t *testing.T) {
	q := sampleQuestions()[1]
	if RatingForAnswer(q, 1) != fsrs.Good || RatingForAnswer(q, 0) != fsrs.Again {
		t.Error("unexpected rating for answer")
	}
	for raw, want := range map[string]fsrs.Rating{"again": fsrs.Again, " Hard": fsrs.Hard, "GOOD": fsrs.Good, "easy": fsrs.Easy} {
		got, err := ParseRating(raw)
		if err != nil || got != want {
			t.Errorf("ParseRating(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseRating("meh"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

type Category string

const (
	CategoryEngineering Category = "Engineering"
	CategoryMedical     Category = "Medical"
	CategoryBusiness    Category = "Business"
	CategoryArts        Category = "Arts"
	CategoryScience     Category = "Science"
	CategoryTechnology  Category = "Technology"
	CategoryOther       Category = "Other"
)

type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
	PDFCount    int       `json:"pdfCount"`
}

// Document is an uploaded PDF with its metadata and the cached AI analysis.
type Document struct {
	ID            int64
	Title         string
	Description   string
	OriginalName  string
	StoredPath    string
	FileSize      int64
	PageCount     int
	CourseID      sql.NullInt64
	CourseName    sql.NullString
	Tags          []string
	DownloadCount int
	ViewCount     int
	Summary       sql.NullString
	KeyPoints     sql.NullString
	TextLength    int
	AnalyzedAt    sql.NullTime
	UploadedAt    time.Time
}

// Analyzed reports whether an analysis has ever completed for the document.
func (d *Document) Analyzed() bool {
	return d.Summary.Valid
}

// Analysis is the cached summary/key-points pair for a document.
type Analysis struct {
	Summary    string `json:"summary"`
	KeyPoints  string `json:"keyPoints"`
	TextLength int    `json:"textLength"`
}

// QuizQuestion is a multiple-choice question with exactly four options.
type QuizQuestion struct {
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"len=4,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" validate:"gte=0,lte=3"`
	Explanation   string   `json:"explanation"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationTurn struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

type Download struct {
	ID           int64
	DocumentID   int64
	DownloadedAt time.Time
}

// ReviewCard is a saved quiz question scheduled with FSRS.
type ReviewCard struct {
	ID                   int64
	DocumentID           int64
	Question             QuizQuestion
	Due                  sql.NullTime
	Stability            float64
	Difficulty           float64
	ElapsedDays          int
	ScheduledDays        int
	Reps                 int
	Lapses               int
	State                int
	LastReview           sql.NullTime
	WorkingQueuePosition sql.NullInt64 // Position in working queue for "Again" cards
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DocumentTitle        sql.NullString
}

type ReviewLog struct {
	ID            int64
	CardID        int64
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

func (c *ReviewCard) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *ReviewCard) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.Difficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}

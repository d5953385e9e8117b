package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"pdfnotes/internal/models"
)

const workingQueueSize = 20

// ReviewService schedules saved quiz questions with FSRS.
type ReviewService struct {
	db     *sql.DB
	params fsrs.Parameters
}

func NewReviewService(db *sql.DB) *ReviewService {
	return &ReviewService{db: db, params: fsrs.DefaultParam()}
}

const cardColumns = `
	c.id, c.document_id, c.question, c.options, c.correct_answer, c.explanation,
	c.due, c.stability, c.difficulty, c.elapsed_days, c.scheduled_days,
	c.reps, c.lapses, c.state, c.last_review, c.working_queue_position,
	c.created_at, c.updated_at, d.title`

const cardFrom = `
	FROM review_cards c
	LEFT JOIN documents d ON c.document_id = d.id`

// ParseRating maps a rating name to its FSRS value.
func ParseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("unknown rating %q: %w", raw, ErrInvalidInput)
	}
}

// RatingForAnswer rates a multiple-choice attempt: Good when the chosen
// option is correct, Again otherwise.
func RatingForAnswer(q models.QuizQuestion, chosen int) fsrs.Rating {
	if chosen == q.CorrectAnswer {
		return fsrs.Good
	}
	return fsrs.Again
}

// AddQuiz saves questions as new cards for a document.
func (s *ReviewService) AddQuiz(ctx context.Context, documentID int64, questions []models.QuizQuestion) ([]models.ReviewCard, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	for i, q := range questions {
		if len(q.Options) != 4 || q.CorrectAnswer < 0 || q.CorrectAnswer >= 4 {
			return nil, fmt.Errorf("question %d is not a four-option question: %w", i, ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?;`, documentID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("document %d: %w", documentID, ErrNotFound)
			return nil, err
		}
		return nil, fmt.Errorf("check document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_cards (document_id, question, options, correct_answer, explanation, due, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	cards := make([]models.ReviewCard, 0, len(questions))
	for _, q := range questions {
		var options []byte
		options, err = json.Marshal(q.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		var res sql.Result
		res, err = stmt.ExecContext(ctx, documentID, q.Question, string(options), q.CorrectAnswer, q.Explanation, now, int(fsrs.New), now, now)
		if err != nil {
			return nil, fmt.Errorf("insert card %q: %w", q.Question, err)
		}
		id, _ := res.LastInsertId()
		cards = append(cards, models.ReviewCard{
			ID:         id,
			DocumentID: documentID,
			Question:   q,
			Due:        sql.NullTime{Time: now, Valid: true},
			State:      int(fsrs.New),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cards: %w", err)
	}
	return cards, nil
}

// ListCards returns a document's cards, oldest first.
func (s *ReviewService) ListCards(ctx context.Context, documentID int64) ([]models.ReviewCard, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+cardFrom+`
		WHERE c.document_id = ?
		ORDER BY c.created_at ASC, c.id ASC;
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	cards := []models.ReviewCard{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// NextCard returns the next card to review.
// Priority order: 1) Cards in working queue, 2) Due cards, 3) Oldest unseen card
func (s *ReviewService) NextCard(ctx context.Context) (*models.ReviewCard, error) {
	now := time.Now().UTC()

	card, err := s.fetchCard(ctx, `SELECT `+cardColumns+cardFrom+`
		WHERE c.working_queue_position IS NOT NULL
		ORDER BY c.working_queue_position ASC
		LIMIT 1;
	`)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `SELECT `+cardColumns+cardFrom+`
		WHERE c.due IS NOT NULL AND c.due <= ? AND c.working_queue_position IS NULL AND c.reps > 0
		ORDER BY c.due ASC
		LIMIT 1;
	`, now)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `SELECT `+cardColumns+cardFrom+`
		WHERE c.reps = 0 AND c.working_queue_position IS NULL
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT 1;
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

func (s *ReviewService) fetchCard(ctx context.Context, query string, args ...any) (*models.ReviewCard, error) {
	return scanCard(s.db.QueryRowContext(ctx, query, args...))
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *ReviewService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.ReviewCard, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var card *models.ReviewCard
	card, err = scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+cardFrom+` WHERE c.id = ?;`, cardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("card %d: %w", cardID, ErrNotFound)
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := time.Now().UTC()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported: %w", rating, ErrInvalidInput)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if rating == fsrs.Again {
		if err = addToWorkingQueue(ctx, tx, cardID); err != nil {
			return nil, nil, fmt.Errorf("add to working queue: %w", err)
		}
	} else {
		if err = removeFromWorkingQueue(ctx, tx, cardID); err != nil {
			return nil, nil, fmt.Errorf("remove from working queue: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE review_cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, int(info.ReviewLog.Rating), info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, int(info.ReviewLog.State), now)
	if err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}
	logID, _ := res.LastInsertId()

	if err = tx.QueryRowContext(ctx, `SELECT working_queue_position FROM review_cards WHERE id = ?;`, card.ID).Scan(&card.WorkingQueuePosition); err != nil {
		return nil, nil, fmt.Errorf("read queue position: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		ID:            logID,
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return card, log, nil
}

// Answer reviews a card from a chosen option index.
func (s *ReviewService) Answer(ctx context.Context, cardID int64, chosen int) (*models.ReviewCard, *models.ReviewLog, bool, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, `SELECT `+cardColumns+cardFrom+` WHERE c.id = ?;`, cardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, fmt.Errorf("card %d: %w", cardID, ErrNotFound)
		}
		return nil, nil, false, fmt.Errorf("load card %d: %w", cardID, err)
	}
	if chosen < 0 || chosen >= len(card.Question.Options) {
		return nil, nil, false, fmt.Errorf("answer %d out of range: %w", chosen, ErrInvalidInput)
	}
	correct := chosen == card.Question.CorrectAnswer
	updated, entry, err := s.ReviewCard(ctx, cardID, RatingForAnswer(card.Question, chosen))
	return updated, entry, correct, err
}

// Stats returns card totals by FSRS state.
func (s *ReviewService) Stats(ctx context.Context) (map[string]int, error) {
	now := time.Now().UTC()
	var total, due, newCards, learning, review, relearning int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN due IS NOT NULL AND due <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM review_cards;
	`, now, int(fsrs.New), int(fsrs.Learning), int(fsrs.Review), int(fsrs.Relearning)).Scan(
		&total, &due, &newCards, &learning, &review, &relearning,
	)
	if err != nil {
		return nil, fmt.Errorf("card stats: %w", err)
	}
	return map[string]int{
		"total":      total,
		"due":        due,
		"new":        newCards,
		"learning":   learning,
		"review":     review,
		"relearning": relearning,
	}, nil
}

// addToWorkingQueue appends a card to the working queue, evicting the oldest
// entry once the queue is full.
func addToWorkingQueue(ctx context.Context, tx *sql.Tx, cardID int64) error {
	var existing sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM review_cards WHERE id = ?", cardID).Scan(&existing); err != nil {
		return fmt.Errorf("check existing position: %w", err)
	}
	if existing.Valid {
		return nil
	}

	var maxPosition sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(working_queue_position) FROM review_cards WHERE working_queue_position IS NOT NULL").Scan(&maxPosition); err != nil {
		return fmt.Errorf("get max position: %w", err)
	}

	newPosition := int64(1)
	if maxPosition.Valid {
		newPosition = maxPosition.Int64 + 1
	}

	if newPosition > workingQueueSize {
		var oldest int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM review_cards WHERE working_queue_position IS NOT NULL ORDER BY working_queue_position ASC LIMIT 1").Scan(&oldest); err != nil {
			return fmt.Errorf("find oldest card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE review_cards SET working_queue_position = NULL WHERE id = ?", oldest); err != nil {
			return fmt.Errorf("remove oldest card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE review_cards SET working_queue_position = working_queue_position - 1 WHERE working_queue_position IS NOT NULL"); err != nil {
			return fmt.Errorf("shift positions: %w", err)
		}
		newPosition = workingQueueSize
	}

	if _, err := tx.ExecContext(ctx, "UPDATE review_cards SET working_queue_position = ? WHERE id = ?", newPosition, cardID); err != nil {
		return fmt.Errorf("add card to queue: %w", err)
	}
	return nil
}

func removeFromWorkingQueue(ctx context.Context, tx *sql.Tx, cardID int64) error {
	var position sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT working_queue_position FROM review_cards WHERE id = ?", cardID).Scan(&position); err != nil {
		return fmt.Errorf("get card position: %w", err)
	}
	if !position.Valid {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "UPDATE review_cards SET working_queue_position = NULL WHERE id = ?", cardID); err != nil {
		return fmt.Errorf("remove card from queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE review_cards SET working_queue_position = working_queue_position - 1 WHERE working_queue_position > ?", position.Int64); err != nil {
		return fmt.Errorf("shift positions down: %w", err)
	}
	return nil
}

func scanCard(row rowScanner) (*models.ReviewCard, error) {
	card := &models.ReviewCard{}
	var options string
	if err := row.Scan(
		&card.ID,
		&card.DocumentID,
		&card.Question.Question,
		&options,
		&card.Question.CorrectAnswer,
		&card.Question.Explanation,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.WorkingQueuePosition,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.DocumentTitle,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &card.Question.Options); err != nil {
		return nil, fmt.Errorf("decode options of card %d: %w", card.ID, err)
	}
	return card, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}

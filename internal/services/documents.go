package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdfnotes/internal/extract"
	"pdfnotes/internal/models"
)

type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

// DocumentInput is the user-editable metadata of a document.
type DocumentInput struct {
	Title       string
	Description string
	CourseID    sql.NullInt64
	Tags        []string
}

// DocumentFilter narrows List. Zero values match everything.
type DocumentFilter struct {
	CourseID int64
	Search   string
}

const documentColumns = `
	d.id, d.title, d.description, d.original_name, d.stored_path, d.file_size, d.page_count,
	d.course_id, c.name, d.tags, d.download_count, d.view_count, d.summary, d.key_points,
	d.text_length, d.analyzed_at, d.uploaded_at`

// Create stores the uploaded file under a generated name and records it.
func (s *DocumentService) Create(ctx context.Context, original string, input DocumentInput, src io.Reader) (*models.Document, error) {
	if err := s.checkCourse(ctx, input.CourseID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(original))
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(out, src)
	out.Close()
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("write file: %w", err)
	}

	pages, err := extract.CountPages(storedPath)
	if err != nil {
		log.Printf("documents: could not count pages of %s: %v", original, err)
		pages = 1
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSuffix(original, filepath.Ext(original))
	}
	tags := cleanTags(input.Tags)

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (title, description, original_name, stored_path, file_size, page_count, course_id, tags, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, title, input.Description, original, storedPath, size, pages, nullInt64Ptr(input.CourseID), strings.Join(tags, ","), now)
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()

	return s.GetByID(ctx, id)
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		LEFT JOIN courses c ON d.course_id = c.id
		WHERE d.id = ?;
	`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// View returns the document and counts the view.
func (s *DocumentService) View(ctx context.Context, id int64) (*models.Document, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET view_count = view_count + 1 WHERE id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("increment views: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

// List returns documents newest first. Search matches title, description
// and tags, case-insensitively.
func (s *DocumentService) List(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents d
		LEFT JOIN courses c ON d.course_id = c.id
		WHERE 1 = 1`
	var args []any
	if filter.CourseID > 0 {
		query += ` AND d.course_id = ?`
		args = append(args, filter.CourseID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query += ` AND (lower(d.title) LIKE ? OR lower(d.description) LIKE ? OR lower(d.tags) LIKE ?)`
		args = append(args, like, like, like)
	}
	query += ` ORDER BY d.uploaded_at DESC, d.id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *DocumentService) Update(ctx context.Context, id int64, input DocumentInput) (*models.Document, error) {
	if err := s.checkCourse(ctx, input.CourseID); err != nil {
		return nil, err
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = current.Title
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, description = ?, course_id = ?, tags = ? WHERE id = ?;
	`, title, input.Description, nullInt64Ptr(input.CourseID), strings.Join(cleanTags(input.Tags), ","), id); err != nil {
		return nil, fmt.Errorf("update document %d: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes the record and its stored file.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if err := os.Remove(doc.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("documents: remove %s: %v", doc.StoredPath, err)
	}
	return nil
}

// RecordDownload counts a download and logs it in the downloads table.
func (s *DocumentService) RecordDownload(ctx context.Context, id int64) (*models.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE documents SET download_count = download_count + 1 WHERE id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("increment downloads: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("document %d: %w", id, ErrNotFound)
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO downloads (document_id, downloaded_at) VALUES (?, ?);`, id, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("insert download: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit download: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Downloads returns the download history of a document, newest first.
func (s *DocumentService) Downloads(ctx context.Context, id int64) ([]models.Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, downloaded_at FROM downloads WHERE document_id = ? ORDER BY downloaded_at DESC, id DESC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []models.Download
	for rows.Next() {
		var d models.Download
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *DocumentService) SaveAnalysis(ctx context.Context, id int64, analysis models.Analysis, analyzedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET summary = ?, key_points = ?, text_length = ?, analyzed_at = ? WHERE id = ?;
	`, analysis.Summary, analysis.KeyPoints, analysis.TextLength, analyzedAt, id)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *DocumentService) checkCourse(ctx context.Context, id sql.NullInt64) error {
	if !id.Valid {
		return nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id = ?;`, id.Int64).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("course %d does not exist: %w", id.Int64, ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("check course: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var tags string
	if err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Description,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.FileSize,
		&doc.PageCount,
		&doc.CourseID,
		&doc.CourseName,
		&tags,
		&doc.DownloadCount,
		&doc.ViewCount,
		&doc.Summary,
		&doc.KeyPoints,
		&doc.TextLength,
		&doc.AnalyzedAt,
		&doc.UploadedAt,
	); err != nil {
		return nil, err
	}
	doc.Tags = SplitTags(tags)
	return &doc, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", " "))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SplitTags parses a comma-separated tag list.
func SplitTags(raw string) []string {
	return cleanTags(strings.Split(raw, ","))
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdfnotes/internal/models"
)

var validCategories = map[models.Category]bool{
	models.CategoryEngineering: true,
	models.CategoryMedical:     true,
	models.CategoryBusiness:    true,
	models.CategoryArts:        true,
	models.CategoryScience:     true,
	models.CategoryTechnology:  true,
	models.CategoryOther:       true,
}

type CourseService struct {
	db *sql.DB
}

func NewCourseService(db *sql.DB) *CourseService {
	return &CourseService{db: db}
}

type CourseInput struct {
	Name        string
	Description string
	Category    models.Category
}

type CourseFilter struct {
	Category models.Category
	Search   string
}

const courseSelect = `
	SELECT c.id, c.name, c.description, c.category, c.created_at,
	       (SELECT COUNT(*) FROM documents d WHERE d.course_id = c.id)
	FROM courses c`

func (s *CourseService) Create(ctx context.Context, input CourseInput) (*models.Course, error) {
	input, err := normalizeCourse(input)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, input.Name, 0); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (name, description, category, created_at) VALUES (?, ?, ?, ?);
	`, input.Name, input.Description, input.Category, now)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	id, _ := res.LastInsertId()
	return &models.Course{
		ID:          id,
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		CreatedAt:   now,
	}, nil
}

func (s *CourseService) Get(ctx context.Context, id int64) (*models.Course, error) {
	row := s.db.QueryRowContext(ctx, courseSelect+` WHERE c.id = ?;`, id)
	var c models.Course
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.CreatedAt, &c.PDFCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("course %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan course: %w", err)
	}
	return &c, nil
}

// List returns courses newest first with their document counts.
func (s *CourseService) List(ctx context.Context, filter CourseFilter) ([]models.Course, error) {
	query := courseSelect + ` WHERE 1 = 1`
	var args []any
	if filter.Category != "" {
		query += ` AND c.category = ?`
		args = append(args, filter.Category)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query += ` AND (lower(c.name) LIKE ? OR lower(c.description) LIKE ?)`
		args = append(args, like, like)
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.CreatedAt, &c.PDFCount); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return courses, nil
}

func (s *CourseService) Update(ctx context.Context, id int64, input CourseInput) (*models.Course, error) {
	input, err := normalizeCourse(input)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, input.Name, id); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE courses SET name = ?, description = ?, category = ? WHERE id = ?;
	`, input.Name, input.Description, input.Category, id); err != nil {
		return nil, fmt.Errorf("update course %d: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Delete removes the course. Its documents are kept and detached.
func (s *CourseService) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete course %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *CourseService) ensureUniqueName(ctx context.Context, name string, exceptID int64) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM courses WHERE lower(name) = lower(?) AND id != ?;`, name, exceptID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check course name: %w", err)
	}
	return fmt.Errorf("%q: %w", name, ErrDuplicateCourse)
}

func normalizeCourse(input CourseInput) (CourseInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if input.Name == "" {
		return input, fmt.Errorf("course name is required: %w", ErrInvalidInput)
	}
	if input.Category == "" {
		input.Category = models.CategoryOther
	}
	if !validCategories[input.Category] {
		return input, fmt.Errorf("unknown category %q: %w", input.Category, ErrInvalidInput)
	}
	return input, nil
}

package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAnalysisNotFound is returned for documents that were never analysed.
	ErrAnalysisNotFound = errors.New("analysis not found")
	// ErrInsufficientContent is returned when a document has too little text to build a quiz from.
	ErrInsufficientContent = errors.New("not enough text content to generate a quiz")
	// ErrEmptyQuestion is returned when a chat question is blank.
	ErrEmptyQuestion = errors.New("question is required")
	// ErrDuplicateCourse is returned when a course name is already taken.
	ErrDuplicateCourse = errors.New("course already exists")
	// ErrInvalidInput covers malformed arguments such as an unknown category.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
)

// AnalysisError wraps the extraction or model failure behind an AI operation.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

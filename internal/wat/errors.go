package wat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAssessmentNotFound  = errors.New("assessment not found")
	ErrNotOwner            = errors.New("assessment belongs to another faculty member")
	ErrDuplicateNumber     = errors.New("wat number already exists for subject, year and semester")
	ErrTimeOverlap         = errors.New("wat window overlaps an existing wat")
	ErrAlreadySubmitted    = errors.New("wat already submitted")
	ErrOutOfWindow         = errors.New("wat is not open")
	ErrAnswerCountMismatch = errors.New("answer count does not match question count")
	ErrInvalidInput        = errors.New("invalid input")
	ErrHasSubmissions      = errors.New("questions cannot change once a wat has submissions")
	ErrAssessmentChanged   = errors.New("wat questions changed while submitting")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It matches ErrInvalidInput.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

type ConflictKind string

const (
	ConflictNone            ConflictKind = "ok"
	ConflictDuplicateNumber ConflictKind = "duplicate_number"
	ConflictTimeOverlap     ConflictKind = "time_overlap"
)

// ConflictError carries the stored assessment that blocked a write.
type ConflictError struct {
	Kind     ConflictKind
	Existing Assessment
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictDuplicateNumber:
		return fmt.Sprintf("%s: wat #%d %s %s %s", ErrDuplicateNumber, e.Existing.WATNumber, e.Existing.Subject, e.Existing.Semester, e.Existing.Year)
	default:
		return fmt.Sprintf("%s: wat #%d %s scheduled %s to %s", ErrTimeOverlap, e.Existing.WATNumber, e.Existing.Subject,
			e.Existing.StartTime.Format(time.RFC3339), e.Existing.EndTime.Format(time.RFC3339))
	}
}

func (e *ConflictError) Is(target error) bool {
	switch target {
	case ErrDuplicateNumber:
		return e.Kind == ConflictDuplicateNumber
	case ErrTimeOverlap:
		return e.Kind == ConflictTimeOverlap
	}
	return false
}

// WindowError matches ErrOutOfWindow and keeps the window so callers can
// tell a closed assessment from one that has not opened yet.
type WindowError struct {
	Now       time.Time
	StartTime time.Time
	EndTime   time.Time
}

func (e *WindowError) Error() string {
	if e.NotYetOpen() {
		return ErrOutOfWindow.Error() + ": opens at " + e.StartTime.Format(time.RFC3339)
	}
	return ErrOutOfWindow.Error() + ": closed at " + e.EndTime.Format(time.RFC3339)
}

func (e *WindowError) Is(target error) bool {
	return target == ErrOutOfWindow
}

func (e *WindowError) NotYetOpen() bool {
	return e.Now.Before(e.StartTime)
}

// StorageError wraps a repository failure that is not a business outcome.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

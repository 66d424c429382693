package tutor

import (
	"errors"
	"fmt"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrForbidden        = errors.New("not permitted for this course")
	// ErrUnavailable means answering failed upstream. It is distinct from
	// an answer saying the material holds nothing relevant.
	ErrUnavailable = errors.New("the assistant is unavailable right now, try again later")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessing is returned when a processing run is already in flight for the document.
	ErrAlreadyProcessing = errors.New("document is already being processed")

	// ErrInvalidTransition is returned when a status change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrQueueFull is returned when the background processing queue cannot accept more work.
	ErrQueueFull = errors.New("processing queue is full")

	// ErrEmptyContent is returned when a step produced no text.
	ErrEmptyContent = errors.New("empty content")
)

// ExtractionErrorKind classifies extraction failures.
type ExtractionErrorKind string

const (
	ExtractionIO          ExtractionErrorKind = "io"
	ExtractionUnsupported ExtractionErrorKind = "unsupported_format"
	ExtractionBackend     ExtractionErrorKind = "backend"
)

// ExtractionError is the only error type returned by the extraction coordinator.
type ExtractionError struct {
	Kind    ExtractionErrorKind
	Path    string
	Format  Format
	Backend string
	Err     error
}

func (e *ExtractionError) Error() string {
	switch e.Kind {
	case ExtractionUnsupported:
		return fmt.Sprintf("unsupported format %q: %s", e.Format, e.Path)
	case ExtractionIO:
		return fmt.Sprintf("read %s: %v", e.Path, e.Err)
	default:
		if e.Backend != "" {
			return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Backend, e.Err)
		}
		return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
	}
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsUnsupportedFormat reports whether err is an extraction error for an unsupported format.
func IsUnsupportedFormat(err error) bool {
	var extErr *ExtractionError
	return errors.As(err, &extErr) && extErr.Kind == ExtractionUnsupported
}

// TransformError wraps a failure of the task-specific transform.
type TransformError struct {
	TaskType string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q: %v", e.TaskType, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed status write or result upsert.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

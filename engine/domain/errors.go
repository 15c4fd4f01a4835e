package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for downstream component failures. Every external call
// made by the pipeline resolves to one of these via Classify.
var (
	ErrUnavailable       = errors.New("component unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrOversize          = errors.New("input exceeds provider limit")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrQuotaExhausted    = errors.New("quota exhausted")
	ErrSafetyBlocked     = errors.New("blocked by safety filter")
	ErrMalformed         = errors.New("malformed response")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrConflict          = errors.New("conflict")
	ErrEmptyQuestion     = errors.New("empty question")
)

// Kind is the closed set of pipeline-level error kinds.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindEmbedding      Kind = "embedding_failure"
	KindVectorSearch   Kind = "vector_search_failure"
	KindGeneration     Kind = "generation_failure"
	KindStorage        Kind = "storage_failure"
	KindDegradedAnswer Kind = "degraded_answer"
	KindCancelled      Kind = "cancelled"
)

// PipelineError carries a Kind plus the underlying cause.
type PipelineError struct {
	Kind    Kind
	Wrapped error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Wrapped)
}

func (e *PipelineError) Unwrap() error { return e.Wrapped }

// NewPipelineError wraps err with a pipeline kind.
func NewPipelineError(kind Kind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Wrapped: err}
}

// KindOf extracts the pipeline kind from err, or "" if it carries none.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Classify maps an arbitrary downstream error onto the sentinel set.
// Context cancellation and deadline expiry win over everything else;
// unknown errors promote to ErrUnavailable.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", err, ErrUnavailable)
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrOversize),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrQuotaExhausted),
		errors.Is(err, ErrSafetyBlocked),
		errors.Is(err, ErrMalformed),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// IsCancelled reports whether err stems from a missed deadline or an
// explicit cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

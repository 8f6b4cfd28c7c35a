package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion and inference pipelines.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrParseFailure      = errors.New("document parse failure")
	ErrEmptyCorpus       = errors.New("empty corpus")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrNotFound          = errors.New("knowledge base not found")
	ErrTriageParse       = errors.New("triage response unparseable")
	ErrNoKnowledgeBase   = errors.New("no knowledge base bound")
	ErrGenerationFailure = errors.New("answer generation failed")

	ErrBadIdentity  = errors.New("malformed document identity")
	ErrEmptyQuery   = errors.New("query is empty")
	ErrQueryTooLong = errors.New("query too long")
	ErrInvalidRole  = errors.New("invalid conversation role")
	ErrEmptyTurn    = errors.New("empty conversation turn")
)

// ValidationError wraps a sentinel with context.
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

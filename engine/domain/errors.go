package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below wrap them, so errors.Is works on both.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrUpstream        = errors.New("upstream failure")
	ErrMalformedOutput = errors.New("malformed model output")

	ErrEmptyQuery     = errors.New("query is empty")
	ErrEmptyBody      = errors.New("article body is empty")
	ErrTooManyIDs     = errors.New("too many identifiers")
	ErrOutOfRange     = errors.New("value out of range")
	ErrMissingIDs     = errors.New("identifier is required")
	ErrUnknownOption  = errors.New("unknown option")
	ErrSameIdentifier = errors.New("identifiers must differ")
)

// ValidationError rejects a request before any external call is made.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Wrapped} }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError names the identifiers that could not be found.
type NotFoundError struct {
	Entity string
	IDs    []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity string, ids ...string) *NotFoundError {
	return &NotFoundError{Entity: entity, IDs: ids}
}

// UpstreamError wraps a failure of an embedding, index, completion or store
// call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

// NewUpstreamError creates an UpstreamError.
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

package domain

import (
	"errors"
	"fmt"
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeSkipped
	OutcomeNotFound
	OutcomeUpstream
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUpstream:
		return "upstream_error"
	case OutcomeInvalid:
		return "validation_error"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a single-item operation:
// Ok(value) | Skipped(value, reason) | NotFound(ids) | Upstream(err) | Invalid(err).
type Outcome[T any] struct {
	kind   OutcomeKind
	val    T
	reason string
	err    error
}

// Ok is a successful outcome.
func Ok[T any](v T) Outcome[T] { return Outcome[T]{kind: OutcomeOK, val: v} }

// Skipped is a successful no-op, e.g. the record was already enriched.
func Skipped[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{kind: OutcomeSkipped, val: v, reason: reason}
}

// NotFound names the missing identifiers.
func NotFound[T any](entity string, ids ...string) Outcome[T] {
	err := NewNotFoundError(entity, ids...)
	return Outcome[T]{kind: OutcomeNotFound, err: err, reason: err.Error()}
}

// Upstream wraps a failed external call.
func Upstream[T any](op string, err error) Outcome[T] {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		ue = NewUpstreamError(op, err)
	}
	return Outcome[T]{kind: OutcomeUpstream, err: ue, reason: ue.Error()}
}

// Invalid wraps a validation failure.
func Invalid[T any](err error) Outcome[T] {
	return Outcome[T]{kind: OutcomeInvalid, err: err, reason: err.Error()}
}

// FromError classifies err by the sentinels it wraps. Unclassified errors
// are treated as upstream failures of op.
func FromError[T any](op string, err error) Outcome[T] {
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return Outcome[T]{kind: OutcomeNotFound, err: nf, reason: nf.Error()}
	case errors.Is(err, ErrValidation):
		return Invalid[T](err)
	default:
		return Upstream[T](op, err)
	}
}

func (o Outcome[T]) Kind() OutcomeKind { return o.kind }

// Value returns the payload; it is the zero value unless Ok or Skipped.
func (o Outcome[T]) Value() T { return o.val }

// Err returns nil for Ok and Skipped.
func (o Outcome[T]) Err() error { return o.err }

// Reason is a human-readable explanation for non-Ok outcomes.
func (o Outcome[T]) Reason() string { return o.reason }

// Succeeded is true for Ok and Skipped.
func (o Outcome[T]) Succeeded() bool {
	return o.kind == OutcomeOK || o.kind == OutcomeSkipped
}

func (o Outcome[T]) String() string {
	if o.reason == "" {
		return o.kind.String()
	}
	return fmt.Sprintf("%s: %s", o.kind, o.reason)
}

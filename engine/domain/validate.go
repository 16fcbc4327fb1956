package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Request bounds.
const (
	MaxBatchIDs         = 100
	MaxUnevaluatedLimit = 200
	MinTopK             = 1
	MaxTopK             = 20
	MaxQueryRunes       = 2000
)

// ValidateBatchIDs rejects id lists above MaxBatchIDs. An empty list is valid.
func ValidateBatchIDs(n int) error {
	if n > MaxBatchIDs {
		return NewValidationError("ids", strconv.Itoa(n), ErrTooManyIDs)
	}
	return nil
}

// ValidateBatchParams checks the concurrency width and the pacing delay.
func ValidateBatchParams(width int, delay time.Duration) error {
	if width < 1 {
		return NewValidationError("batch_size", strconv.Itoa(width), ErrOutOfRange)
	}
	if delay < 0 {
		return NewValidationError("delay", delay.String(), ErrOutOfRange)
	}
	return nil
}

// ValidateLimit checks a selection limit against [1, max].
func ValidateLimit(limit, max int) error {
	if limit < 1 || limit > max {
		return NewValidationError("limit", strconv.Itoa(limit), ErrOutOfRange)
	}
	return nil
}

// ValidateTopK checks topK against [MinTopK, MaxTopK].
func ValidateTopK(topK int) error {
	if topK < MinTopK || topK > MaxTopK {
		return NewValidationError("top_k", strconv.Itoa(topK), ErrOutOfRange)
	}
	return nil
}

// ValidateQuery requires non-blank query text of bounded length.
func ValidateQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(trimmed) > MaxQueryRunes {
		return NewValidationError("query", string([]rune(trimmed)[:32])+"...", ErrOutOfRange)
	}
	return nil
}

// ValidateIdentifier requires a non-blank identifier.
func ValidateIdentifier(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError(field, id, ErrMissingIDs)
	}
	return nil
}

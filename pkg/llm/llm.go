// Package llm defines the narrow contracts the engines use to reach
// completion and embedding models, plus a guard that adds rate limiting,
// a circuit breaker and bounded retry around any provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Params are per-call completion parameters.
type Params struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, p Params) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	return f(ctx, prompt, p)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("llm: empty response")

// StatusError carries the HTTP status a provider answered with.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Transient reports whether a later attempt could plausibly succeed:
// throttling, server errors and transport failures are transient; other
// client errors, empty answers and cancellation are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout || se.Code >= 500
	}
	return true
}

// Package provider builds guarded llm clients from configuration.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marketpulse/signals/pkg/config"
	"github.com/marketpulse/signals/pkg/fn"
	"github.com/marketpulse/signals/pkg/llm"
	"github.com/marketpulse/signals/pkg/llm/anthropic"
	"github.com/marketpulse/signals/pkg/llm/google"
	"github.com/marketpulse/signals/pkg/llm/openai"
	"github.com/marketpulse/signals/pkg/metrics"
	"github.com/marketpulse/signals/pkg/ollama"
	"github.com/marketpulse/signals/pkg/resilience"
)

// Clients are the model handles the engines need.
type Clients struct {
	// Completer retries transient failures.
	Completer llm.Completer
	// CompleterOnce makes exactly one attempt per call.
	CompleterOnce llm.Completer
	Embedder      llm.Embedder
}

func tracedHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// New builds completion and embedding clients.
func New(ctx context.Context, cfg config.Config, reg *metrics.Registry, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := NewCompleter(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	retry := fn.DefaultRetry
	retry.MaxAttempts = max(cfg.LLM.RetryAttempts, 1)
	completions := llm.NewGuard(llm.GuardOpts{
		Name:          cfg.LLM.Provider,
		RatePerSecond: cfg.LLM.RatePerSecond,
		Burst:         cfg.LLM.Burst,
		Timeout:       cfg.LLM.Timeout,
		Retry:         retry,
		Breaker: resilience.NewBreaker(resilience.BreakerOpts{
			Name:          cfg.LLM.Provider,
			FailThreshold: cfg.LLM.BreakerFails,
			Counts:        llm.Transient,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("llm breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		Metrics: reg,
		Logger:  logger,
	})
	embeddings := llm.NewGuard(llm.GuardOpts{
		Name:    cfg.Embedding.Provider + "-embed",
		Timeout: cfg.LLM.Timeout,
		Retry:   retry,
		Metrics: reg,
		Logger:  logger,
	})

	return &Clients{
		Completer:     completions.Completer(raw),
		CompleterOnce: completions.CompleterOnce(raw),
		Embedder:      embeddings.Embedder(emb),
	}, nil
}

// NewCompleter returns the unguarded completion client for cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (llm.Completer, error) {
	opts := []llm.Option{
		llm.WithAPIKey(cfg.APIKey),
		llm.WithModel(cfg.Model),
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithHTTPClient(tracedHTTPClient()),
	}
	switch cfg.Provider {
	case "openai":
		return openai.New(opts...), nil
	case "anthropic":
		return anthropic.New(opts...), nil
	case "google":
		return google.New(ctx, opts...)
	case "ollama":
		return ollama.New(opts...), nil
	default:
		return nil, fmt.Errorf("provider: unknown completion provider %q", cfg.Provider)
	}
}

// NewEmbedder returns the unguarded embedding client for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (llm.Embedder, error) {
	opts := []llm.Option{
		llm.WithAPIKey(cfg.APIKey),
		llm.WithModel(cfg.Model),
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithHTTPClient(tracedHTTPClient()),
	}
	switch cfg.Provider {
	case "openai":
		return openai.New(opts...), nil
	case "google":
		return google.New(ctx, opts...)
	case "ollama":
		return ollama.New(opts...), nil
	default:
		return nil, fmt.Errorf("provider: unknown embedding provider %q", cfg.Provider)
	}
}

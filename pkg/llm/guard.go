package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/marketpulse/signals/pkg/fn"
	"github.com/marketpulse/signals/pkg/metrics"
	"github.com/marketpulse/signals/pkg/resilience"
)

// GuardOpts configures a Guard.
type GuardOpts struct {
	Name string
	// RatePerSecond and Burst bound outbound calls. Zero rate disables
	// limiting.
	RatePerSecond float64
	Burst         int
	// Timeout bounds one attempt. Zero leaves the caller's deadline alone.
	Timeout time.Duration
	Retry   fn.RetryOpts
	// Breaker is shared by every client wrapped with this guard.
	Breaker *resilience.Breaker
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Guard protects a provider account: every wrapped client shares one
// limiter and one breaker.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *resilience.Breaker
	timeout time.Duration
	retry   fn.RetryOpts
	reg     *metrics.Registry
	logger  *slog.Logger
}

func NewGuard(opts GuardOpts) *Guard {
	if opts.Name == "" {
		opts.Name = "llm"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breaker == nil {
		name := opts.Name
		logger := opts.Logger
		opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{
			Name:   name,
			Counts: Transient,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("llm breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = Transient
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1))
	}
	return &Guard{
		name:    opts.Name,
		limiter: limiter,
		breaker: opts.Breaker,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		reg:     opts.Metrics,
		logger:  opts.Logger,
	}
}

// Completer wraps c with limiting, the breaker and retry on transient
// errors.
func (g *Guard) Completer(c Completer) Completer {
	return &guardedCompleter{g: g, next: c, retry: true}
}

// CompleterOnce wraps c with limiting and the breaker but makes exactly
// one attempt.
func (g *Guard) CompleterOnce(c Completer) Completer {
	return &guardedCompleter{g: g, next: c}
}

// Embedder wraps e like Completer does.
func (g *Guard) Embedder(e Embedder) Embedder {
	return &guardedEmbedder{g: g, next: e}
}

type guardedCompleter struct {
	g     *Guard
	next  Completer
	retry bool
}

func (c *guardedCompleter) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	return run(ctx, c.g, "complete", c.retry, func(ctx context.Context) (string, error) {
		return c.next.Complete(ctx, prompt, p)
	})
}

type guardedEmbedder struct {
	g    *Guard
	next Embedder
}

func (e *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return run(ctx, e.g, "embed", true, func(ctx context.Context) ([]float32, error) {
		return e.next.Embed(ctx, text)
	})
}

func run[T any](ctx context.Context, g *Guard, op string, retry bool, call func(context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) fn.Result[T] {
		if err := g.limiter.Wait(ctx); err != nil {
			return fn.Err[T](fmt.Errorf("%s: %s: rate limit wait: %w", g.name, op, err))
		}
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		start := time.Now()
		v, err := resilience.Do(ctx, g.breaker, call)
		g.observe(op, start, err)
		return fn.FromPair(v, err)
	}

	var res fn.Result[T]
	if retry {
		res = fn.Retry(ctx, g.retry, attempt)
	} else {
		res = attempt(ctx)
	}
	return res.Unwrap()
}

func (g *Guard) observe(op string, start time.Time, err error) {
	if g.reg == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.reg.Histogram("llm_call_seconds", "Latency of model provider calls", nil, "provider", g.name, "op", op).Since(start)
	g.reg.Counter("llm_calls_total", "Model provider calls", "provider", g.name, "op", op, "status", status).Inc()
}

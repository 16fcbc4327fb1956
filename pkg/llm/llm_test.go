package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketpulse/signals/pkg/fn"
	"github.com/marketpulse/signals/pkg/metrics"
	"github.com/marketpulse/signals/pkg/resilience"
)

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"empty", fmt.Errorf("openai: %w", ErrEmptyResponse), false},
		{"429", &StatusError{Provider: "openai", Code: http.StatusTooManyRequests, Err: errors.New("slow down")}, true},
		{"503", &StatusError{Provider: "openai", Code: 503, Err: errors.New("busy")}, true},
		{"400", &StatusError{Provider: "openai", Code: 400, Err: errors.New("bad")}, false},
		{"transport", errors.New("connection reset"), true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGuardRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	raw := CompleterFunc(func(context.Context, string, Params) (string, error) {
		if calls.Add(1) < 3 {
			return "", &StatusError{Provider: "fake", Code: 503, Err: errors.New("busy")}
		}
		return "done", nil
	})
	reg := metrics.New()
	g := NewGuard(GuardOpts{Name: "fake", Retry: fastRetry, Metrics: reg})

	out, err := g.Completer(raw).Complete(context.Background(), "hi", Params{})
	if err != nil || out != "done" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	render := reg.Render()
	if !strings.Contains(render, `llm_calls_total{provider="fake",op="complete",status="error"} 2`) {
		t.Errorf("metrics missing error count:\n%s", render)
	}
}

func TestGuardDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	raw := CompleterFunc(func(context.Context, string, Params) (string, error) {
		calls.Add(1)
		return "", &StatusError{Provider: "fake", Code: 400, Err: errors.New("bad prompt")}
	})
	g := NewGuard(GuardOpts{Retry: fastRetry})
	if _, err := g.Completer(raw).Complete(context.Background(), "hi", Params{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGuardOnceMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	raw := CompleterFunc(func(context.Context, string, Params) (string, error) {
		calls.Add(1)
		return "", errors.New("timeout")
	})
	g := NewGuard(GuardOpts{Retry: fastRetry})
	if _, err := g.CompleterOnce(raw).Complete(context.Background(), "hi", Params{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGuardBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	raw := CompleterFunc(func(context.Context, string, Params) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	})
	br := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Cooldown: time.Hour})
	g := NewGuard(GuardOpts{Breaker: br})
	c := g.CompleterOnce(raw)
	ctx := context.Background()
	_, _ = c.Complete(ctx, "a", Params{})
	_, _ = c.Complete(ctx, "b", Params{})
	_, err := c.Complete(ctx, "c", Params{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGuardRateLimitHonoursContext(t *testing.T) {
	raw := CompleterFunc(func(context.Context, string, Params) (string, error) { return "ok", nil })
	g := NewGuard(GuardOpts{RatePerSecond: 0.001, Burst: 1})
	c := g.CompleterOnce(raw)
	if _, err := c.Complete(context.Background(), "first", Params{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, "second", Params{}); err == nil {
		t.Fatal("second call should fail waiting for the limiter")
	}
}

func TestGuardEmbedder(t *testing.T) {
	var calls atomic.Int32
	raw := EmbedderFunc(func(context.Context, string) ([]float32, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("reset")
		}
		return []float32{0.1, 0.2}, nil
	})
	g := NewGuard(GuardOpts{Retry: fastRetry})
	vec, err := g.Embedder(raw).Embed(context.Background(), "apple")
	if err != nil || len(vec) != 2 {
		t.Fatalf("Embed = %v, %v", vec, err)
	}
}

func TestNewOptions(t *testing.T) {
	o := NewOptions(WithAPIKey("k"), WithModel("m"), WithBaseURL("http://x"))
	if o.APIKey != "k" || o.Model != "m" || o.BaseURL != "http://x" || o.HTTPClient == nil {
		t.Fatalf("options = %+v", o)
	}
}

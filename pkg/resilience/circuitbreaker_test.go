package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/signals/pkg/fn"
)

var errProvider = errors.New("provider 503")

func failing(context.Context) error { return errProvider }
func passing(context.Context) error { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Cooldown: time.Second})
	ctx := context.Background()
	if b.State() != StateClosed {
		t.Fatalf("initial state = %v", b.State())
	}
	for range 3 {
		_ = b.Call(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("open breaker must not invoke the call")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3})
	ctx := context.Background()
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, passing)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	var seen []string
	b := NewBreaker(BreakerOpts{
		Name:          "llm",
		FailThreshold: 2,
		Cooldown:      5 * time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			seen = append(seen, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	now = now.Add(6 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Call(ctx, passing); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	want := []string{"llm:closed->open", "llm:open->half-open", "llm:half-open->closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	now = now.Add(2 * time.Second)
	_ = b.Call(ctx, failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1})
	ctx := context.Background()
	_ = b.Call(ctx, func(context.Context) error { return context.Canceled })
	if b.State() != StateClosed {
		t.Fatalf("cancellation tripped the breaker")
	}
}

func TestBreakerCustomCounts(t *testing.T) {
	errBadRequest := errors.New("400")
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Counts:        func(err error) bool { return !errors.Is(err, errBadRequest) },
	})
	_ = b.Call(context.Background(), func(context.Context) error { return errBadRequest })
	if b.State() != StateClosed {
		t.Fatal("uncounted error tripped the breaker")
	}
}

func TestDo(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1})
	ctx := context.Background()
	v, err := Do(ctx, b, func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("Do = %q, %v", v, err)
	}
	_, _ = Do(ctx, b, func(context.Context) (string, error) { return "", errProvider })
	_, err = Do(ctx, b, func(context.Context) (string, error) { return "late", nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1})
	stage := Stage(b, func(_ context.Context, n int) fn.Result[int] {
		if n < 0 {
			return fn.Err[int](errProvider)
		}
		return fn.Ok(n * 2)
	})
	ctx := context.Background()
	if v, err := stage(ctx, 2).Unwrap(); err != nil || v != 4 {
		t.Fatalf("stage(2) = %d, %v", v, err)
	}
	_ = stage(ctx, -1)
	if _, err := stage(ctx, 3).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

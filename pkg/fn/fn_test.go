package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatalf("Unwrap = %d, %v", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Fatal("Err should not be ok")
	}
	if e.UnwrapOr(7) != 7 {
		t.Fatal("UnwrapOr should return fallback")
	}
	if Err[int](nil).IsOk() {
		t.Fatal("Err(nil) must still fail")
	}
}

func TestFromPairAndMapResult(t *testing.T) {
	r := MapResult(FromPair(2, nil), func(v int) string { return "x" })
	if v, _ := r.Unwrap(); v != "x" {
		t.Fatalf("got %q", v)
	}
	failed := MapResult(FromPair(0, errors.New("bad")), func(v int) string { return "x" })
	if _, err := failed.Unwrap(); err == nil || err.Error() != "bad" {
		t.Fatalf("error should propagate, got %v", err)
	}
}

func TestCollectFirstError(t *testing.T) {
	r := Collect([]Result[int]{Ok(1), Err[int](errors.New("first")), Err[int](errors.New("second"))})
	if _, err := r.Unwrap(); err == nil || err.Error() != "first" {
		t.Fatalf("expected first error, got %v", err)
	}
	all := Collect([]Result[int]{Ok(1), Ok(2)})
	if v, _ := all.Unwrap(); len(v) != 2 {
		t.Fatalf("expected 2 values, got %v", v)
	}
}

func TestParMapResultPreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	out := ParMapResult(context.Background(), items, 2, func(_ context.Context, v int) Result[int] {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return Ok(v * 10)
	})
	for i, r := range out {
		if v, _ := r.Unwrap(); v != items[i]*10 {
			t.Fatalf("out[%d] = %d, want %d", i, v, items[i]*10)
		}
	}
}

func TestParMapResultBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	ParMapResult(context.Background(), make([]int, 12), 3, func(_ context.Context, _ int) Result[int] {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Ok(0)
	})
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", peak.Load())
	}
}

func TestParMapResultRecoversPanics(t *testing.T) {
	out := ParMapResult(context.Background(), []int{1, 2, 3}, 0, func(_ context.Context, v int) Result[int] {
		if v == 2 {
			panic("kaboom")
		}
		return Ok(v)
	})
	if !out[0].IsOk() || !out[2].IsOk() {
		t.Fatal("siblings of a panicking item should succeed")
	}
	if _, err := out[1].Unwrap(); err == nil {
		t.Fatal("panicking item should fail")
	}
}

func TestParMapResultEmpty(t *testing.T) {
	if out := ParMapResult(context.Background(), []int{}, 4, func(_ context.Context, v int) Result[int] { return Ok(v) }); len(out) != 0 {
		t.Fatalf("expected empty, got %d", len(out))
	}
}

func TestFanOut(t *testing.T) {
	out := FanOut(func() int { return 1 }, func() int { return 2 })
	if len(out) != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("unexpected %v", out)
	}
}

func TestChunk(t *testing.T) {
	cases := []struct {
		n     int
		items int
		sizes []int
	}{
		{3, 10, []int{3, 3, 3, 1}},
		{5, 3, []int{3}},
		{2, 4, []int{2, 2}},
		{4, 0, nil},
	}
	for _, tc := range cases {
		chunks := Chunk(make([]int, tc.items), tc.n)
		if len(chunks) != len(tc.sizes) {
			t.Fatalf("Chunk(%d, %d): %d chunks, want %d", tc.items, tc.n, len(chunks), len(tc.sizes))
		}
		for i, c := range chunks {
			if len(c) != tc.sizes[i] {
				t.Fatalf("Chunk(%d, %d)[%d] = %d items, want %d", tc.items, tc.n, i, len(c), tc.sizes[i])
			}
		}
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n=0 should be nil")
	}
}

func TestUniqueAndFilterMap(t *testing.T) {
	u := Unique([]int{3, 1, 3, 2, 1})
	if len(u) != 3 || u[0] != 3 || u[1] != 1 || u[2] != 2 {
		t.Fatalf("Unique = %v", u)
	}
	evens := FilterMap([]int{1, 2, 3, 4}, func(v int) (int, bool) { return v * v, v%2 == 0 })
	if len(evens) != 2 || evens[0] != 4 || evens[1] != 16 {
		t.Fatalf("FilterMap = %v", evens)
	}
	if m := Map([]int{1, 2}, func(v int) int { return v + 1 }); m[1] != 3 {
		t.Fatalf("Map = %v", m)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	if !r.IsOk() || calls != 3 {
		t.Fatalf("expected success on third call, got ok=%v calls=%d", r.IsOk(), calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if r.IsOk() || calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Second}, func(context.Context) Result[int] {
		return Err[int](errors.New("x"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	first := Stage[int, int](func(_ context.Context, v int) Result[int] { return Err[int](errors.New("stop")) })
	second := Stage[int, string](func(_ context.Context, v int) Result[string] {
		called = true
		return Ok("x")
	})
	r := Traced("test", Then(first, second))(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage must not run after a failure")
	}
}

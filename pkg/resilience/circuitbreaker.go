// Package resilience guards calls to flaky upstreams (model providers,
// vector stores) with a consecutive-failure circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marketpulse/signals/pkg/fn"
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without invoking the call while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	Name string
	// FailThreshold consecutive counted failures trip the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before admitting probes.
	Cooldown    time.Duration
	HalfOpenMax int
	// Counts reports whether an error should count toward tripping.
	// Nil counts every error except context cancellation.
	Counts func(error) bool
	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)
}

var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is safe for concurrent use by the workers of one batch run.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.Counts == nil {
		opts.Counts = countsByDefault
	}
	return &Breaker{opts: opts, now: time.Now}
}

func countsByDefault(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	tr, st := b.refresh()
	b.mu.Unlock()
	if tr != nil {
		b.notify(*tr)
	}
	return st
}

type transition struct{ from, to State }

// refresh moves open to half-open once the cooldown elapsed. Must hold mu.
func (b *Breaker) refresh() (*transition, State) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
		return &transition{StateOpen, StateHalfOpen}, b.state
	}
	return nil, b.state
}

func (b *Breaker) notify(t transition) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, t.from, t.to)
	}
}

// admit reserves a slot for one call or reports ErrCircuitOpen.
func (b *Breaker) admit() error {
	b.mu.Lock()
	tr, st := b.refresh()
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	if tr != nil {
		b.notify(*tr)
	}
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	var tr *transition
	switch {
	case err == nil:
		if b.state == StateHalfOpen {
			tr = &transition{StateHalfOpen, StateClosed}
			b.state = StateClosed
		}
		b.failures = 0
	case !b.opts.Counts(err):
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			tr = &transition{b.state, StateOpen}
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
	}
	b.mu.Unlock()
	if tr != nil && tr.from != tr.to {
		b.notify(*tr)
	}
}

// Call runs f unless the breaker is open.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

// Do is the value-returning form of Call.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	v, err := f(ctx)
	b.record(err)
	return v, err
}

// Stage wraps a pipeline stage so its failures feed the breaker.
func Stage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := b.admit(); err != nil {
			return fn.Err[Out](err)
		}
		res := stage(ctx, in)
		if res.IsErr() {
			_, err := res.Unwrap()
			b.record(err)
		} else {
			b.record(nil)
		}
		return res
	}
}

package fn

import (
	"context"
	"fmt"
	"sync"
)

// ParMapResult applies f to every item with at most workers goroutines in
// flight and returns the results in input order. A panic inside f is
// recovered and reported as that item's failure; siblings are unaffected.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() {
				if p := recover(); p != nil {
					out[i] = Err[U](fmt.Errorf("panic: %v", p))
				}
				<-sem
				wg.Done()
			}()
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}

// FanOut runs the functions concurrently and returns their values in order.
func FanOut[T any](fns ...func() T) []T {
	out := make([]T, len(fns))
	var wg sync.WaitGroup
	for i, f := range fns {
		wg.Add(1)
		go func(i int, f func() T) {
			defer wg.Done()
			out[i] = f()
		}(i, f)
	}
	wg.Wait()
	return out
}

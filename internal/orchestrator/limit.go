package orchestrator

import (
	"context"
	"sync"
)

// runWithLimit executes fn for every index in [0, n) with at most limit
// goroutines in flight. Results are indexed by input position so callers
// see them in input order regardless of completion order. Work is handed
// out through a single channel, so earlier indices are claimed first.
func runWithLimit[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) T) []T {
	results := make([]T, n)
	if n == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}
	if limit > n {
		limit = n
	}

	indices := make(chan int)
	var wg sync.WaitGroup
	for range limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = fn(ctx, i)
			}
		}()
	}

	// Every index is dispatched even after cancellation so each member
	// still gets a result; fn observes the cancelled context and fails
	// fast.
	for i := range n {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return results
}

// Package pool runs bounded-concurrency fan-outs with order-preserving
// result collection.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result holds the outcome of one fan-out task.
type Result[T any] struct {
	Value T
	Err   error
}

// Map runs fn(i) for every i in [0,n) with at most limit tasks in flight,
// collecting results by input index. Once ctx is done, no new task starts;
// tasks already running finish, and every unstarted slot receives ctx.Err().
//
// The concurrency bound is the caller's session budget: MoSAPI permits a
// fixed number of concurrent sessions per certificate, and limit must not
// exceed it.
func Map[T any](ctx context.Context, limit int64, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup
	for i := range n {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline hit: fill this and all remaining slots.
			for j := i; j < n; j++ {
				results[j].Err = err
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i].Value, results[i].Err = fn(ctx, i)
		}()
	}
	wg.Wait()
	return results
}

package engine

import (
	"context"
	"fmt"
	"sync"
)

// Default batch widths: video tasks run wider because each one is mostly
// remote waiting.
const (
	DefaultBatchConcurrency      = 8
	DefaultVideoBatchConcurrency = 20
)

// BatchResult pairs one input's outcome with its position in the batch.
type BatchResult[R any] struct {
	Value R
	Err   error
}

// Ok reports whether the item succeeded.
func (r BatchResult[R]) Ok() bool {
	return r.Err == nil
}

// RunBatch invokes fn on every item with at most concurrency invocations in
// flight, chunk by chunk: each chunk of size concurrency runs fully before
// the next starts. Results preserve input order, and a failing or panicking
// invocation becomes a failure-shaped result instead of aborting the batch.
func RunBatch[T any, R any](ctx context.Context, items []T, concurrency int, fn func(ctx context.Context, item T) (R, error)) []BatchResult[R] {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]BatchResult[R], len(items))
	for start := 0; start < len(items); start += concurrency {
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = runOne(ctx, items[idx], fn)
			}(i)
		}
		wg.Wait()
	}
	return results
}

func runOne[T any, R any](ctx context.Context, item T, fn func(ctx context.Context, item T) (R, error)) (result BatchResult[R]) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Err = fmt.Errorf("batch item panicked: %v", rec)
		}
	}()
	result.Value, result.Err = fn(ctx, item)
	return result
}

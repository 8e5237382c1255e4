// Package batch provides a bounded worker pool for running independent
// tasks with positionally stable results.
package batch

import (
	"context"
	"runtime"
	"sync"

	"github.com/mindsim/layermem/pkg/errors"
)

// Processor runs batches of tasks over a fixed number of workers.
type Processor struct {
	workers int
}

// New returns a processor with the given worker count; a non-positive count
// defaults to the number of CPUs.
func New(workers int) *Processor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Processor{workers: workers}
}

// Workers returns the pool width.
func (p *Processor) Workers() int {
	return p.workers
}

// Task computes the value for one input index.
type Task[T any] func(ctx context.Context, index int) (T, error)

// Result pairs one task's output with its error, at the task's input index.
type Result[T any] struct {
	Value T
	Err   error
}

// Map runs task once per index in [0, n) across the pool and returns results
// in input order. Every task runs to completion; per-task errors land in the
// corresponding Result rather than stopping the batch.
func Map[T any](ctx context.Context, p *Processor, n int, task Task[T]) []Result[T] {
	if n <= 0 {
		return nil
	}

	results := make([]Result[T], n)
	indexes := make(chan int)

	var wg sync.WaitGroup
	workers := p.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				v, err := task(ctx, i)
				results[i] = Result[T]{Value: v, Err: err}
			}
		}()
	}

	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// FirstError returns the error of the lowest-indexed failed result, wrapped
// with its position, or nil when every task succeeded.
func FirstError[T any](results []Result[T]) error {
	for i, r := range results {
		if r.Err != nil {
			return errors.Wrap(r.Err, "task %d failed", i)
		}
	}
	return nil
}

// Package workerpool provides the process-wide parallel-decode task graph spec §5
// describes: a bounded pool of workers that decode blocks in parallel and hand
// results back in submission order, with per-request cancellation that never
// poisons the pool for other callers.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent decode tasks to Parallelism and reassembles results in
// the order tasks were submitted, per spec §5's "decoded in parallel and
// reassembled in order."
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool sized to parallelism workers (minimum 1).
func New(parallelism int) *Pool {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(parallelism))}
}

// Task produces a decoded block, or an error. Index ties the result back to its
// submission order.
type Task func(ctx context.Context) ([]byte, error)

// RunOrdered runs each task with at most Pool's configured parallelism and
// returns results in the same order tasks were given, regardless of completion
// order. If ctx is cancelled, in-flight tasks are asked to stop (via ctx) and
// RunOrdered returns the first error encountered; already-started tasks for
// other callers of the same Pool are unaffected (the semaphore slot is simply
// released back to the pool).
func (p *Pool) RunOrdered(ctx context.Context, tasks []Task) ([][]byte, error) {
	results := make([][]byte, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		i, task := i, task
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			data, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Acquire blocks until a worker slot is available or ctx is cancelled. Callers
// that want finer-grained control than RunOrdered (e.g. streaming reassembly)
// use Acquire/Release directly.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a worker slot acquired via Acquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}

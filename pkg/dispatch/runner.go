// Package dispatch implements the batch-dispatch engine: partitioning the
// work list into batches, fanning batches out across a bounded outer pool
// of runners, fanning items out across a bounded inner worker pool within
// each runner, checkpointing progress, and a final retry pass over
// failures.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/linetools/linecheck/pkg/client"
	"github.com/linetools/linecheck/pkg/session"
)

// Caller issues one line-test call for one item. Every outcome is a value;
// a failed result carries a nil payload.
type Caller interface {
	Check(ctx context.Context, item string, cred session.Credential) client.Result
}

// Runner fans one batch out across a bounded worker pool. One item's
// exhaustion does not abort sibling calls; isolation is per item.
type Runner struct {
	caller  Caller
	workers int
	logger  zerolog.Logger
}

// NewRunner creates a batch runner with the given worker count.
func NewRunner(caller Caller, workers int, logger zerolog.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		caller:  caller,
		workers: workers,
		logger:  logger,
	}
}

// Run processes every item in the batch and returns one result per item,
// in completion order (not submission order).
func (r *Runner) Run(ctx context.Context, batch []string, cred session.Credential) []client.Result {
	if len(batch) == 0 {
		return nil
	}

	queue := make(chan string, len(batch))
	for _, item := range batch {
		queue <- item
	}
	close(queue)

	results := make(chan client.Result, len(batch))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go r.worker(ctx, queue, results, cred, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]client.Result, 0, len(batch))
	for res := range results {
		collected = append(collected, res)
	}

	return collected
}

// worker processes items from the queue.
func (r *Runner) worker(ctx context.Context, queue <-chan string, results chan<- client.Result, cred session.Credential, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for item := range queue {
		select {
		case <-ctx.Done():
			// Fail the remaining items instead of dropping them, so every
			// item still reaches the failed set and the retry pass.
			results <- client.Result{Username: item}
			for rest := range queue {
				results <- client.Result{Username: rest}
			}
			r.logger.Debug().
				Int("worker_id", workerID).
				Int("items_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		results <- r.safeCheck(ctx, item, cred)
		processed++
	}

	if processed > 0 {
		r.logger.Debug().
			Int("worker_id", workerID).
			Int("items_processed", processed).
			Msg("Worker completed")
	}
}

// safeCheck converts a panicking call into a failed result so one item
// cannot take down its siblings.
func (r *Runner) safeCheck(ctx context.Context, item string, cred session.Credential) (res client.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("username", item).
				Interface("panic", p).
				Msg("Call panicked, recording item as failed")
			res = client.Result{Username: item}
		}
	}()

	return r.caller.Check(ctx, item, cred)
}

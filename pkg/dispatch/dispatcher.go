package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/linetools/linecheck/pkg/client"
	"github.com/linetools/linecheck/pkg/progress"
	"github.com/linetools/linecheck/pkg/session"
)

// Prometheus metrics for dispatch operations.
var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linecheck_batches_total",
		Help: "Total batches processed by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linecheck_batch_duration_seconds",
		Help:    "Batch processing duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linecheck_items_total",
		Help: "Total items processed by result",
	}, []string{"result"})
)

// Config holds the dispatcher configuration.
type Config struct {
	// BatchSize is the fixed batch length (last batch may be shorter).
	BatchSize int

	// BatchWorkers bounds the outer pool of concurrent batch runners.
	BatchWorkers int

	// ItemWorkers bounds the inner worker pool within each runner.
	ItemWorkers int

	// SaveInterval checkpoints progress every time the accumulated
	// success count crosses a multiple of this value.
	SaveInterval int
}

// Dispatcher partitions the work list into batches, runs them across the
// outer pool, tracks per-item success and failure, and checkpoints
// progress so a restart resumes without redoing completed work.
type Dispatcher struct {
	runner  *Runner
	tracker *progress.Tracker
	config  Config
	logger  zerolog.Logger
}

// New creates a dispatcher.
func New(caller Caller, tracker *progress.Tracker, cfg Config, logger zerolog.Logger) (*Dispatcher, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("progress tracker is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1 (got %d)", cfg.BatchSize)
	}
	if cfg.BatchWorkers < 1 {
		return nil, fmt.Errorf("batch workers must be >= 1 (got %d)", cfg.BatchWorkers)
	}
	if cfg.ItemWorkers < 1 {
		return nil, fmt.Errorf("item workers must be >= 1 (got %d)", cfg.ItemWorkers)
	}
	if cfg.SaveInterval < 1 {
		return nil, fmt.Errorf("save interval must be >= 1 (got %d)", cfg.SaveInterval)
	}

	return &Dispatcher{
		runner:  NewRunner(caller, cfg.ItemWorkers, logger),
		tracker: tracker,
		config:  cfg,
		logger:  logger,
	}, nil
}

// batchOutcome is one finished batch as consumed by the completion loop.
type batchOutcome struct {
	index   int
	items   []string
	results []client.Result
	err     error
}

// Dispatch runs the main pass: resume-truncate, partition, fan out, and
// collect in completion order. It returns the accumulated successes and
// the identifiers of every item whose payload is absent. A batch that
// errors or panics contributes all of its items to the failed set so they
// reach the retry pass instead of being dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, items []string, cred session.Credential) (successes []client.Result, failed []string) {
	loaded := d.tracker.Load()
	offset := d.tracker.ResumeOffset(items, loaded)
	pending := items[offset:]

	batches := Partition(pending, d.config.BatchSize)
	if len(batches) == 0 {
		d.logger.Info().Msg("Nothing to dispatch")
		return nil, nil
	}

	d.logger.Info().
		Int("items", len(pending)).
		Int("batches", len(batches)).
		Int("batch_workers", d.config.BatchWorkers).
		Int("item_workers", d.config.ItemWorkers).
		Msg("Starting dispatch")

	outcomes := make(chan batchOutcome, len(batches))

	var g errgroup.Group
	g.SetLimit(d.config.BatchWorkers)
	for i, batch := range batches {
		g.Go(func() error {
			outcomes <- d.runBatch(ctx, i, batch, cred.Clone())
			return nil
		})
	}

	go func() {
		g.Wait()
		close(outcomes)
	}()

	lastSaved := 0
	for out := range outcomes {
		if out.err != nil {
			// Surface the whole batch as failed rather than dropping it.
			d.logger.Error().
				Err(out.err).
				Int("batch", out.index).
				Int("items", len(out.items)).
				Msg("Batch processing error")
			batchesTotal.WithLabelValues("error").Inc()
			failed = append(failed, out.items...)
			continue
		}

		batchesTotal.WithLabelValues("ok").Inc()

		batchFailed := 0
		for _, res := range out.results {
			if res.Failed() {
				itemsTotal.WithLabelValues("failed").Inc()
				failed = append(failed, res.Username)
				batchFailed++
				continue
			}

			itemsTotal.WithLabelValues("ok").Inc()
			successes = append(successes, res)

			if len(successes)-lastSaved >= d.config.SaveInterval {
				if err := d.tracker.Checkpoint(successes); err != nil {
					d.logger.Warn().Err(err).Msg("Failed to save progress")
				} else {
					lastSaved = len(successes)
				}
			}
		}

		d.logger.Info().
			Int("batch", out.index).
			Int("succeeded", len(out.results)-batchFailed).
			Int("failed", batchFailed).
			Msg("Batch complete")
	}

	d.logger.Info().
		Int("succeeded", len(successes)).
		Int("failed", len(failed)).
		Msg("Dispatch complete")

	return successes, failed
}

// runBatch executes one batch through the inner pool, converting a panic
// into a batch-level error outcome.
func (d *Dispatcher) runBatch(ctx context.Context, index int, batch []string, cred session.Credential) (out batchOutcome) {
	out = batchOutcome{index: index, items: batch}

	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("batch runner panic: %v", r)
			out.results = nil
		}
	}()

	start := time.Now()
	out.results = d.runner.Run(ctx, batch, cred)
	batchDuration.Observe(time.Since(start).Seconds())

	return out
}

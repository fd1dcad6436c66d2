package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// RunLoop calls RunBatch until the queue drains or maxBatches elapse,
// logging progress between batches: cached/total, delta, throughput and a
// remaining estimate.
func (o *Orchestrator) RunLoop(ctx context.Context, key model.CacheKey, maxBatches int) error {
	if maxBatches <= 0 {
		maxBatches = 1000
	}

	total, err := o.store.TotalOrigins(ctx, o.opts.Boroughs)
	if err != nil {
		return fmt.Errorf("total origins: %w", err)
	}
	prevCached, err := o.store.CachedCount(ctx, key)
	if err != nil {
		return fmt.Errorf("cached count: %w", err)
	}

	o.logger.Info("batch loop starting",
		"key", key.String(), "cached", prevCached, "total", total,
		"batch_size", o.opts.BatchSize, "parallelism", o.opts.Parallelism,
		"workers", o.fleet.Size())

	loopStart := time.Now()
	for batch := 1; batch <= maxBatches; batch++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("batch loop: %w", ctx.Err())
		default:
		}

		batchStart := time.Now()
		res, err := o.RunBatch(ctx, key)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batch, err)
		}
		if res.Done() {
			o.logger.Info("queue drained", "batches", batch-1, "dur", time.Since(loopStart).String())
			return nil
		}

		cached, err := o.store.CachedCount(ctx, key)
		if err != nil {
			return fmt.Errorf("cached count: %w", err)
		}
		delta := cached - prevCached
		prevCached = cached

		elapsed := time.Since(batchStart).Seconds()
		rate := 0.0
		if elapsed > 0 {
			rate = float64(res.Completed) / elapsed
		}
		remaining := total - cached

		o.logger.Info("batch progress",
			"batch", batch,
			"cached", fmt.Sprintf("%d/%d", cached, total),
			"delta", fmt.Sprintf("%+d", delta),
			"completed", res.Completed,
			"failed", res.Failed,
			"rate_per_s", fmt.Sprintf("%.2f", rate),
			"remaining", remaining,
			"batch_dur", time.Since(batchStart).String())
	}

	o.logger.Warn("max batches reached before queue drained", "max_batches", maxBatches)
	return nil
}

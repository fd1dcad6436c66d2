// Package batch drives isochrone computation over the pending work queue
// with worker affinity and persists every outcome through the cache store.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/geo"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
	"github.com/transitatlas/isochrone-cache/internal/otp"
)

// RoutingClient computes one origin's band set against a specific worker.
type RoutingClient interface {
	ComputeIsochrones(ctx context.Context, req otp.Request) (model.BandSet, error)
}

// Queue is the slice of the cache store the orchestrator drives.
type Queue interface {
	GetPending(ctx context.Context, key model.CacheKey, boroughs []string, staleHorizon time.Duration, limit int) ([]model.Origin, error)
	MarkProcessing(ctx context.Context, originID int64, key model.CacheKey) error
	MarkCompleted(ctx context.Context, originID int64, key model.CacheKey) error
	MarkFailed(ctx context.Context, originID int64, key model.CacheKey, reason string) error
	SaveIsochrone(ctx context.Context, originID int64, key model.CacheKey, bands model.BandSet) error
	CachedCount(ctx context.Context, key model.CacheKey) (int64, error)
	TotalOrigins(ctx context.Context, boroughs []string) (int64, error)
}

// Fleet is the ordered worker directory used for affinity assignment.
type Fleet interface {
	Size() int
	Worker(i int) string
}

type Options struct {
	BatchSize    int
	Parallelism  int
	StaleHorizon time.Duration
	Boroughs     []string
	Cutoffs      []int
}

type Orchestrator struct {
	store     Queue
	client    RoutingClient
	fleet     Fleet
	logger    *slog.Logger
	opts      Options
	maxCutoff int
}

func New(store Queue, client RoutingClient, fleet Fleet, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 15
	}
	if len(opts.Cutoffs) == 0 {
		opts.Cutoffs = model.DefaultCutoffs()
	}
	if len(opts.Boroughs) == 0 {
		opts.Boroughs = model.PriorityBoroughs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		client:    client,
		fleet:     fleet,
		logger:    logger,
		opts:      opts,
		maxCutoff: model.MaxCutoff(opts.Cutoffs),
	}
}

// Result aggregates one batch's per-origin outcomes.
type Result struct {
	Selected  int
	Completed int
	Failed    int
}

func (r Result) Done() bool { return r.Selected == 0 }

type task struct {
	origin model.Origin
	worker string
}

// RunBatch selects one batch of pending origins, assigns origin i to worker
// i mod N in selection order, and drains the pairs through a fixed pool.
// Affinity matters: repeated batches over the same pending set send each
// origin to the same worker, keeping that worker's routing caches warm.
func (o *Orchestrator) RunBatch(ctx context.Context, key model.CacheKey) (Result, error) {
	origins, err := o.store.GetPending(ctx, key, o.opts.Boroughs, o.opts.StaleHorizon, o.opts.BatchSize)
	if err != nil {
		return Result{}, err
	}
	if len(origins) == 0 {
		return Result{}, nil
	}

	jobs := make(chan task, len(origins))
	outcomes := make(chan bool, len(origins))

	workerN := o.opts.Parallelism
	if workerN > len(origins) {
		workerN = len(origins)
	}

	var wg sync.WaitGroup
	wg.Add(workerN)
	for i := 0; i < workerN; i++ {
		go func() {
			defer wg.Done()
			for t := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				outcomes <- o.process(ctx, key, t)
			}
		}()
	}

	for i, origin := range origins {
		jobs <- task{origin: origin, worker: o.fleet.Worker(i)}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	res := Result{Selected: len(origins)}
	for ok := range outcomes {
		if ok {
			res.Completed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// process runs one origin through the state machine: processing, compute,
// validate, save bands, completed. Every failure is persisted, never
// raised past the task boundary.
func (o *Orchestrator) process(ctx context.Context, key model.CacheKey, t task) bool {
	log := o.logger.With("origin", t.origin.ID, "worker", t.worker, "key", key.String())

	if err := o.store.MarkProcessing(ctx, t.origin.ID, key); err != nil {
		log.Error("mark processing failed", "err", err)
		observability.IncBatchTask("status_error")
		return false
	}

	start := time.Now()
	bands, err := o.client.ComputeIsochrones(ctx, otp.Request{
		Lat:       t.origin.Lat,
		Lng:       t.origin.Lng,
		Key:       key,
		WorkerURL: t.worker,
	})
	if err != nil {
		log.Warn("routing request failed", "err", err.Error(), "dur", time.Since(start).String())
		o.fail(ctx, t.origin.ID, key, err.Error(), log)
		return false
	}

	// the largest band must enclose something; an empty one means the
	// search was truncated and the whole result is suspect
	if maxBand, ok := bands[o.maxCutoff]; !ok || geo.IsEmpty(maxBand) {
		log.Warn("empty maximum-cutoff isochrone", "cutoff", o.maxCutoff)
		o.fail(ctx, t.origin.ID, key, model.ErrEmptyIsochrone, log)
		return false
	}

	if err := o.store.SaveIsochrone(ctx, t.origin.ID, key, bands); err != nil {
		log.Error("save isochrone failed", "err", err)
		o.fail(ctx, t.origin.ID, key, err.Error(), log)
		return false
	}

	if err := o.store.MarkCompleted(ctx, t.origin.ID, key); err != nil {
		// bands are saved; the stale horizon will recover the status row
		log.Error("mark completed failed", "err", err)
		observability.IncBatchTask("status_error")
		return false
	}

	observability.IncBatchTask("completed")
	log.Info("origin cached", "bands", len(bands), "dur", time.Since(start).String())
	return true
}

func (o *Orchestrator) fail(ctx context.Context, originID int64, key model.CacheKey, reason string, log *slog.Logger) {
	observability.IncBatchTask("failed")
	if err := o.store.MarkFailed(ctx, originID, key, reason); err != nil {
		log.Error("mark failed failed", "err", err)
	}
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/verdantly/footprint-cli/internal/model"
)

// Processor handles one claimed job. A returned error triggers the retry
// policy; nil marks the job completed.
type Processor func(ctx context.Context, job *model.RecalculationJob) error

// WorkerOptions tunes the pool.
type WorkerOptions struct {
	Concurrency int
	// PollRate caps how often idle workers hit the store looking for work.
	PollRate rate.Limit
	Lease    time.Duration
	// SweepInterval is how often one goroutine scans for stale claims.
	SweepInterval time.Duration
}

// Worker runs a pool of claim-process-settle loops over the queue.
type Worker struct {
	svc     *Service
	process Processor
	opts    WorkerOptions
	limiter *rate.Limiter
}

// NewWorker creates a worker pool. Zero option fields get defaults.
func NewWorker(svc *Service, process Processor, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollRate <= 0 {
		opts.PollRate = rate.Every(time.Second)
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Worker{
		svc:     svc,
		process: process,
		opts:    opts,
		limiter: rate.NewLimiter(opts.PollRate, opts.Concurrency),
	}
}

// Run drives the pool until the context is cancelled. Cancellation is a
// clean shutdown: in-flight jobs finish and are settled before return.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(w.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.svc.Sweep(ctx, w.opts.Lease); err != nil {
					zap.L().Error("sweep failed", zap.Error(err))
				}
			}
		}
	})

	for i := 0; i < w.opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return w.loop(ctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, worker int) error {
	log := zap.L().With(zap.Int("worker", worker))
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		job, err := w.svc.store.ClaimNextJob(ctx)
		if err != nil {
			log.Error("claim failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		log.Debug("job claimed",
			zap.String("job_id", job.ID),
			zap.String("product_id", job.ProductID),
			zap.Int("attempt", job.AttemptCount))

		procErr := w.process(ctx, job)

		// Settle with a fresh context so shutdown does not strand the job
		// in processing until the sweeper finds it.
		settleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = w.svc.Complete(settleCtx, job, procErr)
		cancel()
		if err != nil && !eris.Is(err, model.ErrJobExhausted) {
			log.Error("settle failed", zap.String("job_id", job.ID), zap.Error(err))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

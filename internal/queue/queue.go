// Package queue manages asynchronous recalculation: batch enqueueing,
// retry policy, stale-claim recovery, and the worker pool that drains
// jobs. Claim atomicity lives in the store; this package decides what
// happens to a job after it has been processed.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/store"
)

const (
	// DefaultMaxAttempts is how many times a job may be claimed before it
	// is marked failed.
	DefaultMaxAttempts = 3
	// RetryBackoffStep is the linear backoff unit: a job that has been
	// attempted n times waits n*step before becoming claimable again.
	RetryBackoffStep = 5 * time.Minute
	// DefaultLease is how long a processing claim is honoured before the
	// sweeper assumes the worker died and releases the job.
	DefaultLease = 15 * time.Minute
)

// Service wraps a store with queue policy.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a queue service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (s *Service) WithNow(t time.Time) *Service {
	s.now = func() time.Time { return t }
	return s
}

// Enqueue expands the selector into product ids and creates one batch with
// one pending job per product.
func (s *Service) Enqueue(ctx context.Context, sel model.JobSelector, meta model.BatchMetadata) (*model.RecalculationBatch, error) {
	products, err := s.store.SelectProducts(ctx, sel)
	if err != nil {
		return nil, eris.Wrap(err, "queue: select products")
	}
	if len(products) == 0 {
		return nil, eris.New("queue: no products match selector")
	}

	now := s.now().UTC()
	batch := &model.RecalculationBatch{
		ID:        uuid.New().String(),
		Status:    model.BatchPending,
		Metadata:  meta,
		Total:     len(products),
		CreatedAt: now,
		UpdatedAt: now,
	}

	jobs := make([]model.RecalculationJob, 0, len(products))
	for _, pid := range products {
		jobs = append(jobs, model.RecalculationJob{
			ID:          uuid.New().String(),
			BatchID:     batch.ID,
			ProductID:   pid,
			Status:      model.JobPending,
			Priority:    sel.Priority,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := s.store.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, eris.Wrap(err, "queue: create batch")
	}
	zap.L().Info("batch enqueued",
		zap.String("batch_id", batch.ID),
		zap.Int("jobs", len(jobs)),
		zap.String("reason", meta.Reason))
	return batch, nil
}

// Backoff returns the delay before a job with the given attempt count may
// be claimed again. Linear: attempts * step.
func Backoff(attempts int) time.Duration {
	return time.Duration(attempts) * RetryBackoffStep
}

// Complete settles a claimed job. A nil processing error marks it
// completed. A failure either schedules a retry with linear backoff or,
// when attempts are exhausted, marks the job failed for good.
func (s *Service) Complete(ctx context.Context, job *model.RecalculationJob, procErr error) error {
	if procErr == nil {
		if err := s.store.MarkJobCompleted(ctx, job.ID); err != nil {
			return eris.Wrapf(err, "queue: complete job %s", job.ID)
		}
		return nil
	}

	if job.AttemptCount >= job.MaxAttempts {
		zap.L().Warn("job exhausted",
			zap.String("job_id", job.ID),
			zap.String("product_id", job.ProductID),
			zap.Int("attempts", job.AttemptCount),
			zap.Error(procErr))
		if err := s.store.MarkJobFailed(ctx, job.ID, procErr.Error()); err != nil {
			return eris.Wrapf(err, "queue: fail job %s", job.ID)
		}
		return eris.Wrapf(model.ErrJobExhausted, "queue: job %s after %d attempts", job.ID, job.AttemptCount)
	}

	next := s.now().UTC().Add(Backoff(job.AttemptCount))
	zap.L().Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.AttemptCount),
		zap.Time("next_retry_at", next))
	if err := s.store.RetryJob(ctx, job.ID, procErr.Error(), next); err != nil {
		return eris.Wrapf(err, "queue: retry job %s", job.ID)
	}
	return nil
}

// Sweep releases jobs whose processing claim outlived the lease. The
// sweep itself does not touch the attempt counter; the claim that died
// already consumed one.
func (s *Service) Sweep(ctx context.Context, lease time.Duration) (int, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	n, err := s.store.SweepStaleJobs(ctx, lease)
	if err != nil {
		return 0, eris.Wrap(err, "queue: sweep")
	}
	if n > 0 {
		zap.L().Warn("released stale jobs", zap.Int("count", n))
	}
	return n, nil
}

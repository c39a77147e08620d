// Package store persists the engine's records: weighting sets, line items,
// resolved and aggregated impacts, allocation records, production mixes,
// and the recalculation job queue. Two backends exist: Postgres (pgxpool)
// for production and SQLite (modernc.org/sqlite) for local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/verdantly/footprint-cli/internal/model"
)

// BatchFilter specifies criteria for listing recalculation batches.
type BatchFilter struct {
	Status model.BatchStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// Store is the persistence interface for the emissions engine.
type Store interface {
	// Weighting sets
	SaveWeightingSet(ctx context.Context, ws model.WeightingSet) error
	ListWeightingSets(ctx context.Context) ([]model.WeightingSet, error)

	// Line items
	SaveLineItem(ctx context.Context, item *model.MaterialLineItem) error
	ListLineItems(ctx context.Context, productID string) ([]model.MaterialLineItem, error)

	// Resolved impacts. Saving marks any previous current record for the
	// same line item as superseded; exactly one record is current at a time.
	SaveResolvedImpact(ctx context.Context, imp *model.ResolvedImpact) error
	CurrentImpacts(ctx context.Context, productID string) ([]model.LineItemImpact, error)

	// Allocation records. Saving rejects a period that overlaps an existing
	// record for the same (product, facility) pair with ErrOverlappingPeriod.
	SaveAllocation(ctx context.Context, rec *model.AllocationRecord) error
	ListAllocations(ctx context.Context, productID string) ([]model.AllocationRecord, error)

	// Production mix
	ReplaceMix(ctx context.Context, productID string, entries []model.ProductionMixEntry) error
	GetMix(ctx context.Context, productID string) ([]model.ProductionMixEntry, error)

	// Aggregated impacts. Saving supersedes the previous current aggregate
	// for the product.
	SaveAggregatedImpact(ctx context.Context, agg *model.AggregatedImpact) error
	CurrentAggregate(ctx context.Context, productID string) (*model.AggregatedImpact, error)

	// Recalculation queue
	SelectProducts(ctx context.Context, sel model.JobSelector) ([]string, error)
	CreateBatch(ctx context.Context, batch *model.RecalculationBatch, jobs []model.RecalculationJob) error
	GetBatch(ctx context.Context, id string) (*model.RecalculationBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.RecalculationBatch, error)
	CancelBatch(ctx context.Context, id string) error
	// ClaimNextJob atomically takes the best eligible pending job, marks it
	// processing, increments its attempt counter, and returns it. Returns
	// (nil, nil) when no job is eligible. No two callers ever receive the
	// same job.
	ClaimNextJob(ctx context.Context) (*model.RecalculationJob, error)
	MarkJobCompleted(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID, lastError string, nextRetryAt time.Time) error
	MarkJobFailed(ctx context.Context, jobID, lastError string) error
	// SweepStaleJobs resets jobs stuck in processing longer than the lease
	// back to pending without consuming an attempt. Crash recovery.
	SweepStaleJobs(ctx context.Context, lease time.Duration) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantly/footprint-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testPeriod(startDay, endDay int) model.Period {
	return model.Period{
		Start: time.Date(2026, 1, startDay, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, endDay, 0, 0, 0, 0, time.UTC),
	}
}

func seedBatch(t *testing.T, st *SQLiteStore, n int, priorities ...int) *model.RecalculationBatch {
	t.Helper()
	now := time.Now().UTC()
	batch := &model.RecalculationBatch{
		ID:        uuid.New().String(),
		Status:    model.BatchPending,
		Total:     n,
		CreatedAt: now,
		UpdatedAt: now,
	}
	jobs := make([]model.RecalculationJob, 0, n)
	for i := 0; i < n; i++ {
		priority := 0
		if i < len(priorities) {
			priority = priorities[i]
		}
		jobs = append(jobs, model.RecalculationJob{
			ID:          uuid.New().String(),
			BatchID:     batch.ID,
			ProductID:   uuid.New().String(),
			Status:      model.JobPending,
			Priority:    priority,
			MaxAttempts: 3,
			NextRetryAt: now,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:   now,
		})
	}
	require.NoError(t, st.CreateBatch(context.Background(), batch, jobs))
	return batch
}

// --- Weighting sets ---

func TestSQLite_WeightingSets_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ws := model.WeightingSet{
		ID:        "ef31-default",
		Name:      "Default set",
		IsDefault: true,
		Weights:   model.ImpactVector{model.ImpactClimate: 0.25},
	}
	require.NoError(t, st.SaveWeightingSet(ctx, ws))

	// Upsert replaces, not duplicates.
	ws.Name = "Default set v2"
	require.NoError(t, st.SaveWeightingSet(ctx, ws))

	sets, err := st.ListWeightingSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "Default set v2", sets[0].Name)
	assert.True(t, sets[0].IsDefault)
}

// --- Resolved impacts ---

func TestSQLite_ResolvedImpact_SupersedesPrevious(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := &model.MaterialLineItem{
		ProductID:      "prod-1",
		OrganisationID: "org-1",
		Name:           "organic wheat flour",
		Category:       model.CategoryMaterial,
		Quantity:       10,
		Unit:           "kg",
	}
	require.NoError(t, st.SaveLineItem(ctx, item))

	first := &model.ResolvedImpact{
		LineItemID: item.ID,
		Values:     model.ImpactVector{model.ImpactClimate: 1.1},
		Provenance: model.ProvenanceIndustryProxy,
		Quality:    model.QualityMedium,
		Confidence: 60,
	}
	require.NoError(t, st.SaveResolvedImpact(ctx, first))

	second := &model.ResolvedImpact{
		LineItemID: item.ID,
		Values:     model.ImpactVector{model.ImpactClimate: 0.9},
		Provenance: model.ProvenanceOrgOverride,
		Quality:    model.QualityHigh,
		Confidence: 70,
	}
	require.NoError(t, st.SaveResolvedImpact(ctx, second))

	impacts, err := st.CurrentImpacts(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, impacts, 1)
	assert.Equal(t, second.ID, impacts[0].Impact.ID)
	assert.Equal(t, model.ProvenanceOrgOverride, impacts[0].Impact.Provenance)
	assert.Equal(t, 10.0, impacts[0].Quantity)
}

// --- Allocations ---

func TestSQLite_SaveAllocation_RejectsOverlap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.AllocationRecord{
		ProductID:  "prod-1",
		FacilityID: "fac-1",
		Period:     testPeriod(1, 31),
	}
	require.NoError(t, st.SaveAllocation(ctx, first))

	overlapping := &model.AllocationRecord{
		ProductID:  "prod-1",
		FacilityID: "fac-1",
		Period:     testPeriod(15, 28),
	}
	err := st.SaveAllocation(ctx, overlapping)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrOverlappingPeriod)

	// Same period at a different facility is fine.
	other := &model.AllocationRecord{
		ProductID:  "prod-1",
		FacilityID: "fac-2",
		Period:     testPeriod(15, 28),
	}
	require.NoError(t, st.SaveAllocation(ctx, other))

	recs, err := st.ListAllocations(ctx, "prod-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSQLite_SaveAllocation_UpdateDoesNotSelfOverlap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.AllocationRecord{
		ProductID:  "prod-1",
		FacilityID: "fac-1",
		Period:     testPeriod(1, 31),
	}
	require.NoError(t, st.SaveAllocation(ctx, rec))

	rec.Status = model.AllocationVerified
	require.NoError(t, st.SaveAllocation(ctx, rec))
}

// --- Production mix ---

func TestSQLite_ReplaceMix(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceMix(ctx, "prod-1", []model.ProductionMixEntry{
		{ProductID: "prod-1", FacilityID: "fac-1", Share: 0.6},
		{ProductID: "prod-1", FacilityID: "fac-2", Share: 0.4},
	}))
	require.NoError(t, st.ReplaceMix(ctx, "prod-1", []model.ProductionMixEntry{
		{ProductID: "prod-1", FacilityID: "fac-3", Share: 1.0},
	}))

	entries, err := st.GetMix(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fac-3", entries[0].FacilityID)
}

// --- Aggregates ---

func TestSQLite_Aggregate_SupersedeAndMissingScoreSelection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, pid := range []string{"prod-scored", "prod-unscored"} {
		require.NoError(t, st.SaveLineItem(ctx, &model.MaterialLineItem{
			ProductID:      pid,
			OrganisationID: "org-1",
			Name:           "input",
			Quantity:       1,
		}))
	}

	score := 1.5
	require.NoError(t, st.SaveAggregatedImpact(ctx, &model.AggregatedImpact{
		ProductID:      "prod-scored",
		CategoryTotals: model.ImpactVector{model.ImpactClimate: 3},
		SingleScore:    &score,
		ComputedAt:     time.Now().UTC(),
	}))
	require.NoError(t, st.SaveAggregatedImpact(ctx, &model.AggregatedImpact{
		ProductID:      "prod-unscored",
		CategoryTotals: model.ImpactVector{model.ImpactClimate: 3},
		ComputedAt:     time.Now().UTC(),
	}))

	agg, err := st.CurrentAggregate(ctx, "prod-scored")
	require.NoError(t, err)
	require.NotNil(t, agg)
	require.NotNil(t, agg.SingleScore)

	ids, err := st.SelectProducts(ctx, model.JobSelector{MissingScoreOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-unscored"}, ids)

	// Superseding the scored aggregate with an unscored one makes the
	// product eligible again.
	require.NoError(t, st.SaveAggregatedImpact(ctx, &model.AggregatedImpact{
		ProductID:      "prod-scored",
		CategoryTotals: model.ImpactVector{model.ImpactClimate: 3},
		ComputedAt:     time.Now().UTC(),
	}))
	ids, err = st.SelectProducts(ctx, model.JobSelector{MissingScoreOnly: true})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSQLite_CurrentAggregate_NoneIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)

	agg, err := st.CurrentAggregate(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

// --- Queue ---

func TestSQLite_ClaimNextJob_PriorityThenFIFO(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := seedBatch(t, st, 3, 0, 5, 0)

	first, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 5, first.Priority)
	assert.Equal(t, 1, first.AttemptCount)
	assert.Equal(t, model.JobProcessing, first.Status)
	require.NotNil(t, first.ClaimedAt)

	// First claim moved the batch to running.
	b, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchRunning, b.Status)

	second, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 0, second.Priority)

	third, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)

	// Queue drained.
	none, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_ClaimNextJob_SkipsFutureRetries(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedBatch(t, st, 1)
	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, st.RetryJob(ctx, job.ID, "boom", time.Now().UTC().Add(time.Hour)))

	none, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_ClaimNextJob_SkipsCancelledBatches(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := seedBatch(t, st, 2)
	require.NoError(t, st.CancelBatch(ctx, batch.ID))

	none, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_ClaimNextJob_ExactlyOneClaimant(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	const jobs = 20
	const claimers = 8
	seedBatch(t, st, jobs)

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := st.ClaimNextJob(ctx)
				if !assert.NoError(t, err) {
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestSQLite_FinishJob_CountersAndBatchCompletion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := seedBatch(t, st, 2)

	j1, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobCompleted(ctx, j1.ID))

	b, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Completed)
	assert.Equal(t, model.BatchRunning, b.Status)

	j2, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobFailed(ctx, j2.ID, "exhausted"))

	// completed + failed == total closes the batch even with failures.
	b, err = st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Completed)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, model.BatchCompleted, b.Status)
}

func TestSQLite_MarkJobCompleted_RequiresProcessing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := seedBatch(t, st, 1)
	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobCompleted(ctx, job.ID))

	// Double settle must not double count.
	err = st.MarkJobCompleted(ctx, job.ID)
	require.Error(t, err)

	b, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Completed)
}

func TestSQLite_SweepStaleJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedBatch(t, st, 1)
	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)

	// A fresh claim is inside the lease and stays put.
	n, err := st.SweepStaleJobs(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Zero lease makes everything stale.
	n, err = st.SweepStaleJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reclaimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	// The sweep released the claim without refunding the attempt.
	assert.Equal(t, 2, reclaimed.AttemptCount)
}

func TestSQLite_CancelBatch_TerminalIsRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := seedBatch(t, st, 1)
	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobCompleted(ctx, job.ID))

	err = st.CancelBatch(ctx, batch.ID)
	require.Error(t, err)
}

func TestSQLite_ListBatches_StatusFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b1 := seedBatch(t, st, 1)
	seedBatch(t, st, 1)
	require.NoError(t, st.CancelBatch(ctx, b1.ID))

	cancelled, err := st.ListBatches(ctx, BatchFilter{Status: model.BatchCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, b1.ID, cancelled[0].ID)

	all, err := st.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

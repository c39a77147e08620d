package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantly/footprint-cli/internal/aggregate"
	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProduct(t *testing.T, st store.Store, productID, orgID string) {
	t.Helper()
	item := &model.MaterialLineItem{
		ProductID:      productID,
		OrganisationID: orgID,
		Name:           "electricity grid mix",
		Category:       model.CategoryEnergy,
		Quantity:       100,
		Unit:           "kWh",
	}
	require.NoError(t, st.SaveLineItem(context.Background(), item))
	require.NoError(t, st.SaveResolvedImpact(context.Background(), &model.ResolvedImpact{
		LineItemID: item.ID,
		Values:     model.ImpactVector{model.ImpactClimate: 0.42},
		Provenance: model.ProvenanceHybrid,
		Quality:    model.QualityMedium,
		Confidence: 40,
		IsHybrid:   true,
	}))
}

func TestBackoff_Linear(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Backoff(1))
	assert.Equal(t, 10*time.Minute, Backoff(2))
	assert.Equal(t, 15*time.Minute, Backoff(3))
}

func TestEnqueue_OneJobPerProduct(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedProduct(t, st, "prod-1", "org-1")
	seedProduct(t, st, "prod-2", "org-1")
	seedProduct(t, st, "prod-3", "org-2")

	batch, err := NewService(st).Enqueue(ctx,
		model.JobSelector{OrganisationID: "org-1"},
		model.BatchMetadata{Reason: "factor update"})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, model.BatchPending, batch.Status)
	assert.Equal(t, "factor update", batch.Metadata.Reason)

	got, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.Total, got.Total)
}

func TestEnqueue_EmptySelectionFails(t *testing.T) {
	st := newTestStore(t)

	_, err := NewService(st).Enqueue(context.Background(),
		model.JobSelector{OrganisationID: "nobody"}, model.BatchMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no products")
}

func TestEnqueue_ExplicitProductsBypassSelection(t *testing.T) {
	st := newTestStore(t)

	batch, err := NewService(st).Enqueue(context.Background(),
		model.JobSelector{ProductIDs: []string{"a", "b", "c"}, Priority: 7},
		model.BatchMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Total)

	job, err := st.ClaimNextJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 7, job.Priority)
}

func TestComplete_Success(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st)

	batch, err := svc.Enqueue(ctx, model.JobSelector{ProductIDs: []string{"prod-1"}}, model.BatchMetadata{})
	require.NoError(t, err)

	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, job, nil))

	got, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, model.BatchCompleted, got.Status)
}

func TestComplete_FailureSchedulesLinearRetry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st)

	_, err := svc.Enqueue(ctx, model.JobSelector{ProductIDs: []string{"prod-1"}}, model.BatchMetadata{})
	require.NoError(t, err)

	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, job.AttemptCount)

	require.NoError(t, svc.Complete(ctx, job, eris.New("factor table unavailable")))

	// The job is pending again but not claimable until the backoff passes.
	reclaimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, reclaimed)
}

func TestComplete_ExhaustionFailsJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st)

	batch, err := svc.Enqueue(ctx, model.JobSelector{ProductIDs: []string{"prod-1"}}, model.BatchMetadata{})
	require.NoError(t, err)

	job, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	job.AttemptCount = job.MaxAttempts // simulate the final attempt

	err = svc.Complete(ctx, job, eris.New("still broken"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrJobExhausted)

	got, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, model.BatchCompleted, got.Status)
}

func TestRecalcProcessor_SavesAggregateWithScore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedProduct(t, st, "prod-1", "org-1")
	require.NoError(t, st.SaveWeightingSet(ctx, model.WeightingSet{
		ID:         "ef31-default",
		IsDefault:  true,
		Weights:    map[string]float64{model.ImpactClimate: 0.25},
		References: map[string]float64{model.ImpactClimate: 8000},
	}))

	process := NewRecalcProcessor(st, aggregate.New())
	err := process(ctx, &model.RecalculationJob{ID: "job-1", ProductID: "prod-1"})
	require.NoError(t, err)

	agg, err := st.CurrentAggregate(ctx, "prod-1")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.InDelta(t, 42.0, agg.CategoryTotals[model.ImpactClimate], 1e-9) // 100 kWh * 0.42
	assert.Equal(t, 1, agg.HybridCount)
	require.NotNil(t, agg.SingleScore)
	assert.InDelta(t, (42.0/8000)*0.25, *agg.SingleScore, 1e-9)
}

func TestRecalcProcessor_NoDefaultSetSavesUnscored(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedProduct(t, st, "prod-1", "org-1")

	process := NewRecalcProcessor(st, aggregate.New())
	require.NoError(t, process(ctx, &model.RecalculationJob{ID: "job-1", ProductID: "prod-1"}))

	agg, err := st.CurrentAggregate(ctx, "prod-1")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Nil(t, agg.SingleScore)
}

func TestWorker_DrainsQueueAndStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st)

	for _, pid := range []string{"prod-1", "prod-2", "prod-3"} {
		seedProduct(t, st, pid, "org-1")
	}
	batch, err := svc.Enqueue(ctx, model.JobSelector{}, model.BatchMetadata{Reason: "test"})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	worker := NewWorker(svc, NewRecalcProcessor(st, aggregate.New()), WorkerOptions{
		Concurrency: 2,
		PollRate:    1000, // fast polling for the test
	})
	go func() {
		defer close(done)
		assert.NoError(t, worker.Run(runCtx))
	}()

	require.Eventually(t, func() bool {
		b, err := st.GetBatch(ctx, batch.ID)
		return err == nil && b.Status == model.BatchCompleted
	}, 4*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	b, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Completed)
	assert.Zero(t, b.Failed)
}

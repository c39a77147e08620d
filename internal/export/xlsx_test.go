package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

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

func TestWriteProduct_SheetsAndRows(t *testing.T) {
	st := newTestStore(t)
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
	require.NoError(t, st.SaveResolvedImpact(ctx, &model.ResolvedImpact{
		LineItemID: item.ID,
		Values:     model.ImpactVector{model.ImpactClimate: 0.45},
		Provenance: model.ProvenanceOrgOverride,
		Quality:    model.QualityHigh,
		Confidence: 70,
	}))
	require.NoError(t, st.SaveAllocation(ctx, &model.AllocationRecord{
		ProductID:          "prod-1",
		FacilityID:         "fac-1",
		Period:             model.Period{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)},
		AttributionRatio:   0.25,
		AllocatedEmissions: 750,
		Status:             model.AllocationDraft,
	}))
	score := 0.035
	require.NoError(t, st.SaveAggregatedImpact(ctx, &model.AggregatedImpact{
		ProductID:      "prod-1",
		CategoryTotals: model.ImpactVector{model.ImpactClimate: 4.5},
		Quality:        model.QualityHigh,
		LineItemCount:  1,
		SingleScore:    &score,
		WeightingSetID: "ef31-default",
		ComputedAt:     time.Now().UTC(),
	}))

	path := filepath.Join(t.TempDir(), "prod-1.xlsx")
	require.NoError(t, New(st).WriteProduct(ctx, "prod-1", path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "Allocations", f.Sheets[0].Name)
	assert.Equal(t, "Line Item Impacts", f.Sheets[1].Name)
	assert.Equal(t, "Aggregate", f.Sheets[2].Name)

	// Header plus one allocation row.
	require.Len(t, f.Sheets[0].Rows, 2)
	assert.Equal(t, "fac-1", f.Sheets[0].Rows[1].Cells[0].Value)

	require.Len(t, f.Sheets[1].Rows, 2)
	assert.Equal(t, string(model.ProvenanceOrgOverride), f.Sheets[1].Rows[1].Cells[2].Value)
}

func TestWriteProduct_EmptyProductStillWritesSheets(t *testing.T) {
	st := newTestStore(t)

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, New(st).WriteProduct(context.Background(), "ghost", path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 3)
}

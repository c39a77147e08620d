package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantly/footprint-cli/internal/model"
)

func item(quantity float64, provenance model.Provenance, quality model.QualityGrade, hybrid bool, values model.ImpactVector) model.LineItemImpact {
	return model.LineItemImpact{
		Quantity: quantity,
		Impact: model.ResolvedImpact{
			Values:     values,
			Provenance: provenance,
			Quality:    quality,
			IsHybrid:   hybrid,
		},
	}
}

func TestAggregate_SumsQuantityTimesPerUnit(t *testing.T) {
	agg := New().Aggregate("prod-1", []model.LineItemImpact{
		item(10, model.ProvenanceOrgOverride, model.QualityHigh, false,
			model.ImpactVector{model.ImpactClimate: 0.5, model.ImpactWater: 1.0}),
		item(2, model.ProvenanceOrgOverride, model.QualityHigh, false,
			model.ImpactVector{model.ImpactClimate: 3.0}),
	})

	assert.Equal(t, 11.0, agg.CategoryTotals[model.ImpactClimate])
	assert.Equal(t, 10.0, agg.CategoryTotals[model.ImpactWater])
	assert.Equal(t, 2, agg.LineItemCount)
	assert.Zero(t, agg.HybridCount)
	assert.Equal(t, model.QualityHigh, agg.Quality)
}

func TestAggregate_HybridConstituentCapsQuality(t *testing.T) {
	agg := New().Aggregate("prod-1", []model.LineItemImpact{
		item(1, model.ProvenanceOrgOverride, model.QualityHigh, false,
			model.ImpactVector{model.ImpactClimate: 1}),
		item(1, model.ProvenanceHybrid, model.QualityMedium, true,
			model.ImpactVector{model.ImpactClimate: 1}),
	})

	assert.Equal(t, 1, agg.HybridCount)
	assert.Equal(t, model.QualityMedium, agg.Quality)
}

func TestAggregate_LowConstituentDropsGrade(t *testing.T) {
	agg := New().Aggregate("prod-1", []model.LineItemImpact{
		item(1, model.ProvenanceOrgOverride, model.QualityHigh, false,
			model.ImpactVector{model.ImpactClimate: 1}),
		item(1, model.ProvenanceIndustryProxy, model.QualityLow, false,
			model.ImpactVector{model.ImpactClimate: 1}),
	})

	assert.Equal(t, model.QualityLow, agg.Quality)
}

func TestAggregate_EmptyProduct(t *testing.T) {
	agg := New().Aggregate("prod-1", nil)

	assert.Zero(t, agg.LineItemCount)
	assert.Empty(t, agg.CategoryTotals)
	assert.Equal(t, model.QualityHigh, agg.Quality)
}

func TestAggregate_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	items := []model.LineItemImpact{
		item(3, model.ProvenanceIndustryProxy, model.QualityMedium, false,
			model.ImpactVector{model.ImpactClimate: 0.7, model.ImpactLand: 0.2}),
	}

	a := New().WithNow(now).Aggregate("prod-1", items)
	b := New().WithNow(now).Aggregate("prod-1", items)
	assert.Equal(t, a, b)
}

func defaultSet() model.WeightingSet {
	return model.WeightingSet{
		ID:        "ef31-default",
		IsDefault: true,
		Weights: model.ImpactVector{
			model.ImpactClimate: 0.25,
			model.ImpactWater:   0.10,
		},
		References: model.ImpactVector{
			model.ImpactClimate: 8000,
			model.ImpactWater:   1000,
		},
	}
}

func TestSelectWeightingSet_ExplicitID(t *testing.T) {
	sets := []model.WeightingSet{defaultSet(), {ID: "alt"}}

	ws, err := SelectWeightingSet(sets, "alt")
	require.NoError(t, err)
	assert.Equal(t, "alt", ws.ID)
}

func TestSelectWeightingSet_FallsBackToDefault(t *testing.T) {
	sets := []model.WeightingSet{{ID: "alt"}, defaultSet()}

	ws, err := SelectWeightingSet(sets, "")
	require.NoError(t, err)
	assert.Equal(t, "ef31-default", ws.ID)
}

func TestSelectWeightingSet_Missing(t *testing.T) {
	_, err := SelectWeightingSet([]model.WeightingSet{{ID: "alt"}}, "")
	assert.ErrorIs(t, err, model.ErrNoDefaultWeightingSet)

	_, err = SelectWeightingSet([]model.WeightingSet{defaultSet()}, "nope")
	assert.ErrorIs(t, err, model.ErrNoDefaultWeightingSet)
}

func TestSingleScore_NormalisesAndWeights(t *testing.T) {
	agg := &model.AggregatedImpact{
		ProductID: "prod-1",
		CategoryTotals: model.ImpactVector{
			model.ImpactClimate: 800,
			model.ImpactWater:   100,
		},
	}

	score := SingleScore(agg, defaultSet())

	// (800/8000)*0.25 + (100/1000)*0.10 = 0.025 + 0.010
	assert.InDelta(t, 0.035, score, 1e-9)
	require.NotNil(t, agg.SingleScore)
	assert.Equal(t, score, *agg.SingleScore)
	assert.InDelta(t, 0.1, agg.Normalised[model.ImpactClimate], 1e-9)
	assert.InDelta(t, 0.025, agg.Weighted[model.ImpactClimate], 1e-9)
	assert.Equal(t, "ef31-default", agg.WeightingSetID)
}

func TestSingleScore_SkipsCategoriesWithoutReferenceOrWeight(t *testing.T) {
	ws := defaultSet()
	delete(ws.References, model.ImpactWater)

	agg := &model.AggregatedImpact{
		ProductID: "prod-1",
		CategoryTotals: model.ImpactVector{
			model.ImpactClimate: 800,
			model.ImpactWater:   1e9, // skipped, must not leak into the score
			model.ImpactLand:    500, // no weight either
		},
	}

	score := SingleScore(agg, ws)
	assert.InDelta(t, 0.025, score, 1e-9)
	assert.NotContains(t, agg.Normalised, model.ImpactWater)
	assert.NotContains(t, agg.Weighted, model.ImpactLand)
}

func TestSingleScore_MonotonicInWeights(t *testing.T) {
	agg := func() *model.AggregatedImpact {
		return &model.AggregatedImpact{
			ProductID:      "prod-1",
			CategoryTotals: model.ImpactVector{model.ImpactClimate: 800},
		}
	}

	low := defaultSet()
	low.Weights[model.ImpactClimate] = 0.1
	high := defaultSet()
	high.Weights[model.ImpactClimate] = 0.5

	assert.Less(t, SingleScore(agg(), low), SingleScore(agg(), high))
}

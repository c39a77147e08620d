package aggregate

import (
	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/model"
)

// SelectWeightingSet picks a weighting set by explicit id, falling back to
// the single designated default when no id is given. Resolution fails with
// model.ErrNoDefaultWeightingSet when neither exists.
func SelectWeightingSet(sets []model.WeightingSet, id string) (*model.WeightingSet, error) {
	if id != "" {
		for i := range sets {
			if sets[i].ID == id {
				return &sets[i], nil
			}
		}
		return nil, eris.Wrapf(model.ErrNoDefaultWeightingSet, "aggregate: weighting set %q not found", id)
	}
	for i := range sets {
		if sets[i].IsDefault {
			return &sets[i], nil
		}
	}
	return nil, eris.Wrap(model.ErrNoDefaultWeightingSet, "aggregate: no id given")
}

// SingleScore normalises each category total against its per-capita
// reference, weights it, and sums the weighted values into one
// dimensionless number. Categories missing a normalisation reference or a
// weight are skipped, not treated as zero, so partial data does not
// silently distort the score.
//
// The normalised and weighted breakdowns are written back onto the
// aggregate along with the set id.
func SingleScore(agg *model.AggregatedImpact, ws model.WeightingSet) float64 {
	normalised := model.ImpactVector{}
	weighted := model.ImpactVector{}
	var score float64

	for _, cat := range model.BaseImpactCategories {
		total, ok := agg.CategoryTotals[cat]
		if !ok {
			continue
		}
		ref, ok := ws.References[cat]
		if !ok || ref == 0 {
			continue
		}
		weight, ok := ws.Weights[cat]
		if !ok {
			continue
		}
		n := total / ref
		w := n * weight
		normalised[cat] = n
		weighted[cat] = w
		score += w
	}

	agg.Normalised = normalised
	agg.Weighted = weighted
	agg.SingleScore = &score
	agg.WeightingSetID = ws.ID

	return score
}

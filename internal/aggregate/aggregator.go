// Package aggregate sums per-line-item resolved impacts into a per-product
// total and reduces multi-category impacts to a single comparable score.
// Both operations are pure: re-running with identical inputs produces
// bit-identical output, which is what makes queued recalculation safe to
// retry.
package aggregate

import (
	"time"

	"github.com/verdantly/footprint-cli/internal/model"
)

// Aggregator combines line-item impacts.
type Aggregator struct {
	now func() time.Time
}

// New creates an Aggregator.
func New() *Aggregator {
	return &Aggregator{now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (a *Aggregator) WithNow(t time.Time) *Aggregator {
	a.now = func() time.Time { return t }
	return a
}

// Aggregate sums quantity x per-unit category value across all line items
// of one product. The overall quality grade is "high" only when every
// constituent came from an organisation-exact or verified-supplier source;
// any hybrid or proxy constituent caps the grade at "medium", and any
// low-grade constituent drops it to "low".
func (a *Aggregator) Aggregate(productID string, items []model.LineItemImpact) *model.AggregatedImpact {
	out := &model.AggregatedImpact{
		ProductID:      productID,
		CategoryTotals: model.ImpactVector{},
		Quality:        model.QualityHigh,
		LineItemCount:  len(items),
		ComputedAt:     a.now().UTC(),
	}

	for _, item := range items {
		for cat, perUnit := range item.Impact.Values {
			out.CategoryTotals[cat] += item.Quantity * perUnit
		}
		if item.Impact.IsHybrid {
			out.HybridCount++
		}
		out.Quality = minGrade(out.Quality, constituentGrade(item.Impact))
	}

	return out
}

func constituentGrade(imp model.ResolvedImpact) model.QualityGrade {
	if imp.Quality == model.QualityLow {
		return model.QualityLow
	}
	switch imp.Provenance {
	case model.ProvenanceOrgOverride, model.ProvenanceSupplierVerified:
		return imp.Quality
	default:
		// Hybrid and proxy constituents cap the whole aggregate at medium.
		return model.QualityMedium
	}
}

var gradeRank = map[model.QualityGrade]int{
	model.QualityLow:    0,
	model.QualityMedium: 1,
	model.QualityHigh:   2,
}

func minGrade(a, b model.QualityGrade) model.QualityGrade {
	if gradeRank[b] < gradeRank[a] {
		return b
	}
	return a
}

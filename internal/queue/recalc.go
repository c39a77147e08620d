package queue

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/aggregate"
	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/store"
)

// NewRecalcProcessor builds the standard job body: re-aggregate the
// product's current impacts, recompute the single score with the default
// weighting set, and persist the result. A product with no default
// weighting set still gets its aggregate saved, just without a score.
func NewRecalcProcessor(st store.Store, agg *aggregate.Aggregator) Processor {
	return func(ctx context.Context, job *model.RecalculationJob) error {
		items, err := st.CurrentImpacts(ctx, job.ProductID)
		if err != nil {
			return eris.Wrapf(err, "recalc: load impacts for %s", job.ProductID)
		}
		result := agg.Aggregate(job.ProductID, items)

		sets, err := st.ListWeightingSets(ctx)
		if err != nil {
			return eris.Wrap(err, "recalc: list weighting sets")
		}
		ws, err := aggregate.SelectWeightingSet(sets, "")
		switch {
		case err == nil:
			aggregate.SingleScore(result, *ws)
		case eris.Is(err, model.ErrNoDefaultWeightingSet):
			zap.L().Warn("no default weighting set, skipping score",
				zap.String("product_id", job.ProductID))
		default:
			return eris.Wrap(err, "recalc: select weighting set")
		}

		if err := st.SaveAggregatedImpact(ctx, result); err != nil {
			return eris.Wrapf(err, "recalc: save aggregate for %s", job.ProductID)
		}
		return nil
	}
}

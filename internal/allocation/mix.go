package allocation

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/model"
)

// MixTolerance is the permitted deviation of a product's production mix
// shares from 1.0.
const MixTolerance = 0.0001

// ValidateMix checks that a product's production mix shares sum to 1.0
// within tolerance. The reported total rides along in the error so the
// caller can show how far off the mix is.
func ValidateMix(entries []model.ProductionMixEntry) error {
	var total float64
	for _, e := range entries {
		total += e.Share
	}
	if math.Abs(total-1.0) > MixTolerance {
		return eris.Wrapf(model.ErrIncompleteMix, "allocation: mix total %.4f", total)
	}
	return nil
}

// CheckOverlap rejects a new period that overlaps any existing allocation
// period for the same (product, facility) pair.
func CheckOverlap(existing []model.Period, candidate model.Period) error {
	for _, p := range existing {
		if p.Overlaps(candidate) {
			return eris.Wrapf(model.ErrOverlappingPeriod,
				"allocation: %s..%s overlaps %s..%s",
				candidate.Start.Format("2006-01-02"), candidate.End.Format("2006-01-02"),
				p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
		}
	}
	return nil
}

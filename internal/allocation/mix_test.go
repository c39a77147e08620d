package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantly/footprint-cli/internal/model"
)

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestValidateMix_Complete(t *testing.T) {
	err := ValidateMix([]model.ProductionMixEntry{
		{FacilityID: "fac-1", Share: 0.6},
		{FacilityID: "fac-2", Share: 0.4},
	})
	assert.NoError(t, err)
}

func TestValidateMix_Incomplete(t *testing.T) {
	err := ValidateMix([]model.ProductionMixEntry{
		{FacilityID: "fac-1", Share: 0.6},
		{FacilityID: "fac-2", Share: 0.3},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIncompleteMix)
	assert.Contains(t, err.Error(), "0.9000")
}

func TestValidateMix_WithinTolerance(t *testing.T) {
	err := ValidateMix([]model.ProductionMixEntry{
		{FacilityID: "fac-1", Share: 0.33334},
		{FacilityID: "fac-2", Share: 0.33333},
		{FacilityID: "fac-3", Share: 0.33333},
	})
	assert.NoError(t, err)
}

func TestCheckOverlap(t *testing.T) {
	existing := []model.Period{
		{Start: day(1), End: day(10)},
		{Start: day(20), End: day(31)},
	}

	// The gap between the existing periods is free.
	assert.NoError(t, CheckOverlap(existing, model.Period{Start: day(11), End: day(19)}))

	// Sharing a single boundary day overlaps; periods are inclusive.
	err := CheckOverlap(existing, model.Period{Start: day(10), End: day(12)})
	assert.ErrorIs(t, err, model.ErrOverlappingPeriod)

	err = CheckOverlap(existing, model.Period{Start: day(5), End: day(25)})
	assert.ErrorIs(t, err, model.ErrOverlappingPeriod)
}

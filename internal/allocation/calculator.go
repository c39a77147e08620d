// Package allocation computes a client's attributed share of a shared
// facility's emissions by production-volume ratio.
package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/model"
)

// FormulaID identifies the physical-allocation formula version recorded in
// every calculation-metadata bundle.
const FormulaID = "physical-allocation/v2"

// Default scope split applied when the facility did not report scope 1/2
// separately. This is a documented assumption, not a measurement: 35%
// fossil (scope 1), 65% purchased electricity (scope 2).
const (
	DefaultScope1Share = 0.35
	DefaultScope2Share = 0.65
)

// Input carries the per-invocation knobs alongside the facility totals.
type Input struct {
	ProductID    string
	ClientVolume float64
	// IsEnergyIntensiveProcess flags a record whose energy assumption is
	// unusual; such records need human verification.
	IsEnergyIntensiveProcess bool
}

// Calculator derives allocation records. It is stateless; concurrent
// recomputation of the same record is serialised by the store.
type Calculator struct {
	now func() time.Time
}

// New creates a Calculator.
func New() *Calculator {
	return &Calculator{now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (c *Calculator) WithNow(t time.Time) *Calculator {
	c.now = func() time.Time { return t }
	return c
}

// Allocate computes a client's attributed emissions from the facility's
// period totals. It is deterministic and idempotent: identical inputs
// always yield identical field values.
func (c *Calculator) Allocate(totals model.FacilityPeriodTotals, in Input) (*model.AllocationRecord, error) {
	if totals.TotalVolume <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidAllocation, "allocation: total volume %.3f", totals.TotalVolume)
	}
	if in.ClientVolume < 0 {
		return nil, eris.Wrapf(model.ErrInvalidAllocation, "allocation: negative client volume %.3f", in.ClientVolume)
	}
	if in.ClientVolume > totals.TotalVolume {
		return nil, eris.Wrapf(model.ErrInvalidAllocation,
			"allocation: client volume %.3f exceeds total %.3f", in.ClientVolume, totals.TotalVolume)
	}

	ratio := in.ClientVolume / totals.TotalVolume
	emissions := totals.TotalEmissions * ratio

	var scope1, scope2, scope3 float64
	scopeAssumed := !totals.ScopeReported()
	if scopeAssumed {
		scope1 = emissions * DefaultScope1Share
		scope2 = emissions * DefaultScope2Share
	} else {
		scope1 = totals.Scope1 * ratio
		scope2 = totals.Scope2 * ratio
		scope3 = totals.Scope3 * ratio
	}

	var intensity float64
	if in.ClientVolume > 0 {
		intensity = emissions / in.ClientVolume
	}

	now := c.now().UTC()
	rec := &model.AllocationRecord{
		ID:         uuid.New().String(),
		ProductID:  in.ProductID,
		FacilityID: totals.FacilityID,
		TotalsID:   totals.ID,
		Period:     totals.Period,

		ClientVolume:       in.ClientVolume,
		AttributionRatio:   ratio,
		AllocatedEmissions: emissions,
		AllocatedWater:     totals.TotalWater * ratio,
		AllocatedWaste:     totals.TotalWaste * ratio,
		Scope1:             scope1,
		Scope2:             scope2,
		Scope3:             scope3,
		IntensityPerUnit:   intensity,
		ScopeAssumed:       scopeAssumed,

		IsEnergyIntensiveProcess: in.IsEnergyIntensiveProcess,
		Status:                   model.AllocationDraft,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	rec.Status = promote(rec, totals.Locked)
	rec.Metadata = append(rec.Metadata, c.metadata(totals, in, rec))

	return rec, nil
}

// promote applies the two automatic status transitions. Every other
// transition is decided by a human reviewer outside this core.
func promote(rec *model.AllocationRecord, locked bool) model.AllocationStatus {
	if rec.IsEnergyIntensiveProcess {
		// Unusual energy assumption: flag for human verification.
		return model.AllocationProvisional
	}
	if locked {
		return model.AllocationVerified
	}
	return rec.Status
}

// metadata builds the immutable audit bundle for this calculation. Bundles
// are append-only; recomputation adds a new one rather than mutating.
func (c *Calculator) metadata(totals model.FacilityPeriodTotals, in Input, rec *model.AllocationRecord) model.CalculationMetadata {
	m := model.CalculationMetadata{
		FormulaID: FormulaID,
		Inputs: map[string]float64{
			"total_volume":    totals.TotalVolume,
			"total_emissions": totals.TotalEmissions,
			"total_water":     totals.TotalWater,
			"total_waste":     totals.TotalWaste,
			"client_volume":   in.ClientVolume,
		},
		Outputs: map[string]float64{
			"attribution_ratio":   rec.AttributionRatio,
			"allocated_emissions": rec.AllocatedEmissions,
			"allocated_water":     rec.AllocatedWater,
			"allocated_waste":     rec.AllocatedWaste,
			"scope1":              rec.Scope1,
			"scope2":              rec.Scope2,
			"scope3":              rec.Scope3,
			"intensity_per_unit":  rec.IntensityPerUnit,
		},
		CalculatedAt: c.now().UTC(),
	}
	if rec.ScopeAssumed {
		m.Assumptions = append(m.Assumptions, "scope split assumed 35/65 fossil/electricity; facility reported no split")
	}
	return m
}

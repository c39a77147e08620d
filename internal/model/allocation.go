package model

import "time"

// Period is one reporting period, inclusive of both endpoints.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two periods share any day.
func (p Period) Overlaps(other Period) bool {
	return !p.Start.After(other.End) && !other.Start.After(p.End)
}

// FacilityPeriodTotals is one facility's reported production volume and
// emissions for one reporting period. Immutable once locked for allocation.
type FacilityPeriodTotals struct {
	ID             string  `json:"id"`
	FacilityID     string  `json:"facility_id"`
	Period         Period  `json:"period"`
	TotalVolume    float64 `json:"total_volume"`
	VolumeUnit     string  `json:"volume_unit"`
	TotalEmissions float64 `json:"total_emissions"` // kg CO2e
	TotalWater     float64 `json:"total_water,omitempty"`
	TotalWaste     float64 `json:"total_waste,omitempty"`

	// Optional reported scope split. When all three are zero the allocation
	// calculator applies its documented default split.
	Scope1 float64 `json:"scope1,omitempty"`
	Scope2 float64 `json:"scope2,omitempty"`
	Scope3 float64 `json:"scope3,omitempty"`

	Locked bool `json:"locked"`
}

// ScopeReported reports whether the facility supplied its own scope split.
func (t FacilityPeriodTotals) ScopeReported() bool {
	return t.Scope1 != 0 || t.Scope2 != 0 || t.Scope3 != 0
}

// AllocationStatus is the lifecycle state of an allocation record.
// Transitions are one-directional except for explicit admin rollback,
// which is handled outside this core.
type AllocationStatus string

const (
	AllocationDraft       AllocationStatus = "draft"
	AllocationProvisional AllocationStatus = "provisional"
	AllocationVerified    AllocationStatus = "verified"
	AllocationApproved    AllocationStatus = "approved"
)

// rank orders statuses for the one-directional transition check.
var allocationStatusRank = map[AllocationStatus]int{
	AllocationDraft:       0,
	AllocationProvisional: 1,
	AllocationVerified:    2,
	AllocationApproved:    3,
}

// CanTransition reports whether moving from s to next is a forward step.
func (s AllocationStatus) CanTransition(next AllocationStatus) bool {
	from, ok := allocationStatusRank[s]
	if !ok {
		return false
	}
	to, ok := allocationStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CalculationMetadata is the immutable audit bundle written alongside every
// computed allocation: the formula identifier, the raw inputs, and every
// derived output at the moment of calculation. Past bundles are never
// mutated; recomputation appends a new one.
type CalculationMetadata struct {
	FormulaID    string             `json:"formula_id"`
	Inputs       map[string]float64 `json:"inputs"`
	Outputs      map[string]float64 `json:"outputs"`
	Assumptions  []string           `json:"assumptions,omitempty"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// AllocationRecord is one client-product's claim against a facility's
// period totals.
type AllocationRecord struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	FacilityID string `json:"facility_id"`
	TotalsID   string `json:"totals_id"`
	Period     Period `json:"period"`

	ClientVolume       float64 `json:"client_volume"`
	AttributionRatio   float64 `json:"attribution_ratio"`
	AllocatedEmissions float64 `json:"allocated_emissions"`
	AllocatedWater     float64 `json:"allocated_water,omitempty"`
	AllocatedWaste     float64 `json:"allocated_waste,omitempty"`
	Scope1             float64 `json:"scope1"`
	Scope2             float64 `json:"scope2"`
	Scope3             float64 `json:"scope3"`
	IntensityPerUnit   float64 `json:"intensity_per_unit"`
	ScopeAssumed       bool    `json:"scope_assumed"`

	IsEnergyIntensiveProcess bool             `json:"is_energy_intensive_process"`
	Status                   AllocationStatus `json:"status"`

	Metadata  []CalculationMetadata `json:"metadata"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ProductionMixEntry is one facility's share of a product's total output.
// All shares for a product must sum to 1.0 within tolerance before the
// product's assessment may be marked mix-complete.
type ProductionMixEntry struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id"`
	FacilityID string  `json:"facility_id"`
	Share      float64 `json:"share"`
}

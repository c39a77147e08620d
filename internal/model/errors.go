package model

import "github.com/rotisserie/eris"

// Sentinel errors for the resolution, allocation, and queue core.
// Callers match with errors.Is after eris wrapping.
var (
	// ErrNotFound means the resolver exhausted every tier without a usable
	// source. Callers must surface the line item for manual review instead
	// of substituting a zero impact.
	ErrNotFound = eris.New("no emission source found")

	// ErrInvalidAllocation means the facility totals or client volume make
	// an attribution ratio impossible (non-positive total volume, or client
	// volume exceeding total volume).
	ErrInvalidAllocation = eris.New("invalid allocation inputs")

	// ErrOverlappingPeriod means two allocation records for the same
	// (product, facility) pair would cover overlapping reporting periods.
	ErrOverlappingPeriod = eris.New("overlapping reporting period")

	// ErrIncompleteMix means a product's production mix shares do not sum
	// to 1.0 within tolerance.
	ErrIncompleteMix = eris.New("production mix does not sum to 1.0")

	// ErrNoDefaultWeightingSet means no weighting set id was given and no
	// default set is designated.
	ErrNoDefaultWeightingSet = eris.New("no default weighting set")

	// ErrJobExhausted means a recalculation job consumed all retry attempts.
	ErrJobExhausted = eris.New("job retry attempts exhausted")
)

package model

import "time"

// Impact category keys. Climate, water, land, and waste are the base set;
// the extended categories are populated when the answering source carries
// them.
const (
	ImpactClimate        = "climate"
	ImpactWater          = "water"
	ImpactLand           = "land"
	ImpactWaste          = "waste"
	ImpactEutrophication = "eutrophication"
	ImpactAcidification  = "acidification"
	ImpactOzoneCreation  = "ozone_creation"
)

// BaseImpactCategories is the fixed category order used for aggregation
// output and export.
var BaseImpactCategories = []string{
	ImpactClimate,
	ImpactWater,
	ImpactLand,
	ImpactWaste,
	ImpactEutrophication,
	ImpactAcidification,
	ImpactOzoneCreation,
}

// ImpactVector maps impact category keys to per-unit values.
type ImpactVector map[string]float64

// Clone returns an independent copy of the vector.
func (v ImpactVector) Clone() ImpactVector {
	out := make(ImpactVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Provenance identifies which tier of the reference-data waterfall answered
// a lookup.
type Provenance string

const (
	ProvenanceOrgOverride      Provenance = "organisation override"
	ProvenanceSupplierVerified Provenance = "supplier verified"
	ProvenanceIndustryProxy    Provenance = "industry proxy"
	ProvenanceHybrid           Provenance = "hybrid"
	ProvenanceUnresolved       Provenance = "unresolved"
)

// QualityGrade rates the uniformity of the sources behind a record.
type QualityGrade string

const (
	QualityHigh   QualityGrade = "high"
	QualityMedium QualityGrade = "medium"
	QualityLow    QualityGrade = "low"
)

// SourceRef is a textual reference to one contributing data source.
type SourceRef struct {
	Name      string `json:"name"`
	Reference string `json:"reference,omitempty"`
	Geography string `json:"geography,omitempty"`
}

// ResolvedImpact is the resolver's answer for one material line item.
// Exactly one ResolvedImpact is current per line item at any time; a
// re-resolution supersedes the previous record rather than deleting it.
type ResolvedImpact struct {
	ID          string       `json:"id,omitempty"`
	LineItemID  string       `json:"line_item_id,omitempty"`
	Values      ImpactVector `json:"values"`
	Provenance  Provenance   `json:"provenance"`
	Quality     QualityGrade `json:"quality"`
	Confidence  int          `json:"confidence"` // 0-100, deterministic per tier
	Geography   string       `json:"geography,omitempty"`
	IsHybrid    bool         `json:"is_hybrid,omitempty"`
	Sources     []SourceRef  `json:"sources"`
	Superseded  bool         `json:"superseded,omitempty"`
	ResolvedAt  time.Time    `json:"resolved_at"`
}

// AggregatedImpact is the per-product sum of all resolved impacts weighted
// by line-item quantity, plus the optional single-score breakdown.
type AggregatedImpact struct {
	ID             string       `json:"id,omitempty"`
	ProductID      string       `json:"product_id"`
	CategoryTotals ImpactVector `json:"category_totals"`
	Quality        QualityGrade `json:"quality"`
	LineItemCount  int          `json:"line_item_count"`
	HybridCount    int          `json:"hybrid_count"`

	// Single-score fields, set only when a weighting set was applied.
	Normalised     ImpactVector `json:"normalised,omitempty"`
	Weighted       ImpactVector `json:"weighted,omitempty"`
	SingleScore    *float64     `json:"single_score,omitempty"`
	WeightingSetID string       `json:"weighting_set_id,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// WeightingSet defines per-category weights and normalisation references for
// the single-score methodology. References are per-capita annual impact
// values; categories missing a reference are skipped during scoring.
type WeightingSet struct {
	ID         string             `json:"id" yaml:"id"`
	Name       string             `json:"name" yaml:"name"`
	Version    string             `json:"version,omitempty" yaml:"version,omitempty"`
	IsDefault  bool               `json:"is_default" yaml:"is_default"`
	Weights    map[string]float64 `json:"weights" yaml:"weights"`
	References map[string]float64 `json:"references" yaml:"references"`
}

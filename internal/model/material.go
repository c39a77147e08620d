package model

import "time"

// LineItemCategory tags a bill-of-materials entry with the kind of input it
// represents. The category steers tier 4 (hybrid) resolution: only energy,
// transport, and commuting items may combine a government climate factor
// with a non-climate proxy.
type LineItemCategory string

const (
	CategoryEnergy    LineItemCategory = "energy"
	CategoryTransport LineItemCategory = "transport"
	CategoryCommuting LineItemCategory = "commuting"
	CategoryWaste     LineItemCategory = "waste"
	CategoryMaterial  LineItemCategory = "manufacturing-material"
)

// HybridEligible reports whether tier 4 hybrid resolution applies to the
// category.
func (c LineItemCategory) HybridEligible() bool {
	switch c {
	case CategoryEnergy, CategoryTransport, CategoryCommuting:
		return true
	}
	return false
}

// MaterialLineItem is one named material or energy input on a product
// assessment. Line items are superseded, never deleted, once the owning
// assessment is finalised.
type MaterialLineItem struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"product_id"`
	OrganisationID string           `json:"organisation_id"`
	Name           string           `json:"name"`
	Category       LineItemCategory `json:"category"`
	Quantity       float64          `json:"quantity"`
	Unit           string           `json:"unit"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// LineItemImpact pairs a line item's quantity with its current resolved
// impact. This is the aggregator's input row.
type LineItemImpact struct {
	LineItemID string         `json:"line_item_id"`
	Quantity   float64        `json:"quantity"`
	Impact     ResolvedImpact `json:"impact"`
}

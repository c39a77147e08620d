// Package refdata defines the lookup contract against the read-only
// reference tables: organisation overrides, global industry-average
// proxies, and government emission factors.
package refdata

import (
	"context"

	"github.com/verdantly/footprint-cli/internal/model"
)

// OrgFactor is an organisation-specific emission entry. These outrank every
// other source for the owning organisation.
type OrgFactor struct {
	OrganisationID string             `json:"organisation_id" yaml:"organisation_id"`
	Name           string             `json:"name" yaml:"name"`
	Unit           string             `json:"unit" yaml:"unit"`
	Values         model.ImpactVector `json:"values" yaml:"values"`
	Reference      string             `json:"reference,omitempty" yaml:"reference,omitempty"`
	Geography      string             `json:"geography,omitempty" yaml:"geography,omitempty"`
}

// ProxyFactor is a global industry-average entry with a declared data
// quality score (0-5 scale).
type ProxyFactor struct {
	Name      string             `json:"name" yaml:"name"`
	Unit      string             `json:"unit" yaml:"unit"`
	Values    model.ImpactVector `json:"values" yaml:"values"`
	Quality   float64            `json:"quality" yaml:"quality"`
	Reference string             `json:"reference,omitempty" yaml:"reference,omitempty"`
	Geography string             `json:"geography,omitempty" yaml:"geography,omitempty"`
}

// GovFactor is a government reference factor carrying a climate-only value
// for one line-item category.
type GovFactor struct {
	Category  model.LineItemCategory `json:"category" yaml:"category"`
	Unit      string                 `json:"unit" yaml:"unit"`
	Climate   float64                `json:"climate" yaml:"climate"`
	Reference string                 `json:"reference,omitempty" yaml:"reference,omitempty"`
	Geography string                 `json:"geography,omitempty" yaml:"geography,omitempty"`
}

// Source is the read-only lookup capability the resolver needs. Names
// passed in are already normalised (lower-cased, whitespace-collapsed);
// implementations match against their own normalised copies.
type Source interface {
	// OrgExact returns the organisation entry whose normalised name equals
	// the given name, or nil.
	OrgExact(ctx context.Context, orgID, name string) (*OrgFactor, error)
	// OrgSubstring returns organisation entries whose normalised name
	// contains the given name as a substring, in stable order.
	OrgSubstring(ctx context.Context, orgID, name string) ([]OrgFactor, error)
	// ProxySubstring returns global proxy entries matching by substring,
	// ordered by declared quality descending.
	ProxySubstring(ctx context.Context, name string) ([]ProxyFactor, error)
	// GovFactor returns the government factor for the category, or nil.
	GovFactor(ctx context.Context, category model.LineItemCategory) (*GovFactor, error)
}

// Package resolver implements the tiered waterfall that resolves one
// material or energy line item to a best-available emission-impact record.
//
// Tiers, in strict order:
//
//  1. organisation entry, exact name match
//  2. organisation entry, substring match
//  3. global industry proxy, substring match, ranked by declared quality
//  4. hybrid: government climate factor + best-effort non-climate proxy
//     (energy/transport/commuting categories only)
//
// The first tier that answers wins. The resolver is pure over the reference
// store; callers cache results, the resolver does not.
package resolver

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/refdata"
)

// Confidence scores are a deterministic function of the answering tier.
const (
	ConfidenceOrgOverride = 70
	ConfidenceHybrid      = 40
	ConfidenceMax         = 100
	// Proxy confidence is the proxy's declared quality score (0-5) scaled
	// by ProxyConfidencePerQuality, capped at ConfidenceMax.
	ProxyConfidencePerQuality = 20
)

// Request is one line item to resolve.
type Request struct {
	OrganisationID string
	Name           string
	Category       model.LineItemCategory
	Quantity       float64
	Unit           string
}

// Resolver walks the reference-data tiers.
type Resolver struct {
	src refdata.Source
	now func() time.Time
}

// New creates a Resolver over the given reference source.
func New(src refdata.Source) *Resolver {
	return &Resolver{src: src, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (r *Resolver) WithNow(t time.Time) *Resolver {
	r.now = func() time.Time { return t }
	return r
}

// Resolve returns the best-available impact record for the request, or a
// wrapped model.ErrNotFound when every tier comes up empty. Callers must
// not substitute a zero value on NotFound; the line item is recorded as
// unresolved with confidence 0 and surfaced for review.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*model.ResolvedImpact, error) {
	name := refdata.Normalize(req.Name)
	if name == "" {
		return nil, eris.Wrap(model.ErrNotFound, "resolver: empty material name")
	}

	// Tier 1: organisation exact match.
	if f, err := r.src.OrgExact(ctx, req.OrganisationID, name); err != nil {
		return nil, eris.Wrap(err, "resolver: org exact lookup")
	} else if f != nil {
		return r.fromOrg(*f, model.QualityHigh), nil
	}

	// Tier 2: organisation substring match. Same confidence as an exact
	// match but lower tie-break priority; substring hits are not treated
	// as organisation-exact for grading.
	if matches, err := r.src.OrgSubstring(ctx, req.OrganisationID, name); err != nil {
		return nil, eris.Wrap(err, "resolver: org substring lookup")
	} else if len(matches) > 0 {
		return r.fromOrg(matches[0], model.QualityMedium), nil
	}

	// Tier 3: industry proxy, best declared quality first.
	proxies, err := r.src.ProxySubstring(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: proxy lookup")
	}
	if len(proxies) > 0 {
		return r.fromProxy(proxies[0]), nil
	}

	// Tier 4: hybrid for energy-like categories. The climate figure and the
	// non-climate figures may come from two different sources; both are
	// recorded so aggregation can flag non-uniform quality.
	if req.Category.HybridEligible() {
		gov, err := r.src.GovFactor(ctx, req.Category)
		if err != nil {
			return nil, eris.Wrap(err, "resolver: government factor lookup")
		}
		if gov != nil {
			return r.hybrid(ctx, req.Category, *gov)
		}
	}

	return nil, eris.Wrapf(model.ErrNotFound, "resolver: %q (category %s)", req.Name, req.Category)
}

func (r *Resolver) fromOrg(f refdata.OrgFactor, quality model.QualityGrade) *model.ResolvedImpact {
	geo := f.Geography
	if geo == "" {
		geo = "global"
	}
	return &model.ResolvedImpact{
		Values:     f.Values.Clone(),
		Provenance: model.ProvenanceOrgOverride,
		Quality:    quality,
		Confidence: ConfidenceOrgOverride,
		Geography:  geo,
		Sources: []model.SourceRef{{
			Name:      f.Name,
			Reference: f.Reference,
			Geography: geo,
		}},
		ResolvedAt: r.now(),
	}
}

// ProxyConfidence maps a declared proxy quality score to a confidence value.
func ProxyConfidence(quality float64) int {
	c := int(math.Round(quality * ProxyConfidencePerQuality))
	if c > ConfidenceMax {
		return ConfidenceMax
	}
	if c < 0 {
		return 0
	}
	return c
}

func (r *Resolver) fromProxy(p refdata.ProxyFactor) *model.ResolvedImpact {
	quality := model.QualityMedium
	if p.Quality < 2 {
		quality = model.QualityLow
	}
	return &model.ResolvedImpact{
		Values:     p.Values.Clone(),
		Provenance: model.ProvenanceIndustryProxy,
		Quality:    quality,
		Confidence: ProxyConfidence(p.Quality),
		Geography:  p.Geography,
		Sources: []model.SourceRef{{
			Name:      p.Name,
			Reference: p.Reference,
			Geography: p.Geography,
		}},
		ResolvedAt: r.now(),
	}
}

// hybrid combines the government climate-only value with a best-effort
// non-climate proxy. A missing proxy still yields a climate-only record.
func (r *Resolver) hybrid(ctx context.Context, category model.LineItemCategory, gov refdata.GovFactor) (*model.ResolvedImpact, error) {
	geo := gov.Geography
	if geo == "" {
		geo = "global"
	}
	values := model.ImpactVector{model.ImpactClimate: gov.Climate}
	sources := []model.SourceRef{{
		Name:      "government reference",
		Reference: gov.Reference,
		Geography: geo,
	}}

	// Best-effort non-climate companion. The name already failed the proxy
	// tier, so the category keyword stands in for it here.
	proxies, err := r.src.ProxySubstring(ctx, string(category))
	if err != nil {
		return nil, eris.Wrap(err, "resolver: hybrid proxy lookup")
	}
	if len(proxies) > 0 {
		p := proxies[0]
		for k, v := range p.Values {
			if k == model.ImpactClimate {
				continue // climate stays with the government figure
			}
			values[k] = v
		}
		sources = append(sources, model.SourceRef{
			Name:      p.Name,
			Reference: p.Reference,
			Geography: p.Geography,
		})
	}

	return &model.ResolvedImpact{
		Values:     values,
		Provenance: model.ProvenanceHybrid,
		Quality:    model.QualityMedium,
		Confidence: ConfidenceHybrid,
		Geography:  geo,
		IsHybrid:   true,
		Sources:    sources,
		ResolvedAt: r.now(),
	}, nil
}

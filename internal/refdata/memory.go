package refdata

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/verdantly/footprint-cli/internal/model"
)

var foldCaser = cases.Fold()

// Normalize lower-cases a material name and collapses interior whitespace.
// All name matching in the reference store happens on normalised names.
func Normalize(name string) string {
	return strings.Join(strings.Fields(foldCaser.String(name)), " ")
}

// Tables is the YAML shape of a reference-data fixture file, as produced by
// the administrative data-loading process.
type Tables struct {
	OrgFactors []OrgFactor   `yaml:"org_factors"`
	Proxies    []ProxyFactor `yaml:"proxies"`
	GovFactors []GovFactor   `yaml:"gov_factors"`
}

// MemorySource is an in-memory Source for local runs and tests. It is
// read-only after construction and safe for concurrent use.
type MemorySource struct {
	orgByID map[string][]OrgFactor // normalised-name entries per organisation
	proxies []ProxyFactor          // quality-descending
	gov     map[model.LineItemCategory]GovFactor
}

// NewMemorySource builds a MemorySource from loaded tables. Names are
// normalised once here so lookups are plain string operations.
func NewMemorySource(t Tables) *MemorySource {
	s := &MemorySource{
		orgByID: make(map[string][]OrgFactor),
		gov:     make(map[model.LineItemCategory]GovFactor),
	}
	for _, f := range t.OrgFactors {
		f.Name = Normalize(f.Name)
		s.orgByID[f.OrganisationID] = append(s.orgByID[f.OrganisationID], f)
	}
	s.proxies = make([]ProxyFactor, len(t.Proxies))
	for i, p := range t.Proxies {
		p.Name = Normalize(p.Name)
		if p.Geography == "" {
			p.Geography = "global"
		}
		s.proxies[i] = p
	}
	sort.SliceStable(s.proxies, func(i, j int) bool {
		return s.proxies[i].Quality > s.proxies[j].Quality
	})
	for _, g := range t.GovFactors {
		s.gov[g.Category] = g
	}
	return s
}

// LoadTables reads a reference-data fixture file.
func LoadTables(path string) (Tables, error) {
	var t Tables
	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "refdata: read %s", path)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, eris.Wrapf(err, "refdata: parse %s", path)
	}
	return t, nil
}

// NewMemorySourceFromFile loads a fixture file into a MemorySource.
func NewMemorySourceFromFile(path string) (*MemorySource, error) {
	t, err := LoadTables(path)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(t), nil
}

func (s *MemorySource) OrgExact(_ context.Context, orgID, name string) (*OrgFactor, error) {
	for _, f := range s.orgByID[orgID] {
		if f.Name == name {
			out := f
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemorySource) OrgSubstring(_ context.Context, orgID, name string) ([]OrgFactor, error) {
	var out []OrgFactor
	for _, f := range s.orgByID[orgID] {
		if strings.Contains(f.Name, name) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemorySource) ProxySubstring(_ context.Context, name string) ([]ProxyFactor, error) {
	var out []ProxyFactor
	for _, p := range s.proxies {
		if strings.Contains(p.Name, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemorySource) GovFactor(_ context.Context, category model.LineItemCategory) (*GovFactor, error) {
	g, ok := s.gov[category]
	if !ok {
		return nil, nil
	}
	out := g
	return &out, nil
}

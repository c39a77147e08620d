package refdata

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/verdantly/footprint-cli/internal/model"
)

// CategoryRule maps a material-name pattern to a line-item category. Rules
// are evaluated in file order; the first match wins.
type CategoryRule struct {
	Pattern  string                 `yaml:"pattern"`
	Category model.LineItemCategory `yaml:"category"`

	re *regexp.Regexp
}

// RuleTable is a versioned, ordered set of category rules. It replaces the
// inline free-text matching the categoriser used to do, so the mapping can
// be loaded and tested independently of resolver logic.
type RuleTable struct {
	Version string         `yaml:"version"`
	Rules   []CategoryRule `yaml:"rules"`
}

// LoadRuleTable reads and compiles a rule table from a YAML file.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read rule table %s", path)
	}
	return ParseRuleTable(data)
}

// ParseRuleTable parses and compiles rule table YAML.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "refdata: parse rule table")
	}
	for i := range t.Rules {
		re, err := regexp.Compile("(?i)" + t.Rules[i].Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: compile rule %q", t.Rules[i].Pattern)
		}
		t.Rules[i].re = re
	}
	return &t, nil
}

// Categorise returns the category for a material name, or ok=false when no
// rule matches. Callers fall back to the caller-supplied category tag.
func (t *RuleTable) Categorise(name string) (model.LineItemCategory, bool) {
	n := Normalize(name)
	for _, r := range t.Rules {
		if r.re.MatchString(n) {
			return r.Category, true
		}
	}
	return "", false
}

package refdata

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/verdantly/footprint-cli/internal/model"
)

// weightingFile is the YAML shape of a weighting-set fixture file.
type weightingFile struct {
	WeightingSets []model.WeightingSet `yaml:"weighting_sets"`
}

// LoadWeightingSets reads weighting sets from a YAML fixture file.
func LoadWeightingSets(path string) ([]model.WeightingSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read weighting sets %s", path)
	}
	var f weightingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "refdata: parse weighting sets %s", path)
	}
	return f.WeightingSets, nil
}

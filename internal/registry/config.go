package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// sourceConfig is the YAML shape of one registered source. Accuracy is a
// pointer so an explicit zero (fully distrusted source) is distinguishable
// from the key being absent.
type sourceConfig struct {
	ID                 string   `yaml:"id"`
	Category           string   `yaml:"category"`
	BaseWeight         float64  `yaml:"base_weight"`
	HistoricalAccuracy *float64 `yaml:"historical_accuracy"`
}

// fileConfig is the YAML shape of the registry file.
type fileConfig struct {
	Sources         []sourceConfig     `yaml:"sources"`
	CategoryWeights map[string]float64 `yaml:"category_weights,omitempty"`
}

// LoadFile reads the source registry from a YAML file. Configuration errors
// are fatal at load time: unknown categories, weights outside [0,1], and
// duplicate source IDs are all rejected.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read config %s", path)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "registry: parse config")
	}
	if len(fc.Sources) == 0 {
		return nil, eris.New("registry: config declares no sources")
	}

	seen := make(map[string]bool, len(fc.Sources))
	sources := make([]model.Source, 0, len(fc.Sources))
	for _, sc := range fc.Sources {
		if sc.ID == "" {
			return nil, eris.New("registry: source with empty id")
		}
		if seen[sc.ID] {
			return nil, eris.Errorf("registry: duplicate source %q", sc.ID)
		}
		seen[sc.ID] = true

		cat := model.SourceCategory(sc.Category)
		if !cat.Valid() {
			return nil, eris.Errorf("registry: source %q has unknown category %q", sc.ID, sc.Category)
		}
		if sc.BaseWeight < 0 || sc.BaseWeight > 1 {
			return nil, eris.Errorf("registry: source %q base_weight %.3f outside [0,1]", sc.ID, sc.BaseWeight)
		}
		// Unstated accuracy starts neutral, not at zero trust.
		acc := 1.0
		if sc.HistoricalAccuracy != nil {
			acc = *sc.HistoricalAccuracy
			if acc < 0 || acc > 1 {
				return nil, eris.Errorf("registry: source %q historical_accuracy %.3f outside [0,1]", sc.ID, acc)
			}
		}
		sources = append(sources, model.Source{
			SourceID:           sc.ID,
			Category:           cat,
			BaseWeight:         sc.BaseWeight,
			HistoricalAccuracy: acc,
		})
	}

	var weights map[model.SourceCategory]float64
	if len(fc.CategoryWeights) > 0 {
		weights = make(map[model.SourceCategory]float64, len(fc.CategoryWeights))
		for k, v := range fc.CategoryWeights {
			cat := model.SourceCategory(k)
			if !cat.Valid() {
				return nil, eris.Errorf("registry: category_weights key %q is not a known category", k)
			}
			if v < 0 || v > 1 {
				return nil, eris.Errorf("registry: category weight for %q outside [0,1]", k)
			}
			weights[cat] = v
		}
	}

	return New(sources, weights), nil
}

// Package anomaly flags candidate values that are statistically or
// structurally suspect, using three independent checks: absolute range,
// deviation from the entity's own history, and deviation from an industry
// benchmark range.
package anomaly

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// InvalidMetricRangeError indicates a misconfigured range (min > max).
// Fatal at config load time, never at per-resolution time.
type InvalidMetricRangeError struct {
	Metric string
	Min    float64
	Max    float64
}

func (e *InvalidMetricRangeError) Error() string {
	return fmt.Sprintf("anomaly: metric %q range [%g, %g] has min > max", e.Metric, e.Min, e.Max)
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// MetricConfig holds per-metric detection parameters.
type MetricConfig struct {
	// AbsoluteRange bounds plausible values outright; violations are HIGH.
	AbsoluteRange *Range `yaml:"absolute_range,omitempty"`
	// Benchmark is the industry range the peer deviation check compares
	// against. TolerancePct widens it on both sides (0.10 = 10%).
	Benchmark    *Range  `yaml:"benchmark,omitempty"`
	TolerancePct float64 `yaml:"tolerance_pct,omitempty"`
}

// Config maps metric names to their detection parameters.
type Config struct {
	Metrics map[string]MetricConfig `yaml:"metrics"`
}

// LoadFile reads anomaly detection config from a YAML file and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "anomaly: read config %s", path)
	}
	return Parse(data)
}

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "anomaly: parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on inverted ranges or negative tolerances.
func (c *Config) Validate() error {
	for name, mc := range c.Metrics {
		if mc.AbsoluteRange != nil && mc.AbsoluteRange.Min > mc.AbsoluteRange.Max {
			return &InvalidMetricRangeError{Metric: name, Min: mc.AbsoluteRange.Min, Max: mc.AbsoluteRange.Max}
		}
		if mc.Benchmark != nil && mc.Benchmark.Min > mc.Benchmark.Max {
			return &InvalidMetricRangeError{Metric: name, Min: mc.Benchmark.Min, Max: mc.Benchmark.Max}
		}
		if mc.TolerancePct < 0 {
			return eris.Errorf("anomaly: metric %q tolerance_pct must be >= 0", name)
		}
	}
	return nil
}

// Metric returns the config for a metric; the zero config disables all
// range-based checks for unconfigured metrics.
func (c *Config) Metric(name string) MetricConfig {
	if c == nil {
		return MetricConfig{}
	}
	return c.Metrics[name]
}

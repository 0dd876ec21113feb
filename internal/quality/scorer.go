// Package quality grades resolved metrics by aggregating source
// reliability, data freshness, validation status, historical consistency,
// and observation completeness into a single letter grade.
package quality

import (
	"math"
	"time"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// Component weights. They sum to 1.0.
const (
	weightSourceReliability = 0.30
	weightFreshness         = 0.20
	weightValidation        = 0.25
	weightConsistency       = 0.15
	weightCompleteness      = 0.10
)

// Config tunes the quality scorer.
type Config struct {
	// FreshnessHalfLifeDays controls how fast the freshness component
	// decays with observation age.
	FreshnessHalfLifeDays int `yaml:"freshness_half_life_days" mapstructure:"freshness_half_life_days"`
	// ExpectedSources is the corroboration count that earns full
	// completeness credit.
	ExpectedSources int `yaml:"expected_sources" mapstructure:"expected_sources"`
}

// DefaultConfig returns the scorer defaults: 90-day half-life, three
// expected sources.
func DefaultConfig() Config {
	return Config{FreshnessHalfLifeDays: 90, ExpectedSources: 3}
}

// Breakdown exposes the per-component scores behind a grade, for the audit
// trail and observability surfaces.
type Breakdown struct {
	SourceReliability float64 `json:"source_reliability"`
	Freshness         float64 `json:"data_freshness"`
	Validation        float64 `json:"validation_status"`
	Consistency       float64 `json:"consistency_score"`
	Completeness      float64 `json:"completeness"`
	Total             float64 `json:"total"`
}

// Scorer computes quality grades.
type Scorer struct {
	cfg Config
	now time.Time // injectable for testing
}

// NewScorer creates a Scorer. Zero config fields fall back to defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.FreshnessHalfLifeDays <= 0 {
		cfg.FreshnessHalfLifeDays = def.FreshnessHalfLifeDays
	}
	if cfg.ExpectedSources <= 0 {
		cfg.ExpectedSources = def.ExpectedSources
	}
	return &Scorer{cfg: cfg, now: time.Now().UTC()}
}

// WithNow sets a fixed time for testing.
func (s *Scorer) WithNow(t time.Time) *Scorer {
	s.now = t
	return s
}

// Score grades a resolved metric given the observations that fed it and the
// entity's trailing history. Returns the weighted total and its breakdown.
func (s *Scorer) Score(rm *model.ResolvedMetric, observations []model.Observation, history []float64) (Breakdown, model.QualityGrade) {
	b := Breakdown{
		SourceReliability: sourceReliability(rm.Contributing),
		Freshness:         s.freshness(observations),
		Validation:        validationStatus(rm.Anomalies),
		Consistency:       consistency(rm.FinalValue, history),
		Completeness:      s.completeness(rm.Contributing),
	}
	b.Total = weightSourceReliability*b.SourceReliability +
		weightFreshness*b.Freshness +
		weightValidation*b.Validation +
		weightConsistency*b.Consistency +
		weightCompleteness*b.Completeness

	return b, gradeFor(b.Total)
}

// sourceReliability averages the effective weights of the sources whose
// values were actually used (discarded entries are excluded).
func sourceReliability(contributing []model.ContributingSource) float64 {
	var sum float64
	var n int
	for _, c := range contributing {
		if c.Discarded {
			continue
		}
		sum += c.Weight
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Min(1, sum/float64(n))
}

// freshness takes the newest observation's decayed score: the engine only
// needs one current reading to consider the record fresh.
func (s *Scorer) freshness(observations []model.Observation) float64 {
	if len(observations) == 0 {
		return 0
	}
	var best float64
	for _, o := range observations {
		f := Freshness(o.ObservedAt, s.now, s.cfg.FreshnessHalfLifeDays)
		if f > best {
			best = f
		}
	}
	return best
}

// validationStatus reflects anomaly findings: clean 1.0, MEDIUM 0.6,
// HIGH 0.2.
func validationStatus(findings []model.AnomalyFinding) float64 {
	switch model.MaxSeverity(findings) {
	case model.SeverityHigh:
		return 0.2
	case model.SeverityMedium:
		return 0.6
	default:
		return 1.0
	}
}

// consistency mirrors the confidence scorer's view of trailing history,
// mapped onto [0,1].
func consistency(value float64, history []float64) float64 {
	if len(history) == 0 {
		// No history to be consistent with; neutral credit.
		return 0.7
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))
	denom := math.Abs(mean)
	if denom < 1e-9 {
		denom = 1e-9
	}
	relDev := math.Abs(value-mean) / denom
	return math.Max(0, 1-relDev)
}

// completeness scores corroboration against the expected source count.
func (s *Scorer) completeness(contributing []model.ContributingSource) float64 {
	seen := make(map[string]bool, len(contributing))
	for _, c := range contributing {
		seen[c.SourceID] = true
	}
	return math.Min(1, float64(len(seen))/float64(s.cfg.ExpectedSources))
}

// gradeFor maps a total score onto the fixed letter-grade thresholds.
func gradeFor(total float64) model.QualityGrade {
	switch {
	case total >= 0.9:
		return model.GradeAPlus
	case total >= 0.8:
		return model.GradeA
	case total >= 0.7:
		return model.GradeB
	case total >= 0.6:
		return model.GradeC
	default:
		return model.GradeD
	}
}

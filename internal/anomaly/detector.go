package anomaly

import (
	"fmt"
	"math"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// minHistoryPoints is the fewest trailing values required before the trend
// deviation check can run. Below this the check is skipped, not failed.
const minHistoryPoints = 3

// Result is the outcome of running all checks against one candidate value.
type Result struct {
	Findings []model.AnomalyFinding
	// Skipped records checks that degraded gracefully (e.g. insufficient
	// history). Surfaced in the resolved record's audit trail, never
	// silently dropped.
	Skipped []model.AuditEvent
}

// MaxSeverity is the highest severity across the result's findings.
func (r Result) MaxSeverity() model.AnomalySeverity {
	return model.MaxSeverity(r.Findings)
}

// Detector runs the three independent anomaly checks.
type Detector struct {
	cfg *Config
}

// NewDetector creates a Detector. cfg may be nil, which disables the
// absolute range and peer deviation checks for all metrics.
func NewDetector(cfg *Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect runs every check against the candidate value. history holds the
// entity's trailing resolved values for the same metric, oldest first.
// Findings accumulate; a value may trip several checks at once.
func (d *Detector) Detect(metric string, value float64, history []float64) Result {
	var res Result
	mc := d.cfg.Metric(metric)

	if f := checkAbsoluteRange(mc.AbsoluteRange, value); f != nil {
		res.Findings = append(res.Findings, *f)
	}

	f, skipped := checkTrendDeviation(value, history)
	if f != nil {
		res.Findings = append(res.Findings, *f)
	}
	if skipped {
		res.Skipped = append(res.Skipped, model.AuditEvent{
			Code:    model.AuditTrendCheckSkipped,
			Message: fmt.Sprintf("trend deviation skipped: %d historical points, need %d", len(history), minHistoryPoints),
		})
	}

	if mc.Benchmark != nil {
		if f := checkPeerDeviation(*mc.Benchmark, mc.TolerancePct, value); f != nil {
			res.Findings = append(res.Findings, *f)
		}
	} else {
		res.Skipped = append(res.Skipped, model.AuditEvent{
			Code:    model.AuditBenchmarkMissing,
			Message: fmt.Sprintf("no industry benchmark configured for metric %q", metric),
		})
	}

	return res
}

// checkAbsoluteRange flags values outside the configured hard bounds.
func checkAbsoluteRange(r *Range, value float64) *model.AnomalyFinding {
	if r == nil || r.Contains(value) {
		return nil
	}
	return &model.AnomalyFinding{
		Check:    model.CheckAbsoluteRange,
		Severity: model.SeverityHigh,
		Message:  fmt.Sprintf("value %g outside configured range [%g, %g]", value, r.Min, r.Max),
	}
}

// checkTrendDeviation computes the z-score of the candidate against the
// entity's own history. Zero stddev is treated as no finding, not a
// divide-by-zero fault. The second return reports whether the check was
// skipped for lack of history.
func checkTrendDeviation(value float64, history []float64) (*model.AnomalyFinding, bool) {
	if len(history) < minHistoryPoints {
		return nil, true
	}

	mean, stddev := meanStddev(history)
	if stddev == 0 {
		return nil, false
	}

	z := (value - mean) / stddev
	abs := math.Abs(z)
	switch {
	case abs > 3:
		return &model.AnomalyFinding{
			Check:    model.CheckTrendDeviation,
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("value %g is %.1f stddev from trailing mean %g", value, z, mean),
			ZScore:   z,
		}, false
	case abs > 2:
		return &model.AnomalyFinding{
			Check:    model.CheckTrendDeviation,
			Severity: model.SeverityMedium,
			Message:  fmt.Sprintf("value %g is %.1f stddev from trailing mean %g", value, z, mean),
			ZScore:   z,
		}, false
	}
	return nil, false
}

// checkPeerDeviation compares against the industry benchmark range widened
// by the configured tolerance on both sides.
func checkPeerDeviation(benchmark Range, tolerancePct float64, value float64) *model.AnomalyFinding {
	span := benchmark.Max - benchmark.Min
	slack := span * tolerancePct
	widened := Range{Min: benchmark.Min - slack, Max: benchmark.Max + slack}
	if widened.Contains(value) {
		return nil
	}
	return &model.AnomalyFinding{
		Check:    model.CheckPeerDeviation,
		Severity: model.SeverityMedium,
		Message:  fmt.Sprintf("value %g outside industry benchmark [%g, %g] with %.0f%% tolerance", value, benchmark.Min, benchmark.Max, tolerancePct*100),
	}
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

package model

import "time"

// ResolutionMethod names the strategy that produced a resolved value.
type ResolutionMethod string

const (
	MethodOverride        ResolutionMethod = "OVERRIDE"
	MethodWeightedAverage ResolutionMethod = "WEIGHTED_AVERAGE"
	MethodSingleSource    ResolutionMethod = "SINGLE_SOURCE"
)

// AnomalySeverity classifies how far a candidate value deviates from
// expected ranges or history.
type AnomalySeverity string

const (
	SeverityMedium AnomalySeverity = "MEDIUM"
	SeverityHigh   AnomalySeverity = "HIGH"
)

// Anomaly check identifiers.
const (
	CheckAbsoluteRange  = "absolute_range"
	CheckTrendDeviation = "trend_deviation"
	CheckPeerDeviation  = "peer_deviation"
)

// AnomalyFinding is one finding produced by a single anomaly check.
type AnomalyFinding struct {
	Check    string          `json:"check"`
	Severity AnomalySeverity `json:"severity"`
	Message  string          `json:"message"`
	ZScore   float64         `json:"z_score,omitempty"`
}

// MaxSeverity returns the highest severity across findings, or "" when the
// list is empty.
func MaxSeverity(findings []AnomalyFinding) AnomalySeverity {
	var max AnomalySeverity
	for _, f := range findings {
		if f.Severity == SeverityHigh {
			return SeverityHigh
		}
		if f.Severity == SeverityMedium {
			max = SeverityMedium
		}
	}
	return max
}

// Audit event codes recorded on a ResolvedMetric.
const (
	AuditSourceDropped      = "source_dropped_unknown"
	AuditTrendCheckSkipped  = "trend_check_skipped"
	AuditBenchmarkMissing   = "benchmark_missing"
	AuditConfidenceCapped   = "confidence_capped_anomaly"
	AuditReviewerCorrection = "reviewer_correction"
)

// AuditEvent records a degradation or notable decision taken during a
// resolution run. Events carry no timestamps so that repeated runs over
// identical inputs produce bit-identical output.
type AuditEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ContributingSource records one source's role in a resolution, in
// deterministic order. Weight is the effective weight actually used;
// Discarded marks observations overridden by a regulatory value or dropped.
type ContributingSource struct {
	SourceID  string  `json:"source_id"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
	Discarded bool    `json:"discarded,omitempty"`
}

// QualityGrade is the letter grade assigned by the data quality scorer.
type QualityGrade string

const (
	GradeAPlus QualityGrade = "A+"
	GradeA     QualityGrade = "A"
	GradeB     QualityGrade = "B"
	GradeC     QualityGrade = "C"
	GradeD     QualityGrade = "D"
)

// ResolvedMetric is the engine's output for one resolution unit. The pure
// resolver leaves ID, SupersededBy and ResolvedAt empty; they are attached
// at the persistence boundary.
type ResolvedMetric struct {
	ID           string               `json:"id,omitempty"`
	MetricName   string               `json:"metric_name"`
	EntityID     string               `json:"entity_id"`
	Period       string               `json:"period"`
	FinalValue   float64              `json:"final_value"`
	Confidence   float64              `json:"confidence"`
	Method       ResolutionMethod     `json:"resolution_method"`
	Contributing []ContributingSource `json:"contributing_sources"`
	Anomalies    []AnomalyFinding     `json:"anomalies,omitempty"`
	Audit        []AuditEvent         `json:"audit,omitempty"`
	QualityScore float64              `json:"quality_score"`
	QualityGrade QualityGrade         `json:"quality_grade"`
	SupersededBy string               `json:"superseded_by,omitempty"`
	ResolvedAt   time.Time            `json:"resolved_at,omitempty"`
}

// Key returns the resolution unit this record belongs to.
func (m *ResolvedMetric) Key() MetricKey {
	return MetricKey{MetricName: m.MetricName, EntityID: m.EntityID, Period: m.Period}
}

// MaxAnomalySeverity is the highest severity across the record's findings.
func (m *ResolvedMetric) MaxAnomalySeverity() AnomalySeverity {
	return MaxSeverity(m.Anomalies)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxSeverity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AnomalySeverity(""), MaxSeverity(nil))
	assert.Equal(t, SeverityMedium, MaxSeverity([]AnomalyFinding{
		{Check: CheckPeerDeviation, Severity: SeverityMedium},
	}))
	assert.Equal(t, SeverityHigh, MaxSeverity([]AnomalyFinding{
		{Check: CheckPeerDeviation, Severity: SeverityMedium},
		{Check: CheckAbsoluteRange, Severity: SeverityHigh},
	}))
}

func TestObservationKey(t *testing.T) {
	t.Parallel()

	o := Observation{
		MetricName: "quarterly_revenue",
		EntityID:   "acme",
		Period:     "2026-Q1",
		SourceID:   "sec_edgar",
		Value:      1000000,
	}
	assert.Equal(t, MetricKey{MetricName: "quarterly_revenue", EntityID: "acme", Period: "2026-Q1"}, o.Key())

	rm := &ResolvedMetric{MetricName: "quarterly_revenue", EntityID: "acme", Period: "2026-Q1"}
	assert.Equal(t, o.Key(), rm.Key())
}

func TestSourceCategoryValid(t *testing.T) {
	t.Parallel()

	for _, c := range []SourceCategory{CategoryRegulatory, CategoryAggregate, CategorySingleReliable, CategoryPredictive} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, SourceCategory("crowdsourced").Valid())
	assert.False(t, SourceCategory("").Valid())
}

func TestSourceEffectiveWeight(t *testing.T) {
	t.Parallel()

	s := Source{SourceID: "sec_edgar", Category: CategoryRegulatory, BaseWeight: 1.0, HistoricalAccuracy: 0.95}
	assert.InDelta(t, 0.95, s.EffectiveWeight(), 1e-9)

	s.HistoricalAccuracy = 0
	assert.Zero(t, s.EffectiveWeight())
}

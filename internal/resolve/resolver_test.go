package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/anomaly"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/registry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testKey = model.MetricKey{MetricName: "revenue", EntityID: "ACME", Period: "2026-Q2"}

func testRegistry() *registry.Registry {
	return registry.New([]model.Source{
		{SourceID: "sec_edgar", Category: model.CategoryRegulatory, BaseWeight: 1.0, HistoricalAccuracy: 1.0},
		{SourceID: "agg_a", Category: model.CategoryAggregate, BaseWeight: 0.8, HistoricalAccuracy: 1.0},
		{SourceID: "agg_b", Category: model.CategoryAggregate, BaseWeight: 0.8, HistoricalAccuracy: 1.0},
		{SourceID: "analyst", Category: model.CategoryPredictive, BaseWeight: 0.5, HistoricalAccuracy: 1.0},
	}, nil)
}

func testResolver(cfg *anomaly.Config) *Resolver {
	return NewResolver(testRegistry(), anomaly.NewDetector(cfg))
}

func obs(source string, value float64) model.Observation {
	return model.Observation{
		MetricName: testKey.MetricName,
		EntityID:   testKey.EntityID,
		Period:     testKey.Period,
		SourceID:   source,
		Value:      value,
		ObservedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolve_RegulatoryOverride(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", 95.0),
		obs("sec_edgar", 100.0),
		obs("analyst", 110.0),
	}})
	require.NoError(t, err)

	assert.Equal(t, model.MethodOverride, rm.Method)
	assert.Equal(t, 100.0, rm.FinalValue)
	assert.Equal(t, 0.95, rm.Confidence)
	require.Len(t, rm.Contributing, 3)

	discarded := 0
	for _, c := range rm.Contributing {
		if c.Discarded {
			discarded++
		} else {
			assert.Equal(t, "sec_edgar", c.SourceID)
		}
	}
	assert.Equal(t, 2, discarded)
}

func TestResolve_OverridePrecedence_ManyConflicts(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", 1.0),
		obs("agg_b", 2.0),
		obs("analyst", 3.0),
		obs("sec_edgar", 500.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, model.MethodOverride, rm.Method)
	assert.Equal(t, 500.0, rm.FinalValue)
	assert.Equal(t, 0.95, rm.Confidence)
}

func TestResolve_SingleSource_Verbatim(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("analyst", 42.125),
	}})
	require.NoError(t, err)

	assert.Equal(t, model.MethodSingleSource, rm.Method)
	assert.Equal(t, 42.125, rm.FinalValue, "single source value must pass through untransformed")
	// base 0.5 x predictive weight 0.5 x no-history consistency 1.
	assert.InDelta(t, 0.25, rm.Confidence, 1e-9)
}

func TestResolve_WeightedAverage_EqualWeights(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", 100.0),
		obs("agg_b", 102.0),
	}})
	require.NoError(t, err)

	assert.Equal(t, model.MethodWeightedAverage, rm.Method)
	assert.InDelta(t, 101.0, rm.FinalValue, 1e-9)

	// Two-source base 0.7 x aggregate quality 0.85 = 0.595, less the
	// consistency penalty variance/final = 1/101.
	expected := 0.7*0.85 - 1.0/101.0
	assert.InDelta(t, expected, rm.Confidence, 1e-9)
	require.Len(t, rm.Contributing, 2)
	for _, c := range rm.Contributing {
		assert.False(t, c.Discarded)
		assert.InDelta(t, 0.8, c.Weight, 1e-9)
	}
}

func TestResolve_WeightedAverage_Bounds(t *testing.T) {
	r := testResolver(nil)

	cases := [][]float64{
		{100, 102, 98},
		{1, 1000},
		{-50, 50, 0},
	}
	sources := []string{"agg_a", "agg_b", "analyst"}
	for _, values := range cases {
		var in []model.Observation
		min, max := values[0], values[0]
		for i, v := range values {
			in = append(in, obs(sources[i], v))
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		rm, err := r.Resolve(Input{Key: testKey, Observations: in})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rm.FinalValue, min)
		assert.LessOrEqual(t, rm.FinalValue, max)
	}
}

func TestResolve_WeightedAverage_TrustTilts(t *testing.T) {
	reg := registry.New([]model.Source{
		{SourceID: "trusted", Category: model.CategoryAggregate, BaseWeight: 0.9, HistoricalAccuracy: 1.0},
		{SourceID: "shaky", Category: model.CategoryAggregate, BaseWeight: 0.9, HistoricalAccuracy: 0.25},
	}, nil)
	r := NewResolver(reg, anomaly.NewDetector(nil))

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("trusted", 100.0),
		obs("shaky", 200.0),
	}})
	require.NoError(t, err)
	// (100*0.9 + 200*0.225) / 1.125 = 120.
	assert.InDelta(t, 120.0, rm.FinalValue, 1e-9)
}

func TestResolve_ZeroFinalValue_NoPenaltyFault(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", -100.0),
		obs("agg_b", 100.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rm.FinalValue)
	// Penalty guard: no NaN/Inf, confidence stays in range.
	assert.GreaterOrEqual(t, rm.Confidence, 0.0)
	assert.LessOrEqual(t, rm.Confidence, 0.9)
}

func TestResolve_UnknownSourceDropped(t *testing.T) {
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", 100.0),
		obs("who_is_this", 9999.0),
	}})
	require.NoError(t, err)

	assert.Equal(t, model.MethodSingleSource, rm.Method)
	assert.Equal(t, 100.0, rm.FinalValue)

	var codes []string
	for _, a := range rm.Audit {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, model.AuditSourceDropped)
}

func TestResolve_AllUnknown_Error(t *testing.T) {
	r := testResolver(nil)

	_, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("ghost_a", 1.0),
		obs("ghost_b", 2.0),
	}})
	require.Error(t, err)

	var ese *EmptyObservationSetError
	require.ErrorAs(t, err, &ese)
	assert.Equal(t, testKey, ese.Key)
}

func TestResolve_EmptyInput_Error(t *testing.T) {
	r := testResolver(nil)
	_, err := r.Resolve(Input{Key: testKey})
	var ese *EmptyObservationSetError
	require.ErrorAs(t, err, &ese)
}

func TestResolve_HighAnomalyCapsConfidence(t *testing.T) {
	cfg := &anomaly.Config{Metrics: map[string]anomaly.MetricConfig{
		"revenue": {AbsoluteRange: &anomaly.Range{Min: 0, Max: 500}},
	}}
	r := testResolver(cfg)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_a", 900.0),
		obs("agg_b", 910.0),
	}})
	require.NoError(t, err)

	assert.Equal(t, model.SeverityHigh, rm.MaxAnomalySeverity())
	assert.Equal(t, 0.5, rm.Confidence)

	var codes []string
	for _, a := range rm.Audit {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, model.AuditConfidenceCapped)
}

func TestResolve_TrendAnomalyCapsConfidence(t *testing.T) {
	r := testResolver(nil)
	// Ten stddev out from trailing history.
	history := []float64{98, 100, 102, 100}

	rm, err := r.Resolve(Input{
		Key:          testKey,
		Observations: []model.Observation{obs("agg_a", 114.0), obs("agg_b", 114.0)},
		History:      history,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, rm.MaxAnomalySeverity())
	assert.LessOrEqual(t, rm.Confidence, 0.5)
}

func TestResolve_OverrideNotCappedByAnomaly(t *testing.T) {
	cfg := &anomaly.Config{Metrics: map[string]anomaly.MetricConfig{
		"revenue": {AbsoluteRange: &anomaly.Range{Min: 0, Max: 50}},
	}}
	r := testResolver(cfg)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("sec_edgar", 100.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, model.MethodOverride, rm.Method)
	assert.Equal(t, 0.95, rm.Confidence, "regulatory value stays authoritative")
	assert.Equal(t, model.SeverityHigh, rm.MaxAnomalySeverity(), "findings still recorded")
}

func TestResolve_Idempotent_OrderIndependent(t *testing.T) {
	r := testResolver(nil)
	history := []float64{90, 95, 100}

	a := []model.Observation{obs("agg_a", 100.0), obs("agg_b", 102.0), obs("analyst", 97.0)}
	b := []model.Observation{a[2], a[0], a[1]}

	first, err := r.Resolve(Input{Key: testKey, Observations: a, History: history})
	require.NoError(t, err)
	second, err := r.Resolve(Input{Key: testKey, Observations: b, History: history})
	require.NoError(t, err)

	assert.Equal(t, first, second, "resolution must not depend on arrival order")
}

func TestResolve_TieBreak_IdenticalWeights(t *testing.T) {
	// Two sources with identical category and weight but conflicting
	// values: still a weighted average, never a no-decision outcome.
	r := testResolver(nil)

	rm, err := r.Resolve(Input{Key: testKey, Observations: []model.Observation{
		obs("agg_b", 200.0),
		obs("agg_a", 100.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, model.MethodWeightedAverage, rm.Method)
	assert.InDelta(t, 150.0, rm.FinalValue, 1e-9)
}

func TestResolve_ConfidenceBounds(t *testing.T) {
	r := testResolver(nil)

	inputs := [][]model.Observation{
		{obs("sec_edgar", 100)},
		{obs("agg_a", 100)},
		{obs("agg_a", 100), obs("agg_b", 400)},
		{obs("agg_a", 100), obs("agg_b", 102), obs("analyst", 101)},
	}
	for _, in := range inputs {
		rm, err := r.Resolve(Input{Key: testKey, Observations: in})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rm.Confidence, 0.0)
		assert.LessOrEqual(t, rm.Confidence, 0.95)
		if rm.Method != model.MethodOverride {
			assert.LessOrEqual(t, rm.Confidence, 0.9, "only OVERRIDE reaches above 0.9")
		}
	}
}

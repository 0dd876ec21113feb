// Package resolve turns the set of observations for one (metric, entity,
// period) unit into a single reconciled value with a confidence score and a
// full audit trail. Resolution is pure: the same observation set and
// registry state always produce bit-identical output.
package resolve

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/anomaly"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/registry"
)

// EmptyObservationSetError indicates resolve was called with no usable
// observations; no ResolvedMetric is produced.
type EmptyObservationSetError struct {
	Key model.MetricKey
}

func (e *EmptyObservationSetError) Error() string {
	return fmt.Sprintf("resolve: no usable observations for %s/%s/%s",
		e.Key.EntityID, e.Key.MetricName, e.Key.Period)
}

// anomalyConfidenceCap bounds confidence when any finding is HIGH severity.
const anomalyConfidenceCap = 0.5

// maxConsistencyPenalty bounds the penalty applied for disagreement among
// averaged sources.
const maxConsistencyPenalty = 0.3

// Input is one resolution unit's worth of data. History holds the entity's
// trailing resolved values for the same metric, oldest first.
type Input struct {
	Key          model.MetricKey
	Observations []model.Observation
	History      []float64
}

// Resolver selects a resolution strategy and produces a reconciled value.
type Resolver struct {
	registry *registry.Registry
	detector *anomaly.Detector
}

// NewResolver creates a Resolver over the given registry and detector.
func NewResolver(reg *registry.Registry, det *anomaly.Detector) *Resolver {
	return &Resolver{registry: reg, detector: det}
}

// ranked pairs an observation with its registry snapshot.
type ranked struct {
	obs model.Observation
	src model.Source
}

// Resolve reconciles the unit's observations. Strategy precedence:
//
//  1. Regulatory override: any regulatory observation wins verbatim,
//     confidence fixed at 0.95, everything else recorded as discarded.
//  2. Single source: one non-regulatory observation is used verbatim.
//  3. Weighted average: two or more observations are blended by
//     base_weight x historical_accuracy, with a consistency penalty for
//     disagreement.
//
// Observations referencing unregistered sources are dropped with a warning
// and an audit event; only an entirely unusable set is an error.
func (r *Resolver) Resolve(in Input) (*model.ResolvedMetric, error) {
	obs := normalize(in.Observations)

	var audit []model.AuditEvent
	var usable []ranked
	for _, o := range obs {
		src, err := r.registry.Get(o.SourceID)
		if err != nil {
			zap.L().Warn("resolve: dropping observation from unknown source",
				zap.String("source_id", o.SourceID),
				zap.String("metric", in.Key.MetricName),
				zap.String("entity", in.Key.EntityID),
			)
			audit = append(audit, model.AuditEvent{
				Code:    model.AuditSourceDropped,
				Message: fmt.Sprintf("observation from unregistered source %q dropped", o.SourceID),
			})
			continue
		}
		usable = append(usable, ranked{obs: o, src: src})
	}
	if len(usable) == 0 {
		return nil, &EmptyObservationSetError{Key: in.Key}
	}

	rm := &model.ResolvedMetric{
		MetricName: in.Key.MetricName,
		EntityID:   in.Key.EntityID,
		Period:     in.Key.Period,
		Audit:      audit,
	}

	if reg := firstRegulatory(usable); reg != nil {
		r.resolveOverride(rm, *reg, usable)
	} else if len(usable) == 1 {
		r.resolveSingle(rm, usable[0], in.History)
	} else {
		r.resolveWeightedAverage(rm, usable, in.History)
	}

	// Every final value passes through anomaly detection before the record
	// is finalized. HIGH severity caps confidence, except under a
	// regulatory override: the filing stays authoritative, the findings are
	// still recorded for the review queue.
	det := r.detector.Detect(in.Key.MetricName, rm.FinalValue, in.History)
	rm.Anomalies = det.Findings
	rm.Audit = append(rm.Audit, det.Skipped...)
	if det.MaxSeverity() == model.SeverityHigh && rm.Method != model.MethodOverride && rm.Confidence > anomalyConfidenceCap {
		rm.Audit = append(rm.Audit, model.AuditEvent{
			Code:    model.AuditConfidenceCapped,
			Message: fmt.Sprintf("confidence %.3f capped at %.2f due to HIGH severity anomaly", rm.Confidence, anomalyConfidenceCap),
		})
		rm.Confidence = anomalyConfidenceCap
	}

	return rm, nil
}

// resolveOverride applies the regulatory value verbatim and records all
// other observations as discarded.
func (r *Resolver) resolveOverride(rm *model.ResolvedMetric, winner ranked, all []ranked) {
	rm.Method = model.MethodOverride
	rm.FinalValue = winner.obs.Value
	rm.Confidence = overrideConfidence
	for _, u := range all {
		rm.Contributing = append(rm.Contributing, model.ContributingSource{
			SourceID:  u.obs.SourceID,
			Value:     u.obs.Value,
			Weight:    u.src.EffectiveWeight(),
			Discarded: u.obs.SourceID != winner.obs.SourceID,
		})
	}
}

// resolveSingle uses the lone observation's value with no transformation.
func (r *Resolver) resolveSingle(rm *model.ResolvedMetric, only ranked, history []float64) {
	rm.Method = model.MethodSingleSource
	rm.FinalValue = only.obs.Value
	rm.Confidence = confidence(only.obs.Value, []model.Source{only.src}, history, r.registry.CategoryWeight)
	rm.Contributing = []model.ContributingSource{{
		SourceID: only.obs.SourceID,
		Value:    only.obs.Value,
		Weight:   only.src.EffectiveWeight(),
	}}
}

// resolveWeightedAverage blends all usable observations by effective source
// weight, then reduces confidence by a consistency penalty proportional to
// the disagreement among the blended values.
func (r *Resolver) resolveWeightedAverage(rm *model.ResolvedMetric, usable []ranked, history []float64) {
	rm.Method = model.MethodWeightedAverage

	var weightSum, valueSum float64
	values := make([]float64, 0, len(usable))
	sources := make([]model.Source, 0, len(usable))
	for _, u := range usable {
		w := u.src.EffectiveWeight()
		weightSum += w
		valueSum += u.obs.Value * w
		values = append(values, u.obs.Value)
		sources = append(sources, u.src)
		rm.Contributing = append(rm.Contributing, model.ContributingSource{
			SourceID: u.obs.SourceID,
			Value:    u.obs.Value,
			Weight:   w,
		})
	}

	if weightSum > 0 {
		rm.FinalValue = valueSum / weightSum
	} else {
		// All contributing sources have zero effective trust; fall back to
		// the plain mean so the engine still produces a value.
		var sum float64
		for _, v := range values {
			sum += v
		}
		rm.FinalValue = sum / float64(len(values))
	}

	conf := confidence(rm.FinalValue, sources, history, r.registry.CategoryWeight)
	conf -= consistencyPenalty(values, rm.FinalValue)
	if conf < 0 {
		conf = 0
	}
	rm.Confidence = conf
}

// consistencyPenalty is min(0.3, variance/|final|); zero when the final
// value is zero to guard the division.
func consistencyPenalty(values []float64, final float64) float64 {
	if final == 0 {
		return 0
	}
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
	variance := sq / float64(len(values))
	return math.Min(maxConsistencyPenalty, variance/math.Abs(final))
}

// normalize sorts observations so resolution never depends on arrival
// order: by source, then capture time, then value.
func normalize(obs []model.Observation) []model.Observation {
	out := make([]model.Observation, len(obs))
	copy(out, obs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// firstRegulatory returns the first regulatory observation in normalized
// order, or nil.
func firstRegulatory(usable []ranked) *ranked {
	for i := range usable {
		if usable[i].src.Category == model.CategoryRegulatory {
			return &usable[i]
		}
	}
	return nil
}

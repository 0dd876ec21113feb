package resolve

import (
	"math"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// Confidence ceilings. Automated resolution is capped below certainty;
// only a regulatory override may exceed the cap.
const (
	maxAutomatedConfidence = 0.9
	overrideConfidence     = 0.95
)

// baseConfidence grows with corroboration: 0.5 for a single source, +0.1
// per additional distinct source, capped at 0.9.
func baseConfidence(distinctSources int) float64 {
	if distinctSources < 1 {
		return 0
	}
	return math.Min(maxAutomatedConfidence, 0.5+0.1*float64(distinctSources-1))
}

// categoryQuality averages the registry's category weights across the
// contributing sources.
func categoryQuality(sources []model.Source, weightOf func(model.SourceCategory) float64) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += weightOf(s.Category)
	}
	return sum / float64(len(sources))
}

// historicalConsistency is a multiplier in (0, 1] derived from how far the
// candidate sits from the entity's trailing mean for the same metric. A
// value on the mean scores 1; the multiplier bottoms out at 0.5 once the
// value is two means away. No history means no evidence against the value,
// so the multiplier is 1.
func historicalConsistency(value float64, history []float64) float64 {
	if len(history) == 0 {
		return 1
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
	return 1 - math.Min(0.5, relDev/4)
}

// confidence combines corroboration, source category quality, and
// historical consistency. Deterministic for a given observation set and
// registry state; always in [0, 0.9]. Corroboration counts distinct
// sources, so two observations from one provider do not double-count.
func confidence(value float64, sources []model.Source, history []float64, weightOf func(model.SourceCategory) float64) float64 {
	distinct := distinctSources(sources)
	base := baseConfidence(len(distinct))
	quality := categoryQuality(distinct, weightOf)
	consistency := historicalConsistency(value, history)
	return math.Min(maxAutomatedConfidence, base*quality*consistency)
}

// distinctSources dedupes sources by ID, preserving order.
func distinctSources(sources []model.Source) []model.Source {
	seen := make(map[string]bool, len(sources))
	out := sources[:0:0]
	for _, s := range sources {
		if seen[s.SourceID] {
			continue
		}
		seen[s.SourceID] = true
		out = append(out, s)
	}
	return out
}

// Package registry holds the source trust table: each data provider's
// category, static base weight, and the rolling historical accuracy that the
// review feedback loop adjusts over time.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// UnknownSourceError indicates an observation referenced a source that is
// not registered. The observation cannot be ranked and must be dropped.
type UnknownSourceError struct {
	SourceID string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("registry: unknown source %q", e.SourceID)
}

// entry pairs a source with its own lock. Category and BaseWeight are
// immutable after load and read without locking; the lock guards only
// HistoricalAccuracy so concurrent resolution runs never observe a torn
// update and accuracy nudges are serialized per source.
type entry struct {
	mu  sync.RWMutex
	src model.Source
}

// Registry is the static source trust table. The source set and the
// category weight table are immutable after construction.
type Registry struct {
	sources         map[string]*entry
	categoryWeights map[model.SourceCategory]float64
}

// defaultCategoryWeights is used when the registry config supplies none.
var defaultCategoryWeights = map[model.SourceCategory]float64{
	model.CategoryRegulatory:     1.0,
	model.CategoryAggregate:      0.85,
	model.CategorySingleReliable: 0.70,
	model.CategoryPredictive:     0.50,
}

// New builds a Registry from the given sources. Accuracy values outside
// [0,1] are clamped. Weights falls back to the default category table when
// nil.
func New(sources []model.Source, weights map[model.SourceCategory]float64) *Registry {
	if weights == nil {
		weights = defaultCategoryWeights
	}
	r := &Registry{
		sources:         make(map[string]*entry, len(sources)),
		categoryWeights: weights,
	}
	for _, s := range sources {
		s.HistoricalAccuracy = clamp01(s.HistoricalAccuracy)
		s.BaseWeight = clamp01(s.BaseWeight)
		r.sources[s.SourceID] = &entry{src: s}
	}
	return r
}

// Get returns a snapshot of the source, or UnknownSourceError when the
// source is not registered.
func (r *Registry) Get(sourceID string) (model.Source, error) {
	e, ok := r.sources[sourceID]
	if !ok {
		return model.Source{}, &UnknownSourceError{SourceID: sourceID}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.src, nil
}

// UpdateAccuracy nudges the source's historical accuracy by delta, clamped
// to [0,1], and returns the updated snapshot. This is the only write path
// into the registry; callers outside the review feedback loop must not use
// it.
func (r *Registry) UpdateAccuracy(sourceID string, delta float64) (model.Source, error) {
	e, ok := r.sources[sourceID]
	if !ok {
		return model.Source{}, &UnknownSourceError{SourceID: sourceID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.src.HistoricalAccuracy
	e.src.HistoricalAccuracy = clamp01(before + delta)
	e.src.UpdatedAt = time.Now().UTC()

	zap.L().Info("registry: accuracy updated",
		zap.String("source_id", sourceID),
		zap.Float64("before", before),
		zap.Float64("after", e.src.HistoricalAccuracy),
	)
	return e.src, nil
}

// ApplyAccuracies overlays persisted accuracy values onto the registry,
// typically at startup to rehydrate what the feedback loop has learned.
// Sources not in the registry are ignored.
func (r *Registry) ApplyAccuracies(sources []model.Source) {
	for _, s := range sources {
		e, ok := r.sources[s.SourceID]
		if !ok {
			continue
		}
		e.mu.Lock()
		e.src.HistoricalAccuracy = clamp01(s.HistoricalAccuracy)
		e.src.UpdatedAt = s.UpdatedAt
		e.mu.Unlock()
	}
}

// CategoryWeight returns the configured weight for a category, or 0 for an
// unknown category.
func (r *Registry) CategoryWeight(c model.SourceCategory) float64 {
	return r.categoryWeights[c]
}

// All returns a snapshot of every registered source. Order is unspecified.
func (r *Registry) All() []model.Source {
	out := make([]model.Source, 0, len(r.sources))
	for _, e := range r.sources {
		e.mu.RLock()
		out = append(out, e.src)
		e.mu.RUnlock()
	}
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

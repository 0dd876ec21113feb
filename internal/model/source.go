package model

import "time"

// SourceCategory classifies a data provider by how its values are produced.
type SourceCategory string

const (
	CategoryRegulatory     SourceCategory = "regulatory"
	CategoryAggregate      SourceCategory = "multi_source_aggregate"
	CategorySingleReliable SourceCategory = "single_reliable"
	CategoryPredictive     SourceCategory = "predictive"
)

// Valid reports whether c is one of the known categories.
func (c SourceCategory) Valid() bool {
	switch c {
	case CategoryRegulatory, CategoryAggregate, CategorySingleReliable, CategoryPredictive:
		return true
	}
	return false
}

// Source is a registered data provider. Category and BaseWeight are immutable
// after registry load; HistoricalAccuracy is the only mutable field and is
// written exclusively by the review queue feedback loop.
type Source struct {
	SourceID           string         `json:"source_id"`
	Category           SourceCategory `json:"category"`
	BaseWeight         float64        `json:"base_weight"`
	HistoricalAccuracy float64        `json:"historical_accuracy"`
	UpdatedAt          time.Time      `json:"updated_at,omitempty"`
}

// EffectiveWeight is the trust weight used in weighted-average resolution.
func (s Source) EffectiveWeight() float64 {
	return s.BaseWeight * s.HistoricalAccuracy
}

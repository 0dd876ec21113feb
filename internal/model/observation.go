package model

import "time"

// Observation is one raw reading of a metric supplied by an ingestion
// connector. Immutable once created; passed by value into the engine.
type Observation struct {
	MetricName string    `json:"metric_name"`
	EntityID   string    `json:"entity_id"`
	Period     string    `json:"period"`
	Value      float64   `json:"value"`
	SourceID   string    `json:"source_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// Key identifies the resolution unit this observation belongs to.
func (o Observation) Key() MetricKey {
	return MetricKey{MetricName: o.MetricName, EntityID: o.EntityID, Period: o.Period}
}

// MetricKey identifies one (metric, entity, period) resolution unit.
type MetricKey struct {
	MetricName string `json:"metric_name"`
	EntityID   string `json:"entity_id"`
	Period     string `json:"period"`
}

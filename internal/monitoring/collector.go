// Package monitoring observes reconciliation health: it aggregates resolved
// metrics and the review backlog into snapshots, evaluates them against
// thresholds, and alerts via webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	// Resolution outcomes across the sampled latest records.
	ResolvedTotal  int            `json:"resolved_total"`
	MethodCounts   map[string]int `json:"method_counts"`
	GradeCounts    map[string]int `json:"grade_counts"`
	AvgConfidence  float64        `json:"avg_confidence"`
	AvgQuality     float64        `json:"avg_quality"`
	OverrideRate   float64        `json:"override_rate"`
	AnomalousCount int            `json:"anomalous_count"`
	DGradeShare    float64        `json:"d_grade_share"`

	// Review backlog by priority.
	PendingReviews map[model.ReviewPriority]int `json:"pending_reviews"`
	PendingTotal   int                          `json:"pending_total"`

	// Metadata.
	SampleLimit int       `json:"sample_limit"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect aggregates the latest resolved records (up to sampleLimit) and the
// pending review backlog into a snapshot.
func (c *Collector) Collect(ctx context.Context, sampleLimit int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		MethodCounts:   make(map[string]int),
		GradeCounts:    make(map[string]int),
		PendingReviews: make(map[model.ReviewPriority]int),
		SampleLimit:    sampleLimit,
		CollectedAt:    time.Now().UTC(),
	}

	resolved, err := c.store.ListResolved(ctx, sampleLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list resolved")
	}

	snap.ResolvedTotal = len(resolved)
	var confSum, qualSum float64
	var overrides, dGrades int
	for _, rm := range resolved {
		snap.MethodCounts[string(rm.Method)]++
		snap.GradeCounts[string(rm.QualityGrade)]++
		confSum += rm.Confidence
		qualSum += rm.QualityScore
		if rm.Method == model.MethodOverride {
			overrides++
		}
		if rm.QualityGrade == model.GradeD {
			dGrades++
		}
		if len(rm.Anomalies) > 0 {
			snap.AnomalousCount++
		}
	}
	if snap.ResolvedTotal > 0 {
		n := float64(snap.ResolvedTotal)
		snap.AvgConfidence = confSum / n
		snap.AvgQuality = qualSum / n
		snap.OverrideRate = float64(overrides) / n
		snap.DGradeShare = float64(dGrades) / n
	}

	counts, err := c.store.CountPendingReviews(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending reviews")
	}
	snap.PendingReviews = counts
	for _, n := range counts {
		snap.PendingTotal += n
	}

	return snap, nil
}

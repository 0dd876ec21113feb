// Package engine is the orchestration facade: it loads trailing history,
// runs resolution and quality scoring, persists the outcome, and enqueues
// human review when warranted.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/anomaly"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/quality"
	"github.com/sells-group/reconcile-cli/internal/registry"
	"github.com/sells-group/reconcile-cli/internal/resolve"
	"github.com/sells-group/reconcile-cli/internal/review"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// Config tunes the engine facade.
type Config struct {
	// HistoryLimit caps how many trailing periods feed trend detection and
	// consistency scoring.
	HistoryLimit int            `yaml:"history_limit" mapstructure:"history_limit"`
	Quality      quality.Config `yaml:"quality" mapstructure:"quality"`
	Review       review.Config  `yaml:"review" mapstructure:"review"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 12,
		Quality:      quality.DefaultConfig(),
		Review:       review.DefaultConfig(),
	}
}

// Result is the outcome of one resolution run.
type Result struct {
	Resolved *model.ResolvedMetric `json:"resolved"`
	Quality  quality.Breakdown     `json:"quality_breakdown"`
	// ReviewTask is non-nil when the outcome was queued for human review.
	ReviewTask *model.ReviewTask `json:"review_task,omitempty"`
}

// Engine wires the resolver, quality scorer, store, and review queue.
type Engine struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry
	resolver *resolve.Resolver
	scorer   *quality.Scorer
	reviews  *review.Manager
	now      func() time.Time
}

// New assembles an Engine. Zero config fields fall back to defaults.
func New(cfg Config, st store.Store, reg *registry.Registry, det *anomaly.Detector) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: reg,
		resolver: resolve.NewResolver(reg, det),
		scorer:   quality.NewScorer(cfg.Quality),
		reviews:  review.NewManager(cfg.Review, st, reg),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow sets a fixed clock for testing. The clock feeds freshness scoring
// and record timestamps.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	e.scorer.WithNow(now())
	e.reviews.WithNow(now)
	return e
}

// Resolve reconciles one unit's observations end to end: history load,
// resolution, quality scoring, persistence, review triage.
func (e *Engine) Resolve(ctx context.Context, key model.MetricKey, observations []model.Observation) (*Result, error) {
	history, err := e.store.ListHistory(ctx, key.EntityID, key.MetricName, key.Period, e.cfg.HistoryLimit)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load history")
	}

	rm, err := e.resolver.Resolve(resolve.Input{
		Key:          key,
		Observations: observations,
		History:      history,
	})
	if err != nil {
		return nil, err
	}

	breakdown, grade := e.scorer.Score(rm, observations, history)
	rm.QualityScore = breakdown.Total
	rm.QualityGrade = grade
	rm.ResolvedAt = e.now()

	if err := e.store.SaveResolved(ctx, rm); err != nil {
		return nil, eris.Wrap(err, "engine: persist resolved")
	}

	task, err := e.reviews.MaybeEnqueue(ctx, rm)
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: unit resolved",
		zap.String("entity_id", key.EntityID),
		zap.String("metric", key.MetricName),
		zap.String("period", key.Period),
		zap.String("method", string(rm.Method)),
		zap.Float64("final_value", rm.FinalValue),
		zap.Float64("confidence", rm.Confidence),
		zap.String("grade", string(grade)),
		zap.Bool("queued_for_review", task != nil),
	)

	return &Result{Resolved: rm, Quality: breakdown, ReviewTask: task}, nil
}

// Latest returns the current resolved record for a unit, or nil when none
// exists.
func (e *Engine) Latest(ctx context.Context, key model.MetricKey) (*model.ResolvedMetric, error) {
	return e.store.GetLatestResolved(ctx, key)
}

// ListResolved returns the latest resolved records across units, newest
// first.
func (e *Engine) ListResolved(ctx context.Context, limit int) ([]model.ResolvedMetric, error) {
	return e.store.ListResolved(ctx, limit)
}

// PendingReviews lists pending review tasks, optionally filtered by
// priority.
func (e *Engine) PendingReviews(ctx context.Context, priority model.ReviewPriority, limit int) ([]model.ReviewTask, error) {
	return e.reviews.Pending(ctx, priority, limit)
}

// DecisionResult is the outcome of a review decision. Corrected is non-nil
// when a rejecting reviewer supplied a replacement value and a superseding
// record was written.
type DecisionResult struct {
	Task      *model.ReviewTask     `json:"task"`
	Corrected *model.ResolvedMetric `json:"corrected_resolved,omitempty"`
}

// SubmitReviewDecision applies a reviewer verdict and runs the accuracy
// feedback loop.
func (e *Engine) SubmitReviewDecision(ctx context.Context, taskID string, d review.Decision) (*DecisionResult, error) {
	task, corrected, err := e.reviews.RecordDecision(ctx, taskID, d)
	if err != nil {
		return nil, err
	}
	return &DecisionResult{Task: task, Corrected: corrected}, nil
}

// SourceTrust returns the current registry snapshot for one source.
func (e *Engine) SourceTrust(sourceID string) (model.Source, error) {
	return e.registry.Get(sourceID)
}

// Sources returns snapshots of every registered source.
func (e *Engine) Sources() []model.Source {
	return e.registry.All()
}

// PendingReviewCounts returns the pending review backlog by priority.
func (e *Engine) PendingReviewCounts(ctx context.Context) (map[model.ReviewPriority]int, error) {
	return e.store.CountPendingReviews(ctx)
}

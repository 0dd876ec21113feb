// Package review manages the human-review queue: it decides which resolved
// metrics need a reviewer, and feeds reviewer verdicts back into source
// trust.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/registry"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// Config tunes the review queue.
type Config struct {
	// Threshold is the confidence below which a resolved metric is queued
	// for human review.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// AccuracyStep is the per-decision nudge applied to each contributing
	// source's historical accuracy.
	AccuracyStep float64 `yaml:"accuracy_step" mapstructure:"accuracy_step"`
}

// DefaultConfig returns the queue defaults: 0.6 threshold, 0.02 step.
func DefaultConfig() Config {
	return Config{Threshold: 0.6, AccuracyStep: 0.02}
}

// Decision is a reviewer's submitted verdict.
type Decision struct {
	Verdict model.ReviewDecision
	Notes   string
	// CorrectedValue replaces the resolved value when a rejecting reviewer
	// supplies one. Nil leaves the value as resolved.
	CorrectedValue *float64
}

// Manager owns review-task lifecycle and the accuracy feedback loop.
type Manager struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry
	now      func() time.Time
}

// NewManager creates a Manager. Zero config fields fall back to defaults.
func NewManager(cfg Config, st store.Store, reg *registry.Registry) *Manager {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.AccuracyStep <= 0 {
		cfg.AccuracyStep = def.AccuracyStep
	}
	return &Manager{cfg: cfg, store: st, registry: reg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow sets a fixed clock for testing.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

// MaybeEnqueue creates a review task when the resolved metric needs human
// eyes: confidence below the threshold, or any HIGH severity anomaly.
// Returns the created task, or nil when no review is needed.
func (m *Manager) MaybeEnqueue(ctx context.Context, rm *model.ResolvedMetric) (*model.ReviewTask, error) {
	high := model.MaxSeverity(rm.Anomalies) == model.SeverityHigh
	if rm.Confidence >= m.cfg.Threshold && !high {
		return nil, nil
	}

	task := &model.ReviewTask{
		ResolvedID: rm.ID,
		EntityID:   rm.EntityID,
		MetricName: rm.MetricName,
		Period:     rm.Period,
		Priority:   m.priorityFor(rm, high),
		Status:     model.ReviewPending,
		CreatedAt:  m.now(),
	}
	if err := m.store.CreateReviewTask(ctx, task); err != nil {
		return nil, eris.Wrap(err, "review: enqueue")
	}

	zap.L().Info("review: task enqueued",
		zap.String("task_id", task.TaskID),
		zap.String("entity_id", rm.EntityID),
		zap.String("metric", rm.MetricName),
		zap.String("priority", string(task.Priority)),
		zap.Float64("confidence", rm.Confidence),
	)
	return task, nil
}

// priorityFor ranks a task. HIGH anomalies are urgent regardless of
// confidence; otherwise the further below the threshold, the higher the
// priority.
func (m *Manager) priorityFor(rm *model.ResolvedMetric, high bool) model.ReviewPriority {
	if high {
		return model.PriorityUrgent
	}
	if rm.Confidence < 0.75*m.cfg.Threshold {
		return model.PriorityNormal
	}
	return model.PriorityLow
}

// RecordDecision applies a reviewer's verdict to a pending task. Approval
// nudges every contributing source's accuracy up; rejection nudges it down.
// Feedback targets the exact record the task references, not the unit's
// current latest: the unit may have been re-resolved while the task sat in
// the queue, and the reviewer's verdict is about what they actually saw.
// A rejecting reviewer may supply a corrected value, which is written as a
// new resolved record; the returned ResolvedMetric is non-nil when one was
// produced.
func (m *Manager) RecordDecision(ctx context.Context, taskID string, d Decision) (*model.ReviewTask, *model.ResolvedMetric, error) {
	task, err := m.store.GetReviewTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, eris.Errorf("review: task not found: %s", taskID)
	}
	if task.Status != model.ReviewPending {
		return nil, nil, eris.Errorf("review: task %s already decided: %s", taskID, task.Status)
	}

	var delta float64
	switch d.Verdict {
	case model.DecisionApprove:
		task.Status = model.ReviewApproved
		delta = m.cfg.AccuracyStep
	case model.DecisionReject:
		task.Status = model.ReviewRejected
		delta = -m.cfg.AccuracyStep
	default:
		return nil, nil, eris.Errorf("review: unknown decision %q", d.Verdict)
	}

	rm, err := m.store.GetResolvedByID(ctx, task.ResolvedID)
	if err != nil {
		return nil, nil, err
	}
	if rm != nil {
		m.applyAccuracyFeedback(ctx, rm, delta)
	}

	var corrected *model.ResolvedMetric
	if d.Verdict == model.DecisionReject && d.CorrectedValue != nil && rm != nil {
		corrected, err = m.applyCorrection(ctx, rm, *d.CorrectedValue, d.Notes)
		if err != nil {
			return nil, nil, err
		}
	}

	decidedAt := m.now()
	task.Decision = d.Verdict
	task.Notes = d.Notes
	task.DecidedAt = &decidedAt
	if err := m.store.UpdateReviewTask(ctx, task); err != nil {
		return nil, nil, eris.Wrap(err, "review: record decision")
	}

	zap.L().Info("review: decision recorded",
		zap.String("task_id", taskID),
		zap.String("decision", string(d.Verdict)),
	)
	return task, corrected, nil
}

// applyAccuracyFeedback nudges every non-discarded contributing source and
// persists the updated accuracy. Unknown sources are skipped: the registry
// may have been reloaded since resolution.
func (m *Manager) applyAccuracyFeedback(ctx context.Context, rm *model.ResolvedMetric, delta float64) {
	for _, c := range rm.Contributing {
		if c.Discarded {
			continue
		}
		src, err := m.registry.UpdateAccuracy(c.SourceID, delta)
		if err != nil {
			zap.L().Warn("review: accuracy feedback skipped",
				zap.String("source_id", c.SourceID),
				zap.Error(err),
			)
			continue
		}
		if err := m.store.SaveSourceAccuracy(ctx, c.SourceID, src.HistoricalAccuracy); err != nil {
			zap.L().Error("review: persist accuracy failed",
				zap.String("source_id", c.SourceID),
				zap.Error(err),
			)
		}
	}
}

// applyCorrection writes the reviewer-supplied value as a new resolved
// record for the unit, superseding whatever is currently latest. The
// correction carries full reviewer confidence and keeps the reviewed
// record's resolution method and contributors for the audit trail.
func (m *Manager) applyCorrection(ctx context.Context, rm *model.ResolvedMetric, corrected float64, notes string) (*model.ResolvedMetric, error) {
	next := *rm
	next.ID = ""
	next.SupersededBy = ""
	next.FinalValue = corrected
	next.Confidence = 0.95
	next.ResolvedAt = m.now()
	next.Audit = append(append([]model.AuditEvent(nil), rm.Audit...), model.AuditEvent{
		Code:    model.AuditReviewerCorrection,
		Message: fmt.Sprintf("value corrected from %g to %g by reviewer: %s", rm.FinalValue, corrected, notes),
	})
	if err := m.store.SaveResolved(ctx, &next); err != nil {
		return nil, eris.Wrap(err, "review: save correction")
	}
	return &next, nil
}

// Pending lists pending tasks, optionally filtered by priority.
func (m *Manager) Pending(ctx context.Context, priority model.ReviewPriority, limit int) ([]model.ReviewTask, error) {
	return m.store.ListReviewTasks(ctx, store.ReviewFilter{
		Status:   model.ReviewPending,
		Priority: priority,
		Limit:    limit,
	})
}

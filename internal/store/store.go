// Package store persists resolved metrics, review tasks, and source trust
// state. The engine treats it as a collaborator: resolution itself never
// touches the database.
package store

import (
	"context"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// ReviewFilter specifies criteria for listing review tasks.
type ReviewFilter struct {
	Priority model.ReviewPriority `json:"priority,omitempty"`
	Status   model.ReviewStatus   `json:"status,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the reconciliation engine.
type Store interface {
	// Resolved metrics. SaveResolved assigns an ID when the record has
	// none and points the previous latest record for the same
	// (entity, metric, period) at the new one via superseded_by.
	SaveResolved(ctx context.Context, rm *model.ResolvedMetric) error
	GetLatestResolved(ctx context.Context, key model.MetricKey) (*model.ResolvedMetric, error)
	// GetResolvedByID fetches one record regardless of whether it has been
	// superseded; review decisions act on the exact record they reference.
	GetResolvedByID(ctx context.Context, id string) (*model.ResolvedMetric, error)
	// ListHistory returns the latest final values for the entity/metric
	// across periods other than excludePeriod, oldest period first.
	ListHistory(ctx context.Context, entityID, metricName, excludePeriod string, limit int) ([]float64, error)
	ListResolved(ctx context.Context, limit int) ([]model.ResolvedMetric, error)

	// Review tasks.
	CreateReviewTask(ctx context.Context, task *model.ReviewTask) error
	GetReviewTask(ctx context.Context, taskID string) (*model.ReviewTask, error)
	ListReviewTasks(ctx context.Context, filter ReviewFilter) ([]model.ReviewTask, error)
	UpdateReviewTask(ctx context.Context, task *model.ReviewTask) error
	CountPendingReviews(ctx context.Context) (map[model.ReviewPriority]int, error)

	// Sources. SeedSources upserts registry definitions without clawing
	// back learned accuracy; only the review feedback loop writes accuracy.
	SeedSources(ctx context.Context, sources []model.Source) error
	SaveSourceAccuracy(ctx context.Context, sourceID string, accuracy float64) error
	LoadSources(ctx context.Context) ([]model.Source, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

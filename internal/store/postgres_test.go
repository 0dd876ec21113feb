package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetLatestResolved_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM resolved_metrics`).
		WithArgs("acme-corp", "quarterly_revenue", "2026-Q1").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetLatestResolved(context.Background(), model.MetricKey{
		MetricName: "quarterly_revenue", EntityID: "acme-corp", Period: "2026-Q1",
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatestResolved_Scans(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	resolvedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "entity_id", "metric_name", "period", "final_value", "confidence", "method",
		"quality_score", "quality_grade", "contributing", "anomalies", "audit",
		"superseded_by", "resolved_at",
	}).AddRow(
		"rm-1", "acme-corp", "quarterly_revenue", "2026-Q1", 1250000.0, 0.82, "WEIGHTED_AVERAGE",
		0.87, "A", []byte(`[{"source_id":"sec_edgar","value":1250000,"weight":1}]`),
		[]byte(`[]`), []byte(`[]`), "", resolvedAt,
	)

	mock.ExpectQuery(`FROM resolved_metrics`).
		WithArgs("acme-corp", "quarterly_revenue", "2026-Q1").
		WillReturnRows(rows)

	got, err := s.GetLatestResolved(context.Background(), model.MetricKey{
		MetricName: "quarterly_revenue", EntityID: "acme-corp", Period: "2026-Q1",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rm-1", got.ID)
	assert.Equal(t, model.MethodWeightedAverage, got.Method)
	assert.Equal(t, model.GradeA, got.QualityGrade)
	require.Len(t, got.Contributing, 1)
	assert.Equal(t, "sec_edgar", got.Contributing[0].SourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResolvedByID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	resolvedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "entity_id", "metric_name", "period", "final_value", "confidence", "method",
		"quality_score", "quality_grade", "contributing", "anomalies", "audit",
		"superseded_by", "resolved_at",
	}).AddRow(
		"rm-1", "acme-corp", "quarterly_revenue", "2026-Q1", 1250000.0, 0.82, "WEIGHTED_AVERAGE",
		0.87, "A", []byte(`[]`), []byte(`[]`), []byte(`[]`), "rm-2", resolvedAt,
	)

	mock.ExpectQuery(`WHERE id =`).
		WithArgs("rm-1").
		WillReturnRows(rows)

	got, err := s.GetResolvedByID(context.Background(), "rm-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rm-1", got.ID)
	assert.Equal(t, "rm-2", got.SupersededBy, "superseded records resolve by ID")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResolvedByID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE id =`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetResolvedByID(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveResolved_SupersedeThenInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE resolved_metrics SET superseded_by`).
		WithArgs(pgxmock.AnyArg(), "acme-corp", "quarterly_revenue", "2026-Q1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO resolved_metrics`).
		WithArgs(pgxmock.AnyArg(), "acme-corp", "quarterly_revenue", "2026-Q1",
			1250000.0, 0.82, "WEIGHTED_AVERAGE", 0.87, "A",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rm := &model.ResolvedMetric{
		EntityID:   "acme-corp",
		MetricName: "quarterly_revenue",
		Period:     "2026-Q1",
		FinalValue: 1250000,
		Confidence: 0.82,
		Method:     model.MethodWeightedAverage,
		Contributing: []model.ContributingSource{
			{SourceID: "sec_edgar", Value: 1250000, Weight: 1.0},
		},
		QualityScore: 0.87,
		QualityGrade: model.GradeA,
	}
	err := s.SaveResolved(context.Background(), rm)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"final_value"}).
		AddRow(900000.0).AddRow(950000.0).AddRow(1000000.0)

	mock.ExpectQuery(`SELECT final_value FROM`).
		WithArgs("acme-corp", "quarterly_revenue", "2026-Q1", 12).
		WillReturnRows(rows)

	history, err := s.ListHistory(context.Background(), "acme-corp", "quarterly_revenue", "2026-Q1", 12)
	require.NoError(t, err)
	assert.Equal(t, []float64{900000, 950000, 1000000}, history)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateReviewTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO review_tasks`).
		WithArgs(pgxmock.AnyArg(), "rm-1", "acme-corp", "quarterly_revenue", "2026-Q1",
			"URGENT", "PENDING", pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task := &model.ReviewTask{
		ResolvedID: "rm-1",
		EntityID:   "acme-corp",
		MetricName: "quarterly_revenue",
		Period:     "2026-Q1",
		Priority:   model.PriorityUrgent,
		Status:     model.ReviewPending,
	}
	require.NoError(t, s.CreateReviewTask(context.Background(), task))
	assert.NotEmpty(t, task.TaskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReviewTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE review_tasks`).
		WithArgs("REJECTED", pgxmock.AnyArg(), "stale value", pgxmock.AnyArg(), "missing-task").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateReviewTask(context.Background(), &model.ReviewTask{
		TaskID: "missing-task", Status: model.ReviewRejected, Decision: model.DecisionReject, Notes: "stale value",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountPendingReviews(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"priority", "count"}).
		AddRow("URGENT", 2).AddRow("NORMAL", 5)

	mock.ExpectQuery(`SELECT priority, COUNT`).
		WithArgs("PENDING").
		WillReturnRows(rows)

	counts, err := s.CountPendingReviews(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.PriorityUrgent])
	assert.Equal(t, 5, counts[model.PriorityNormal])
	assert.Equal(t, 0, counts[model.PriorityLow])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSourceAccuracy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sources SET historical_accuracy`).
		WithArgs(0.82, pgxmock.AnyArg(), "vendor_feed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveSourceAccuracy(context.Background(), "vendor_feed", 0.82))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	updatedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"source_id", "category", "base_weight", "historical_accuracy", "updated_at"}).
		AddRow("sec_edgar", "regulatory", 1.0, 1.0, updatedAt).
		AddRow("analyst_consensus", "predictive", 0.5, 0.9, updatedAt)

	mock.ExpectQuery(`SELECT source_id, category`).
		WillReturnRows(rows)

	sources, err := s.LoadSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, model.CategoryRegulatory, sources[0].Category)
	assert.Equal(t, 0.9, sources[1].HistoricalAccuracy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

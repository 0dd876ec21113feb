package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/db"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolved_metrics (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	metric_name   TEXT NOT NULL,
	period        TEXT NOT NULL,
	final_value   DOUBLE PRECISION NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	method        TEXT NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_grade TEXT NOT NULL DEFAULT 'D',
	contributing  JSONB NOT NULL,
	anomalies     JSONB,
	audit         JSONB,
	superseded_by TEXT,
	resolved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_tasks (
	task_id     TEXT PRIMARY KEY,
	resolved_id TEXT NOT NULL REFERENCES resolved_metrics(id),
	entity_id   TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	period      TEXT NOT NULL,
	priority    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'PENDING',
	decision    TEXT,
	notes       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	decided_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sources (
	source_id           TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	base_weight         DOUBLE PRECISION NOT NULL,
	historical_accuracy DOUBLE PRECISION NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_resolved_unit
	ON resolved_metrics(entity_id, metric_name, period);
CREATE UNIQUE INDEX IF NOT EXISTS idx_resolved_latest
	ON resolved_metrics(entity_id, metric_name, period)
	WHERE superseded_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_review_status ON review_tasks(status);
CREATE INDEX IF NOT EXISTS idx_review_priority ON review_tasks(priority);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResolved(ctx context.Context, rm *model.ResolvedMetric) error {
	if rm.ID == "" {
		rm.ID = uuid.New().String()
	}
	if rm.ResolvedAt.IsZero() {
		rm.ResolvedAt = time.Now().UTC()
	}

	contributing, anomalies, audit, err := marshalResolvedJSON(rm)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE resolved_metrics SET superseded_by = $1
		 WHERE entity_id = $2 AND metric_name = $3 AND period = $4 AND superseded_by IS NULL`,
		rm.ID, rm.EntityID, rm.MetricName, rm.Period,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: supersede previous")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO resolved_metrics
		 (id, entity_id, metric_name, period, final_value, confidence, method,
		  quality_score, quality_grade, contributing, anomalies, audit, superseded_by, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, $13)`,
		rm.ID, rm.EntityID, rm.MetricName, rm.Period, rm.FinalValue, rm.Confidence,
		string(rm.Method), rm.QualityScore, string(rm.QualityGrade),
		[]byte(contributing), []byte(anomalies), []byte(audit), rm.ResolvedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert resolved")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolved")
}

const selectResolvedColumns = `SELECT id, entity_id, metric_name, period, final_value, confidence, method,
       quality_score, quality_grade, contributing, anomalies, audit,
       COALESCE(superseded_by, ''), resolved_at
FROM resolved_metrics`

func (s *PostgresStore) GetLatestResolved(ctx context.Context, key model.MetricKey) (*model.ResolvedMetric, error) {
	row := s.pool.QueryRow(ctx,
		selectResolvedColumns+` WHERE entity_id = $1 AND metric_name = $2 AND period = $3 AND superseded_by IS NULL`,
		key.EntityID, key.MetricName, key.Period,
	)
	rm, err := scanResolvedPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get latest resolved")
	}
	return rm, nil
}

func (s *PostgresStore) GetResolvedByID(ctx context.Context, id string) (*model.ResolvedMetric, error) {
	row := s.pool.QueryRow(ctx, selectResolvedColumns+` WHERE id = $1`, id)
	rm, err := scanResolvedPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get resolved %s", id)
	}
	return rm, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, entityID, metricName, excludePeriod string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.pool.Query(ctx,
		`SELECT final_value FROM (
		   SELECT final_value, period FROM resolved_metrics
		   WHERE entity_id = $1 AND metric_name = $2 AND period != $3 AND superseded_by IS NULL
		   ORDER BY period DESC LIMIT $4
		 ) trailing ORDER BY period ASC`,
		entityID, metricName, excludePeriod, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history")
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "postgres: iterate history")
}

func (s *PostgresStore) ListResolved(ctx context.Context, limit int) ([]model.ResolvedMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectResolvedColumns+` WHERE superseded_by IS NULL ORDER BY resolved_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolved")
	}
	defer rows.Close()

	var out []model.ResolvedMetric
	for rows.Next() {
		rm, err := scanResolvedPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolved")
		}
		out = append(out, *rm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate resolved")
}

func (s *PostgresStore) CreateReviewTask(ctx context.Context, task *model.ReviewTask) error {
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_tasks
		 (task_id, resolved_id, entity_id, metric_name, period, priority, status, decision, notes, created_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)`,
		task.TaskID, task.ResolvedID, task.EntityID, task.MetricName, task.Period,
		string(task.Priority), string(task.Status), nullString(string(task.Decision)), task.Notes, task.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert review task")
}

const selectReviewColumns = `SELECT task_id, resolved_id, entity_id, metric_name, period, priority, status,
       COALESCE(decision, ''), COALESCE(notes, ''), created_at, decided_at
FROM review_tasks`

func (s *PostgresStore) GetReviewTask(ctx context.Context, taskID string) (*model.ReviewTask, error) {
	row := s.pool.QueryRow(ctx, selectReviewColumns+` WHERE task_id = $1`, taskID)
	task, err := scanReviewTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get review task %s", taskID)
	}
	return task, nil
}

func (s *PostgresStore) ListReviewTasks(ctx context.Context, filter ReviewFilter) ([]model.ReviewTask, error) {
	query := selectReviewColumns + ` WHERE true`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Priority != "" {
		query += fmt.Sprintf(` AND priority = $%d`, argIdx)
		args = append(args, string(filter.Priority))
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review tasks")
	}
	defer rows.Close()

	var out []model.ReviewTask
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review task")
		}
		out = append(out, *task)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate review tasks")
}

func (s *PostgresStore) UpdateReviewTask(ctx context.Context, task *model.ReviewTask) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET status = $1, decision = $2, notes = $3, decided_at = $4 WHERE task_id = $5`,
		string(task.Status), nullString(string(task.Decision)), task.Notes, task.DecidedAt, task.TaskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review task %s", task.TaskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review task not found: %s", task.TaskID)
	}
	return nil
}

func (s *PostgresStore) CountPendingReviews(ctx context.Context) (map[model.ReviewPriority]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT priority, COUNT(*) FROM review_tasks WHERE status = $1 GROUP BY priority`,
		string(model.ReviewPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count pending reviews")
	}
	defer rows.Close()

	counts := make(map[model.ReviewPriority]int)
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review count")
		}
		counts[model.ReviewPriority(p)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate review counts")
}

func (s *PostgresStore) SaveSourceAccuracy(ctx context.Context, sourceID string, accuracy float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sources SET historical_accuracy = $1, updated_at = $2 WHERE source_id = $3`,
		accuracy, time.Now().UTC(), sourceID,
	)
	return eris.Wrapf(err, "postgres: save accuracy %s", sourceID)
}

func (s *PostgresStore) LoadSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, category, base_weight, historical_accuracy, updated_at FROM sources`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var cat string
		if err := rows.Scan(&src.SourceID, &cat, &src.BaseWeight, &src.HistoricalAccuracy, &src.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		src.Category = model.SourceCategory(cat)
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sources")
}

// SeedSources bulk-upserts the registry's sources so accuracy survives
// restarts. Accuracy is deliberately not an update column: the review
// feedback loop owns it once a source row exists.
func (s *PostgresStore) SeedSources(ctx context.Context, sources []model.Source) error {
	rows := make([][]any, 0, len(sources))
	now := time.Now().UTC()
	for _, src := range sources {
		rows = append(rows, []any{
			src.SourceID, string(src.Category), src.BaseWeight, src.HistoricalAccuracy, now,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sources",
		Columns:      []string{"source_id", "category", "base_weight", "historical_accuracy", "updated_at"},
		ConflictKeys: []string{"source_id"},
		UpdateCols:   []string{"category", "base_weight"},
	}, rows)
	return eris.Wrap(err, "postgres: seed sources")
}

// scanResolvedPg mirrors scanResolved for pgx row types, which hand JSONB
// columns back as []byte.
func scanResolvedPg(sc scanner) (*model.ResolvedMetric, error) {
	var rm model.ResolvedMetric
	var method, grade, supersededBy string
	var contributing, anomalies, audit []byte
	err := sc.Scan(
		&rm.ID, &rm.EntityID, &rm.MetricName, &rm.Period, &rm.FinalValue, &rm.Confidence,
		&method, &rm.QualityScore, &grade, &contributing, &anomalies, &audit,
		&supersededBy, &rm.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	rm.Method = model.ResolutionMethod(method)
	rm.QualityGrade = model.QualityGrade(grade)
	rm.SupersededBy = supersededBy
	if err := json.Unmarshal(contributing, &rm.Contributing); err != nil {
		return nil, eris.Wrap(err, "unmarshal contributing")
	}
	if len(anomalies) > 0 {
		if err := json.Unmarshal(anomalies, &rm.Anomalies); err != nil {
			return nil, eris.Wrap(err, "unmarshal anomalies")
		}
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &rm.Audit); err != nil {
			return nil, eris.Wrap(err, "unmarshal audit")
		}
	}
	return &rm, nil
}

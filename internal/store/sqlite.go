package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolved_metrics (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	metric_name   TEXT NOT NULL,
	period        TEXT NOT NULL,
	final_value   REAL NOT NULL,
	confidence    REAL NOT NULL,
	method        TEXT NOT NULL,
	quality_score REAL NOT NULL DEFAULT 0,
	quality_grade TEXT NOT NULL DEFAULT 'D',
	contributing  TEXT NOT NULL,
	anomalies     TEXT,
	audit         TEXT,
	superseded_by TEXT,
	resolved_at   DATETIME NOT NULL
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
	created_at  DATETIME NOT NULL,
	decided_at  DATETIME
);

CREATE TABLE IF NOT EXISTS sources (
	source_id           TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	base_weight         REAL NOT NULL,
	historical_accuracy REAL NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolved_unit
	ON resolved_metrics(entity_id, metric_name, period);
CREATE UNIQUE INDEX IF NOT EXISTS idx_resolved_latest
	ON resolved_metrics(entity_id, metric_name, period)
	WHERE superseded_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_review_status ON review_tasks(status);
CREATE INDEX IF NOT EXISTS idx_review_priority ON review_tasks(priority);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveResolved(ctx context.Context, rm *model.ResolvedMetric) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	// Chain the previous latest record for the unit onto the new one.
	_, err = tx.ExecContext(ctx,
		`UPDATE resolved_metrics SET superseded_by = ?
		 WHERE entity_id = ? AND metric_name = ? AND period = ? AND superseded_by IS NULL`,
		rm.ID, rm.EntityID, rm.MetricName, rm.Period,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: supersede previous")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resolved_metrics
		 (id, entity_id, metric_name, period, final_value, confidence, method,
		  quality_score, quality_grade, contributing, anomalies, audit, superseded_by, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		rm.ID, rm.EntityID, rm.MetricName, rm.Period, rm.FinalValue, rm.Confidence,
		string(rm.Method), rm.QualityScore, string(rm.QualityGrade),
		contributing, anomalies, audit, rm.ResolvedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert resolved")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit resolved")
}

func (s *SQLiteStore) GetLatestResolved(ctx context.Context, key model.MetricKey) (*model.ResolvedMetric, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, metric_name, period, final_value, confidence, method,
		        quality_score, quality_grade, contributing, anomalies, audit,
		        COALESCE(superseded_by, ''), resolved_at
		 FROM resolved_metrics
		 WHERE entity_id = ? AND metric_name = ? AND period = ? AND superseded_by IS NULL`,
		key.EntityID, key.MetricName, key.Period,
	)
	rm, err := scanResolved(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest resolved")
	}
	return rm, nil
}

func (s *SQLiteStore) GetResolvedByID(ctx context.Context, id string) (*model.ResolvedMetric, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, metric_name, period, final_value, confidence, method,
		        quality_score, quality_grade, contributing, anomalies, audit,
		        COALESCE(superseded_by, ''), resolved_at
		 FROM resolved_metrics WHERE id = ?`,
		id,
	)
	rm, err := scanResolved(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get resolved %s", id)
	}
	return rm, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, entityID, metricName, excludePeriod string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT final_value FROM (
		   SELECT final_value, period FROM resolved_metrics
		   WHERE entity_id = ? AND metric_name = ? AND period != ? AND superseded_by IS NULL
		   ORDER BY period DESC LIMIT ?
		 ) ORDER BY period ASC`,
		entityID, metricName, excludePeriod, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

func (s *SQLiteStore) ListResolved(ctx context.Context, limit int) ([]model.ResolvedMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, metric_name, period, final_value, confidence, method,
		        quality_score, quality_grade, contributing, anomalies, audit,
		        COALESCE(superseded_by, ''), resolved_at
		 FROM resolved_metrics WHERE superseded_by IS NULL
		 ORDER BY resolved_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolved")
	}
	defer rows.Close()

	var out []model.ResolvedMetric
	for rows.Next() {
		rm, err := scanResolved(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolved")
		}
		out = append(out, *rm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate resolved")
}

func (s *SQLiteStore) CreateReviewTask(ctx context.Context, task *model.ReviewTask) error {
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_tasks
		 (task_id, resolved_id, entity_id, metric_name, period, priority, status, decision, notes, created_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		task.TaskID, task.ResolvedID, task.EntityID, task.MetricName, task.Period,
		string(task.Priority), string(task.Status), nullString(string(task.Decision)), task.Notes, task.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert review task")
}

func (s *SQLiteStore) GetReviewTask(ctx context.Context, taskID string) (*model.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, resolved_id, entity_id, metric_name, period, priority, status,
		        COALESCE(decision, ''), COALESCE(notes, ''), created_at, decided_at
		 FROM review_tasks WHERE task_id = ?`,
		taskID,
	)
	task, err := scanReviewTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get review task %s", taskID)
	}
	return task, nil
}

func (s *SQLiteStore) ListReviewTasks(ctx context.Context, filter ReviewFilter) ([]model.ReviewTask, error) {
	query := `SELECT task_id, resolved_id, entity_id, metric_name, period, priority, status,
	                 COALESCE(decision, ''), COALESCE(notes, ''), created_at, decided_at
	          FROM review_tasks WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	query += ` ORDER BY created_at ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review tasks")
	}
	defer rows.Close()

	var out []model.ReviewTask
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review task")
		}
		out = append(out, *task)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate review tasks")
}

func (s *SQLiteStore) UpdateReviewTask(ctx context.Context, task *model.ReviewTask) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_tasks SET status = ?, decision = ?, notes = ?, decided_at = ? WHERE task_id = ?`,
		string(task.Status), nullString(string(task.Decision)), task.Notes, task.DecidedAt, task.TaskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review task %s", task.TaskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: review task %s not found", task.TaskID)
	}
	return nil
}

func (s *SQLiteStore) CountPendingReviews(ctx context.Context) (map[model.ReviewPriority]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM review_tasks WHERE status = ? GROUP BY priority`,
		string(model.ReviewPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count pending reviews")
	}
	defer rows.Close()

	counts := make(map[model.ReviewPriority]int)
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review count")
		}
		counts[model.ReviewPriority(p)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate review counts")
}

func (s *SQLiteStore) SaveSourceAccuracy(ctx context.Context, sourceID string, accuracy float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET historical_accuracy = ?, updated_at = ? WHERE source_id = ?`,
		accuracy, time.Now().UTC(), sourceID,
	)
	return eris.Wrapf(err, "sqlite: save accuracy %s", sourceID)
}

func (s *SQLiteStore) LoadSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, category, base_weight, historical_accuracy, updated_at FROM sources`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var cat string
		if err := rows.Scan(&src.SourceID, &cat, &src.BaseWeight, &src.HistoricalAccuracy, &src.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		src.Category = model.SourceCategory(cat)
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sources")
}

// SeedSources upserts the registry's sources so accuracy survives restarts.
func (s *SQLiteStore) SeedSources(ctx context.Context, sources []model.Source) error {
	for _, src := range sources {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sources (source_id, category, base_weight, historical_accuracy, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(source_id) DO UPDATE SET category = excluded.category, base_weight = excluded.base_weight`,
			src.SourceID, string(src.Category), src.BaseWeight, src.HistoricalAccuracy, time.Now().UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed source %s", src.SourceID)
		}
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanResolved(sc scanner) (*model.ResolvedMetric, error) {
	var rm model.ResolvedMetric
	var method, grade, contributing, supersededBy string
	var anomalies, audit sql.NullString
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
	if err := json.Unmarshal([]byte(contributing), &rm.Contributing); err != nil {
		return nil, eris.Wrap(err, "unmarshal contributing")
	}
	if anomalies.Valid && anomalies.String != "" {
		if err := json.Unmarshal([]byte(anomalies.String), &rm.Anomalies); err != nil {
			return nil, eris.Wrap(err, "unmarshal anomalies")
		}
	}
	if audit.Valid && audit.String != "" {
		if err := json.Unmarshal([]byte(audit.String), &rm.Audit); err != nil {
			return nil, eris.Wrap(err, "unmarshal audit")
		}
	}
	return &rm, nil
}

func scanReviewTask(sc scanner) (*model.ReviewTask, error) {
	var task model.ReviewTask
	var priority, status, decision string
	var decidedAt sql.NullTime
	err := sc.Scan(
		&task.TaskID, &task.ResolvedID, &task.EntityID, &task.MetricName, &task.Period,
		&priority, &status, &decision, &task.Notes, &task.CreatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Priority = model.ReviewPriority(priority)
	task.Status = model.ReviewStatus(status)
	task.Decision = model.ReviewDecision(decision)
	if decidedAt.Valid {
		task.DecidedAt = &decidedAt.Time
	}
	return &task, nil
}

func marshalResolvedJSON(rm *model.ResolvedMetric) (contributing, anomalies, audit string, err error) {
	c, err := json.Marshal(rm.Contributing)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal contributing")
	}
	a, err := json.Marshal(rm.Anomalies)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal anomalies")
	}
	u, err := json.Marshal(rm.Audit)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal audit")
	}
	return string(c), string(a), string(u), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

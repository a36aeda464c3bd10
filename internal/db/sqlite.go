package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/farmsight/farmsight-analytics/internal/detection"
)

// migrations define the schema, versioned through the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    created_at  DATETIME NOT NULL,
    critical    INTEGER NOT NULL DEFAULT 0,
    high        INTEGER NOT NULL DEFAULT 0,
    medium      INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    failures    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS anomalies (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    entity_id   TEXT NOT NULL,
    metric      TEXT NOT NULL,
    ts          DATETIME NOT NULL,
    value       REAL NOT NULL,
    severity    TEXT NOT NULL,
    confidence  REAL NOT NULL,
    direction   TEXT NOT NULL,
    methods     TEXT NOT NULL DEFAULT '[]',
    explanation TEXT NOT NULL DEFAULT '',
    actions     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_anomalies_run ON anomalies(run_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_entity ON anomalies(entity_id, metric);
CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies(severity);
CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies(ts DESC);
`,
	},
}

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path and applies
// pending migrations. ":memory:" works for tests.
func NewSQLiteStore(path string) (Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL for better concurrency, foreign keys for cascade deletes.
	if _, err := sqlDB.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: sqlDB}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO runs(id, created_at, critical, high, medium, skipped, failures)
        VALUES(?,?,?,?,?,?,?)
    `,
		run.ID, run.CreatedAt.UTC(),
		run.Summary.Critical, run.Summary.High, run.Summary.Medium,
		run.Skipped, run.Failures,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rec := range run.Records {
		methods, err := json.Marshal(rec.ContributingMethods)
		if err != nil {
			return fmt.Errorf("marshal methods: %w", err)
		}
		actions, err := json.Marshal(rec.RecommendedActions)
		if err != nil {
			return fmt.Errorf("marshal actions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO anomalies(run_id, entity_id, metric, ts, value, severity, confidence, direction, methods, explanation, actions)
            VALUES(?,?,?,?,?,?,?,?,?,?,?)
        `,
			run.ID, rec.EntityID, rec.MetricName, rec.Timestamp.UTC(), rec.Value,
			string(rec.Severity), rec.ConfidenceScore, string(rec.Direction),
			string(methods), rec.Explanation, string(actions),
		)
		if err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run := &RunRecord{ID: id}
	err := s.db.QueryRowContext(ctx, `
        SELECT created_at, critical, high, medium, skipped, failures FROM runs WHERE id = ?
    `, id).Scan(&run.CreatedAt, &run.Summary.Critical, &run.Summary.High, &run.Summary.Medium, &run.Skipped, &run.Failures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, entity_id, metric, ts, value, severity, confidence, direction, methods, explanation, actions
        FROM anomalies WHERE run_id = ? ORDER BY id ASC
    `, id)
	if err != nil {
		return nil, fmt.Errorf("select run anomalies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		run.Records = append(run.Records, a.Record)
	}
	return run, rows.Err()
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, created_at, critical, high, medium, skipped, failures
        FROM runs ORDER BY created_at DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(&run.ID, &run.CreatedAt, &run.Summary.Critical, &run.Summary.High, &run.Summary.Medium, &run.Skipped, &run.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqliteStore) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*StoredAnomaly, error) {
	query := `SELECT run_id, entity_id, metric, ts, value, severity, confidence, direction, methods, explanation, actions FROM anomalies WHERE 1=1`
	args := []any{}

	if q.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, q.EntityID)
	}
	if q.MetricName != "" {
		query += ` AND metric = ?`
		args = append(args, q.MetricName)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	if !q.From.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY ts DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select anomalies: %w", err)
	}
	defer rows.Close()

	var out []*StoredAnomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanAnomaly reads one anomalies row with the standard column order.
func scanAnomaly(rows *sql.Rows) (*StoredAnomaly, error) {
	var (
		a        StoredAnomaly
		ts       time.Time
		severity string
		direct   string
		methods  string
		actions  string
	)
	err := rows.Scan(&a.RunID, &a.Record.EntityID, &a.Record.MetricName, &ts, &a.Record.Value,
		&severity, &a.Record.ConfidenceScore, &direct, &methods, &a.Record.Explanation, &actions)
	if err != nil {
		return nil, fmt.Errorf("scan anomaly: %w", err)
	}
	a.Record.Timestamp = ts
	a.Record.Severity = detection.Severity(severity)
	a.Record.Direction = detection.Direction(direct)
	if err := json.Unmarshal([]byte(methods), &a.Record.ContributingMethods); err != nil {
		return nil, fmt.Errorf("unmarshal methods: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &a.Record.RecommendedActions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return &a, nil
}

func (s *sqliteStore) LatestSummary(ctx context.Context) (*detection.Summary, error) {
	var summary detection.Summary
	err := s.db.QueryRowContext(ctx, `
        SELECT critical, high, medium FROM runs ORDER BY created_at DESC LIMIT 1
    `).Scan(&summary.Critical, &summary.High, &summary.Medium)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest run: %w", err)
	}
	return &summary, nil
}

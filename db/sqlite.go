package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_type VARCHAR(50),
        status VARCHAR(20) NOT NULL DEFAULT 'succeeded',
        error TEXT NOT NULL DEFAULT '',
        r2 REAL,
        rmse REAL,
        mae REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        feature_count INTEGER,
        artifact_dir TEXT,
        trained_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        row_number INTEGER,
        column_name TEXT,
        rule TEXT NOT NULL,
        severity TEXT NOT NULL,
        message TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        features TEXT NOT NULL,
        prediction REAL NOT NULL,
        artifact_kind VARCHAR(20),
        created_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_quality_run ON data_quality(run_id);
    CREATE INDEX IF NOT EXISTS idx_predictions_request ON predictions(request_id);
`

// Store keeps training history, data-quality findings and the prediction audit.
type Store struct {
	db *sql.DB
}

type TrainingRun struct {
	RunID        string    `json:"run_id"`
	ModelType    string    `json:"model_type"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	R2           float64   `json:"r2"`
	RMSE         float64   `json:"rmse"`
	MAE          float64   `json:"mae"`
	TrainRows    int       `json:"train_rows"`
	TestRows     int       `json:"test_rows"`
	FeatureCount int       `json:"feature_count"`
	ArtifactDir  string    `json:"artifact_dir"`
	TrainedAt    time.Time `json:"trained_at"`
}

type QualityIssue struct {
	Row      int    `json:"row"`
	Column   string `json:"column"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type PredictionRecord struct {
	Features     string
	Prediction   float64
	ArtifactKind string
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database}, nil
}

// runColumns are training_runs columns added after the first schema.
var runColumns = map[string]string{
	"status": `ALTER TABLE training_runs ADD COLUMN status VARCHAR(20) NOT NULL DEFAULT 'succeeded'`,
	"error":  `ALTER TABLE training_runs ADD COLUMN error TEXT NOT NULL DEFAULT ''`,
}

// migrate adds missing columns to a database created by an older schema.
func migrate(database *sql.DB) error {
	rows, err := database.Query(`PRAGMA table_info(training_runs)`)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range []string{"status", "error"} {
		if existing[name] {
			continue
		}
		if _, err := database.Exec(runColumns[name]); err != nil {
			return fmt.Errorf("add training_runs.%s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTrainingRun records a run; an empty Status is stored as "succeeded".
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	status := run.Status
	if status == "" {
		status = "succeeded"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_runs (
            run_id, model_type, status, error, r2, rmse, mae, train_rows, test_rows, feature_count, artifact_dir, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ModelType, status, run.Error, run.R2, run.RMSE, run.MAE,
		run.TrainRows, run.TestRows, run.FeatureCount, run.ArtifactDir, run.TrainedAt.UTC())
	return err
}

func (s *Store) LoadTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, model_type, status, error, r2, rmse, mae, train_rows, test_rows, feature_count, artifact_dir, trained_at
        FROM training_runs
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var run TrainingRun
		if err := rows.Scan(&run.RunID, &run.ModelType, &run.Status, &run.Error, &run.R2, &run.RMSE, &run.MAE,
			&run.TrainRows, &run.TestRows, &run.FeatureCount, &run.ArtifactDir, &run.TrainedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) SaveQualityIssues(ctx context.Context, runID string, issues []QualityIssue) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO data_quality (run_id, row_number, column_name, rule, severity, message)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(ctx, runID, issue.Row, issue.Column, issue.Rule, issue.Severity, issue.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountQualityIssues(ctx context.Context, runID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("database not initialized")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_quality WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *Store) SavePredictions(ctx context.Context, requestID string, records []PredictionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if requestID == "" {
		return errors.New("request id required")
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO predictions (request_id, features, prediction, artifact_kind, created_at)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, requestID, r.Features, r.Prediction, r.ArtifactKind, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountPredictions(ctx context.Context, requestID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("database not initialized")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE request_id = ?`, requestID).Scan(&n)
	return n, err
}

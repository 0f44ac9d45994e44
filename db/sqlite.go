package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calihouse/ml"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        features TEXT NOT NULL,
        response REAL,
        error_kind TEXT,
        detail TEXT,
        latency_ms REAL NOT NULL,
        created_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_path TEXT NOT NULL,
        mse REAL,
        r2 REAL,
        train_size INTEGER,
        test_size INTEGER,
        max_depth INTEGER,
        trained_at INTEGER NOT NULL
    );
    `

// Store keeps the prediction log and the training log.
type Store struct {
	db *sql.DB
}

type PredictionRecord struct {
	ID        int64              `json:"id"`
	RequestID string             `json:"request_id"`
	Features  ml.HousingFeatures `json:"features"`
	Response  *float64           `json:"response,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	LatencyMs float64            `json:"latency_ms"`
	CreatedAt time.Time          `json:"created_at"`
}

type TrainingRun struct {
	ID        int64     `json:"id"`
	ModelPath string    `json:"model_path"`
	MSE       float64   `json:"mse"`
	R2        float64   `json:"r2"`
	TrainSize int       `json:"train_size"`
	TestSize  int       `json:"test_size"`
	MaxDepth  int       `json:"max_depth"`
	TrainedAt time.Time `json:"trained_at"`
}

// Open initializes the SQLite database at path, creating parent directories
// and tables as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(4)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var response sql.NullFloat64
	if rec.Response != nil {
		response = sql.NullFloat64{Float64: *rec.Response, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (request_id, features, response, error_kind, detail, latency_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, string(features), response, nullString(rec.ErrorKind), nullString(rec.Detail),
		rec.LatencyMs, rec.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	rec.ID, err = result.LastInsertId()
	return err
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, features, response, error_kind, detail, latency_ms, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0, limit)
	for rows.Next() {
		var rec PredictionRecord
		var features string
		var response sql.NullFloat64
		var errorKind, detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.RequestID, &features, &response, &errorKind, &detail, &rec.LatencyMs, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, fmt.Errorf("prediction %d: %w", rec.ID, err)
		}
		if response.Valid {
			v := response.Float64
			rec.Response = &v
		}
		rec.ErrorKind = errorKind.String
		rec.Detail = detail.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) SaveTrainingRun(ctx context.Context, run *TrainingRun) error {
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_path, mse, r2, train_size, test_size, max_depth, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ModelPath, run.MSE, run.R2, run.TrainSize, run.TestSize, run.MaxDepth, run.TrainedAt.UnixMilli())
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

// LatestTrainingRun returns nil when no run has been logged.
func (s *Store) LatestTrainingRun(ctx context.Context) (*TrainingRun, error) {
	var run TrainingRun
	var trainedAt int64
	err := s.db.QueryRowContext(ctx, `
        SELECT id, model_path, mse, r2, train_size, test_size, max_depth, trained_at
        FROM training_log
        ORDER BY id DESC
        LIMIT 1`).Scan(&run.ID, &run.ModelPath, &run.MSE, &run.R2, &run.TrainSize, &run.TestSize, &run.MaxDepth, &trainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.TrainedAt = time.UnixMilli(trainedAt)
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

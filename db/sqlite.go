package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotInitialized = errors.New("database not initialized")

// Store keeps the training log and prediction history.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        artifact_path TEXT,
        row_count INTEGER,
        dropped INTEGER,
        r2 REAL,
        rmse REAL,
        classes INTEGER,
        temperature_encoded INTEGER,
        trained_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        rainfall REAL NOT NULL,
        temperature INTEGER NOT NULL,
        fertilizer REAL NOT NULL,
        nitrogen REAL NOT NULL,
        phosphorus REAL NOT NULL,
        potassium REAL NOT NULL,
        temperature_code REAL NOT NULL,
        fallback INTEGER NOT NULL,
        yield REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type TrainingLog struct {
	ModelName          string    `db:"model_name" json:"model_name"`
	ArtifactPath       string    `db:"artifact_path" json:"artifact_path"`
	Rows               int       `db:"row_count" json:"rows"`
	Dropped            int       `db:"dropped" json:"dropped"`
	R2                 float64   `db:"r2" json:"r2"`
	RMSE               float64   `db:"rmse" json:"rmse"`
	Classes            int       `db:"classes" json:"classes"`
	TemperatureEncoded bool      `db:"temperature_encoded" json:"temperature_encoded"`
	TrainedAt          time.Time `db:"trained_at" json:"trained_at"`
}

func (s *Store) SaveTrainingLog(entry TrainingLog) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	entry.TrainedAt = entry.TrainedAt.UTC()
	_, err := s.db.NamedExec(`
        INSERT INTO training_log (
            model_name, artifact_path, row_count, dropped, r2, rmse, classes, temperature_encoded, trained_at
        ) VALUES (
            :model_name, :artifact_path, :row_count, :dropped, :r2, :rmse, :classes, :temperature_encoded, :trained_at
        )
    `, entry)
	return err
}

func (s *Store) LoadTrainingLog() ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	logs := make([]TrainingLog, 0)
	err := s.db.Select(&logs, `
        SELECT model_name, artifact_path, row_count, dropped, r2, rmse, classes, temperature_encoded, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

type PredictionRecord struct {
	Rainfall        float64   `db:"rainfall" json:"rainfall"`
	Temperature     int       `db:"temperature" json:"temperature"`
	Fertilizer      float64   `db:"fertilizer" json:"fertilizer"`
	Nitrogen        float64   `db:"nitrogen" json:"nitrogen"`
	Phosphorus      float64   `db:"phosphorus" json:"phosphorus"`
	Potassium       float64   `db:"potassium" json:"potassium"`
	TemperatureCode float64   `db:"temperature_code" json:"temperature_code"`
	Fallback        bool      `db:"fallback" json:"fallback"`
	Yield           float64   `db:"yield" json:"yield"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

func (s *Store) SavePrediction(p PredictionRecord) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	_, err := s.db.NamedExec(`
        INSERT INTO predictions (
            rainfall, temperature, fertilizer, nitrogen, phosphorus, potassium,
            temperature_code, fallback, yield, created_at
        ) VALUES (
            :rainfall, :temperature, :fertilizer, :nitrogen, :phosphorus, :potassium,
            :temperature_code, :fallback, :yield, :created_at
        )
    `, p)
	return err
}

// RecentPredictions returns the newest predictions first.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	records := make([]PredictionRecord, 0)
	err := s.db.Select(&records, `
        SELECT rainfall, temperature, fertilizer, nitrogen, phosphorus, potassium,
               temperature_code, fallback, yield, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

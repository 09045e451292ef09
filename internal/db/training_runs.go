package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrainingRun records the outcome of one training attempt, successful or not.
type TrainingRun struct {
	ID         string      `json:"run_id"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	Labels     []string    `json:"labels"`
	Accuracy   float64     `json:"accuracy"`
	TrainRows  int         `json:"train_rows"`
	TestRows   int         `json:"test_rows"`
	Cols       int         `json:"cols"`
	Confusion  [][]float64 `json:"confusion"`
	Warnings   []string    `json:"warnings"`
	Error      string      `json:"error,omitempty"`
}

// InsertTrainingRun stores r and returns its ID.
func (db *DB) InsertTrainingRun(r *TrainingRun) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	labels, err := json.Marshal(nonNil(r.Labels))
	if err != nil {
		return "", err
	}
	confusion, err := json.Marshal(nonNil(r.Confusion))
	if err != nil {
		return "", err
	}
	warnings, err := json.Marshal(nonNil(r.Warnings))
	if err != nil {
		return "", err
	}
	var snapshotID sql.NullString
	if r.SnapshotID != "" {
		snapshotID = sql.NullString{String: r.SnapshotID, Valid: true}
	}
	_, err = db.Exec(`INSERT INTO training_runs (run_id, snapshot_id, started_unix_nanos, labels_json, accuracy, train_rows, test_rows, cols, confusion_json, warnings_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, snapshotID, r.StartedAt.UnixNano(), string(labels), r.Accuracy, r.TrainRows, r.TestRows, r.Cols,
		string(confusion), string(warnings), r.Error)
	if err != nil {
		return "", fmt.Errorf("insert training run: %w", err)
	}
	return r.ID, nil
}

// ListTrainingRuns returns up to limit runs, newest first.
func (db *DB) ListTrainingRuns(limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT run_id, snapshot_id, started_unix_nanos, labels_json, accuracy, train_rows, test_rows, cols, confusion_json, warnings_json, error
		FROM training_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		var (
			r                           TrainingRun
			snapshotID                  sql.NullString
			nanos                       int64
			labels, confusion, warnings string
		)
		if err := rows.Scan(&r.ID, &snapshotID, &nanos, &labels, &r.Accuracy, &r.TrainRows, &r.TestRows, &r.Cols,
			&confusion, &warnings, &r.Error); err != nil {
			return nil, err
		}
		r.SnapshotID = snapshotID.String
		r.StartedAt = time.Unix(0, nanos)
		for _, f := range []struct {
			src string
			dst any
		}{{labels, &r.Labels}, {confusion, &r.Confusion}, {warnings, &r.Warnings}} {
			if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
				return nil, fmt.Errorf("decode training run %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

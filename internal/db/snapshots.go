package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one persisted engine state buffer with summary columns for
// listing without decoding the blob.
type Snapshot struct {
	ID          string    `json:"snapshot_id"`
	TakenAt     time.Time `json:"taken_at"`
	Reason      string    `json:"reason"`
	Labels      []string  `json:"labels"`
	SampleCount int       `json:"sample_count"`
	Cols        int       `json:"cols"`
	ModelReady  bool      `json:"model_ready"`
	Blob        []byte    `json:"-"`
}

// InsertSnapshot stores s and returns its ID. An empty ID is replaced with
// a new UUID and a zero TakenAt with the current time.
func (db *DB) InsertSnapshot(s *Snapshot) (string, error) {
	if s == nil || len(s.Blob) == 0 {
		return "", errors.New("db: snapshot has no state")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	labels, err := json.Marshal(nonNil(s.Labels))
	if err != nil {
		return "", err
	}
	_, err = db.Exec(`INSERT INTO engine_snapshots (snapshot_id, taken_unix_nanos, reason, labels_json, sample_count, cols, model_ready, state_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TakenAt.UnixNano(), s.Reason, string(labels), s.SampleCount, s.Cols, s.ModelReady, s.Blob)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return s.ID, nil
}

const snapshotColumns = `snapshot_id, taken_unix_nanos, reason, labels_json, sample_count, cols, model_ready`

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner, withBlob bool) (*Snapshot, error) {
	var (
		s      Snapshot
		nanos  int64
		labels string
	)
	dest := []any{&s.ID, &nanos, &s.Reason, &labels, &s.SampleCount, &s.Cols, &s.ModelReady}
	if withBlob {
		dest = append(dest, &s.Blob)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.TakenAt = time.Unix(0, nanos)
	if err := json.Unmarshal([]byte(labels), &s.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of snapshot %s: %w", s.ID, err)
	}
	return &s, nil
}

// GetSnapshot returns the snapshot with id, including its blob.
func (db *DB) GetSnapshot(id string) (*Snapshot, error) {
	row := db.QueryRow(`SELECT `+snapshotColumns+`, state_blob FROM engine_snapshots WHERE snapshot_id = ?`, id)
	return scanSnapshot(row, true)
}

// LatestSnapshot returns the most recently taken snapshot, including its blob.
func (db *DB) LatestSnapshot() (*Snapshot, error) {
	row := db.QueryRow(`SELECT ` + snapshotColumns + `, state_blob FROM engine_snapshots ORDER BY taken_unix_nanos DESC LIMIT 1`)
	return scanSnapshot(row, true)
}

// ListSnapshots returns up to limit snapshots, newest first, without blobs.
func (db *DB) ListSnapshots(limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+snapshotColumns+` FROM engine_snapshots ORDER BY taken_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes the snapshot with id. Training runs that referenced
// it keep their history with a null snapshot.
func (db *DB) DeleteSnapshot(id string) error {
	res, err := db.Exec(`DELETE FROM engine_snapshots WHERE snapshot_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package db

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/expression.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_Migrates(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Migrating again is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, db.MigrateUp())
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	base := time.Unix(1700000000, 0)
	first := &Snapshot{TakenAt: base, Reason: "train", Labels: []string{"neutral", "smile"}, SampleCount: 2000, Cols: 210, ModelReady: true, Blob: []byte{1, 2, 3}}
	second := &Snapshot{TakenAt: base.Add(time.Minute), Reason: "manual", Blob: []byte{4}}

	id1, err := db.InsertSnapshot(first)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	id2, err := db.InsertSnapshot(second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got, err := db.GetSnapshot(id1)
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("GetSnapshot mismatch (-want +got):\n%s", diff)
	}

	latest, err := db.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)
	assert.Equal(t, []byte{4}, latest.Blob)
	assert.Equal(t, []string{}, latest.Labels)

	list, err := db.ListSnapshots(10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID)
	assert.Nil(t, list[1].Blob)

	require.NoError(t, db.DeleteSnapshot(id2))
	assert.ErrorIs(t, db.DeleteSnapshot(id2), ErrNotFound)
	_, err = db.GetSnapshot(id2)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.InsertSnapshot(&Snapshot{})
	assert.Error(t, err)
}

func TestLatestSnapshot_Empty(t *testing.T) {
	t.Parallel()
	_, err := newTestDB(t).LatestSnapshot()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrainingRuns(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	snapID, err := db.InsertSnapshot(&Snapshot{Blob: []byte{1}})
	require.NoError(t, err)

	ok := &TrainingRun{
		SnapshotID: snapID,
		StartedAt:  time.Unix(100, 0),
		Labels:     []string{"neutral", "smile"},
		Accuracy:   0.98,
		TrainRows:  1500,
		TestRows:   500,
		Cols:       210,
		Confusion:  [][]float64{{245, 5}, {5, 245}},
		Warnings:   []string{},
	}
	failed := &TrainingRun{
		StartedAt: time.Unix(200, 0),
		Warnings:  []string{"smile: skipping due to lack of data (3 samples)"},
		Error:     "training: fewer than two labels have enough data",
	}
	_, err = db.InsertTrainingRun(ok)
	require.NoError(t, err)
	_, err = db.InsertTrainingRun(failed)
	require.NoError(t, err)

	runs, err := db.ListTrainingRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed.Error, runs[0].Error)
	assert.Equal(t, "", runs[0].SnapshotID)
	assert.Equal(t, []string{}, runs[0].Labels)
	if diff := cmp.Diff(*ok, runs[1]); diff != "" {
		t.Errorf("training run mismatch (-want +got):\n%s", diff)
	}

	// Deleting the snapshot keeps the run.
	require.NoError(t, db.DeleteSnapshot(snapID))
	runs, err = db.ListTrainingRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "", runs[1].SnapshotID)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	_, err := db.InsertSnapshot(&Snapshot{Blob: []byte{1}})
	require.NoError(t, err)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/tailsql/", "/debug/snapshots", "/debug/training-runs", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// tsweb may refuse non-local callers; the route must still exist.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestServeBackup(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)

	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

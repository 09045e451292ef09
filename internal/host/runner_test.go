package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression"
	"github.com/banshee-data/expression.report/internal/expression/classifier"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/fsutil"
	"github.com/banshee-data/expression.report/internal/monitoring"
	"github.com/banshee-data/expression.report/internal/testutil"
	"github.com/banshee-data/expression.report/internal/timeutil"
	"github.com/banshee-data/expression.report/internal/tracking"
)

func init() {
	monitoring.SetLogger(nil)
}

type fixture struct {
	runner *Runner
	buf    *tracking.Buffer
	clock  *timeutil.MockClock
	fs     *fsutil.MemoryFileSystem
	db     *db.DB
	ts     float64
}

func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	eng := expression.New(expression.Options{
		Settings: expression.Settings{ExpressionStabilizer: 2, Selection: features.AllSelected()},
		Seed:     7,
		Clock:    clock,
		NewModel: func() classifier.Model { return testutil.NewFakeModel(1) },
	})
	f := &fixture{
		buf:   tracking.NewBuffer(),
		clock: clock,
		fs:    fsutil.NewMemoryFileSystem(),
	}
	if withDB {
		d, err := db.NewDB(filepath.Join(t.TempDir(), "host.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		f.db = d
	}
	r, err := NewRunner(Config{
		Engine:          eng,
		Source:          f.buf,
		Clock:           clock,
		DB:              f.db,
		FS:              f.fs,
		StatePath:       "/state/engine.expr",
		SnapshotOnTrain: true,
	})
	require.NoError(t, err)
	f.runner = r
	return f
}

func (f *fixture) do(t *testing.T, cmd Command) Reply {
	t.Helper()
	rep := f.runner.apply(cmd)
	f.runner.publish()
	return rep
}

// feed ticks the runner n times with fresh frames of class.
func (f *fixture) feed(n, class int) {
	for i := 0; i < n; i++ {
		f.ts += 0.033
		f.buf.Put(testutil.Frame(0, f.ts, class))
		f.clock.Advance(33 * time.Millisecond)
		f.runner.tick()
	}
}

func (f *fixture) calibrate(t *testing.T) {
	t.Helper()
	require.NoError(t, f.do(t, Command{Name: CmdRecord, Label: "neutral"}).Err)
	f.feed(25, 0)
	require.NoError(t, f.do(t, Command{Name: CmdRecord, Label: "smile"}).Err)
	f.feed(25, 1)
	require.NoError(t, f.do(t, Command{Name: CmdStop}).Err)
}

func TestNewRunner_RequiresEngine(t *testing.T) {
	_, err := NewRunner(Config{})
	assert.Error(t, err)
}

func TestRunner_RecordTrainPredict(t *testing.T) {
	f := newFixture(t, true)
	f.calibrate(t)

	st := f.runner.Status()
	assert.Equal(t, map[string]int{"neutral": 25, "smile": 25}, st.Counts)
	assert.EqualValues(t, 50, st.Ticks)
	assert.False(t, st.Flags.Recording)

	rep := f.do(t, Command{Name: CmdTrain})
	require.NoError(t, rep.Err)
	assert.Equal(t, 1.0, rep.Accuracy)
	assert.Len(t, rep.Warnings, 2)
	assert.NotEmpty(t, rep.SnapshotID)
	assert.True(t, f.fs.Exists("/state/engine.expr"))

	runs, err := f.db.ListTrainingRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.SnapshotID, runs[0].SnapshotID)
	assert.Equal(t, []string{"neutral", "smile"}, runs[0].Labels)
	assert.Equal(t, 1500, runs[0].TrainRows)
	assert.Empty(t, runs[0].Error)

	require.NoError(t, f.do(t, Command{Name: CmdPredict}).Err)
	f.feed(2, 1)
	assert.Empty(t, f.runner.Status().Expression)
	f.feed(1, 1)
	st = f.runner.Status()
	assert.Equal(t, "smile", st.Expression)
	assert.True(t, st.Ready)
	assert.Empty(t, st.PredictError)
	assert.NotEmpty(t, st.LastTrainingTime)
}

func TestRunner_TrainFailureIsRecorded(t *testing.T) {
	f := newFixture(t, true)

	rep := f.do(t, Command{Name: CmdTrain})
	assert.ErrorIs(t, rep.Err, expression.ErrTooFewClasses)
	assert.Empty(t, rep.SnapshotID)
	assert.False(t, f.fs.Exists("/state/engine.expr"))

	runs, err := f.db.ListTrainingRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
	assert.Empty(t, runs[0].SnapshotID)

	snaps, err := f.db.ListSnapshots(10)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestRunner_SaveResetLoad(t *testing.T) {
	f := newFixture(t, true)
	f.calibrate(t)

	rep := f.do(t, Command{Name: CmdSave})
	require.NoError(t, rep.Err)
	assert.Positive(t, rep.Bytes)
	require.NotEmpty(t, rep.SnapshotID)

	require.NoError(t, f.do(t, Command{Name: CmdReset}).Err)
	assert.Zero(t, f.runner.Status().LabelCount)

	rep = f.do(t, Command{Name: CmdLoad, SnapshotID: "latest"})
	require.NoError(t, rep.Err)
	assert.Equal(t, 2, f.runner.Status().LabelCount)

	require.NoError(t, f.do(t, Command{Name: CmdReset}).Err)
	require.NoError(t, f.do(t, Command{Name: CmdLoad}).Err)
	assert.Equal(t, map[string]int{"neutral": 25, "smile": 25}, f.runner.Status().Counts)

	rep = f.do(t, Command{Name: CmdLoad, SnapshotID: "missing"})
	assert.ErrorIs(t, rep.Err, db.ErrNotFound)
}

func TestRunner_SaveWithoutStore(t *testing.T) {
	eng := expression.New(expression.Options{NewModel: func() classifier.Model { return testutil.NewFakeModel() }})
	r, err := NewRunner(Config{Engine: eng})
	require.NoError(t, err)
	assert.ErrorIs(t, r.apply(Command{Name: CmdSave}).Err, ErrNoStore)
	assert.ErrorIs(t, r.apply(Command{Name: CmdLoad}).Err, ErrNoStore)
	assert.ErrorIs(t, r.apply(Command{Name: CmdLoad, SnapshotID: "latest"}).Err, ErrNoStore)
}

func TestRunner_CommandErrors(t *testing.T) {
	f := newFixture(t, false)
	for _, cmd := range []Command{
		{Name: "dance"},
		{Name: CmdSetLabel},
		{Name: CmdSelect},
	} {
		t.Run(cmd.Name, func(t *testing.T) {
			assert.ErrorIs(t, f.do(t, cmd).Err, ErrBadCommand)
		})
	}
}

func TestRunner_SelectAndClear(t *testing.T) {
	f := newFixture(t, false)
	f.calibrate(t)

	sel := features.Selection{Contour: true}
	require.NoError(t, f.do(t, Command{Name: CmdSelect, Selection: &sel}).Err)
	assert.Equal(t, sel, f.runner.Status().Selection)

	require.NoError(t, f.do(t, Command{Name: CmdTrain}).Err)
	assert.Equal(t, len(features.SelectIndices(sel)), f.runner.Status().Cols)

	require.NoError(t, f.do(t, Command{Name: CmdClear, Label: "smile"}).Err)
	assert.Equal(t, []string{"neutral"}, f.runner.Status().Labels)
}

func TestRunner_CaptureErrorSurfaced(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.do(t, Command{Name: CmdRecord}).Err)
	f.feed(1, 0)
	assert.Equal(t, expression.ErrEmptyLabel.Error(), f.runner.Status().CaptureError)
}

func TestRunner_Run(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	rep, err := f.runner.Do(ctx, Command{Name: CmdSetLabel, Label: "neutral"})
	require.NoError(t, err)
	require.NoError(t, rep.Err)
	assert.Equal(t, "neutral", f.runner.Status().Label)

	require.Eventually(t, func() bool {
		f.clock.Advance(33 * time.Millisecond)
		return f.runner.Status().Ticks > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	_, err = f.runner.Do(context.Background(), Command{Name: CmdStop})
	assert.ErrorIs(t, err, ErrStopped)
}

// Package host runs the expression engine on its own goroutine. It ticks the
// engine against the tracking buffer, applies commands from the HTTP API and
// persists state after training.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/expression/statefile"
	"github.com/banshee-data/expression.report/internal/expression/training"
	"github.com/banshee-data/expression.report/internal/fsutil"
	"github.com/banshee-data/expression.report/internal/monitoring"
	"github.com/banshee-data/expression.report/internal/timeutil"
	"github.com/banshee-data/expression.report/internal/tracking"
)

var logf = monitoring.Component("Host")

// ErrStopped is returned by Do once Run has exited.
var ErrStopped = errors.New("host: runner stopped")

// ErrNoStore is returned by save and load when neither a state file nor a
// database is configured.
var ErrNoStore = errors.New("host: no state file or database configured")

// Config wires a Runner.
type Config struct {
	Engine       *expression.Engine
	Source       tracking.Source
	Clock        timeutil.Clock
	TickInterval time.Duration

	// DB, when set, receives a snapshot and a training run row after
	// every training attempt.
	DB *db.DB

	FS        fsutil.FileSystem
	StatePath string

	// SnapshotOnTrain also writes the state file after a successful train.
	SnapshotOnTrain bool
}

// Status is the engine status plus the host's own view of the last tick.
type Status struct {
	expression.Status
	Ticks            int64  `json:"ticks"`
	CaptureError     string `json:"capture_error,omitempty"`
	PredictError     string `json:"predict_error,omitempty"`
	LastSnapshotID   string `json:"last_snapshot_id,omitempty"`
	LastTrainingTime string `json:"last_training_time,omitempty"`
}

type request struct {
	cmd   Command
	reply chan Reply
}

// Runner owns the engine. Only the Run goroutine touches it.
type Runner struct {
	cfg Config
	eng *expression.Engine

	cmds chan request
	done chan struct{}

	mu     sync.RWMutex
	status Status

	ticks        int64
	captureErr   string
	predictErr   string
	lastSnapshot string
	lastTrained  time.Time
}

// NewRunner validates cfg and fills in defaults.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Engine == nil {
		return nil, errors.New("host: engine is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 33 * time.Millisecond
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	r := &Runner{
		cfg:  cfg,
		eng:  cfg.Engine,
		cmds: make(chan request),
		done: make(chan struct{}),
	}
	r.publish()
	return r, nil
}

// Run ticks the engine until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := r.cfg.Clock.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	logf("running, tick interval %v", r.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			logf("stopping after %d ticks", r.ticks)
			return ctx.Err()
		case <-ticker.C():
			r.tick()
		case req := <-r.cmds:
			req.reply <- r.apply(req.cmd)
			r.publish()
		}
	}
}

func (r *Runner) tick() {
	res := r.eng.Tick(r.cfg.Source)
	r.ticks++

	r.captureErr = r.noteError("capture", r.captureErr, res.CaptureErr)
	r.predictErr = r.noteError("predict", r.predictErr, res.PredictErr)
	if res.Committed {
		logf("expression is now %q", r.eng.Expression())
	}
	if res.Trained || res.TrainErr != nil {
		r.afterTrain(r.eng.LastResult(), res.TrainErr)
	}
	r.publish()
}

// noteError logs only when the error text changes between ticks.
func (r *Runner) noteError(stage, prev string, err error) string {
	var cur string
	if err != nil {
		cur = err.Error()
	}
	if cur != prev && cur != "" {
		logf("%s: %s", stage, cur)
	}
	return cur
}

// Do sends cmd to the Run goroutine and waits for its reply.
func (r *Runner) Do(ctx context.Context, cmd Command) (Reply, error) {
	req := request{cmd: cmd, reply: make(chan Reply, 1)}
	select {
	case r.cmds <- req:
	case <-r.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Status returns the status published after the last tick or command.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Runner) publish() {
	st := Status{
		Status:         r.eng.Status(),
		Ticks:          r.ticks,
		CaptureError:   r.captureErr,
		PredictError:   r.predictErr,
		LastSnapshotID: r.lastSnapshot,
	}
	if !r.lastTrained.IsZero() {
		st.LastTrainingTime = r.lastTrained.UTC().Format(time.RFC3339)
	}
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

// afterTrain records a training attempt. A successful run is also
// snapshotted to the database and, when configured, the state file.
func (r *Runner) afterTrain(res *training.Result, trainErr error) {
	r.lastTrained = r.cfg.Clock.Now()
	if trainErr == nil && r.cfg.SnapshotOnTrain && r.cfg.StatePath != "" {
		if _, err := statefile.Save(r.cfg.FS, r.cfg.StatePath, r.eng); err != nil {
			logf("state file after training: %v", err)
		}
	}
	if r.cfg.DB == nil {
		return
	}

	run := &db.TrainingRun{StartedAt: r.lastTrained}
	if trainErr != nil {
		run.Error = trainErr.Error()
		run.Warnings = r.eng.Status().Warnings
	} else {
		id, err := r.snapshot("train")
		if err != nil {
			logf("snapshot after training: %v", err)
		}
		run.SnapshotID = id
		if res != nil {
			run.Labels = res.Labels
			run.Accuracy = res.Accuracy
			run.TrainRows = res.TrainRows
			run.TestRows = res.TestRows
			run.Cols = len(res.SelectedIndices)
			run.Confusion = r.eng.Status().Confusion
			run.Warnings = res.Warnings
		}
	}
	if _, err := r.cfg.DB.InsertTrainingRun(run); err != nil {
		logf("record training run: %v", err)
	}
}

func (r *Runner) snapshot(reason string) (string, error) {
	blob, err := r.eng.Serialize()
	if err != nil {
		return "", err
	}
	st := r.eng.Status()
	total := 0
	for _, n := range st.Counts {
		total += n
	}
	id, err := r.cfg.DB.InsertSnapshot(&db.Snapshot{
		TakenAt:     r.cfg.Clock.Now(),
		Reason:      reason,
		Labels:      st.ClassLabels,
		SampleCount: total,
		Cols:        st.Cols,
		ModelReady:  st.Ready,
		Blob:        blob,
	})
	if err != nil {
		return "", err
	}
	r.lastSnapshot = id
	return id, nil
}

func (r *Runner) selection(sel *features.Selection) error {
	if sel == nil {
		return fmt.Errorf("%w: selection is required", ErrBadCommand)
	}
	r.eng.Settings.Selection = *sel
	logf("feature selection changed, %d cols on next training", len(features.SelectIndices(*sel)))
	return nil
}

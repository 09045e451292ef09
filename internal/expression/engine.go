// Package expression is the calibration and classification engine. One
// Engine owns the sample store, the trained model and the prediction state;
// the host drives it by calling Tick once per tracking frame.
package expression

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/expression.report/internal/expression/calibration"
	"github.com/banshee-data/expression.report/internal/expression/classifier"
	"github.com/banshee-data/expression.report/internal/expression/codec"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/expression/stabilizer"
	"github.com/banshee-data/expression.report/internal/expression/training"
	"github.com/banshee-data/expression.report/internal/monitoring"
	"github.com/banshee-data/expression.report/internal/timeutil"
	"github.com/banshee-data/expression.report/internal/tracking"
)

// Re-exported so hosts only need this package for error checks.
var (
	ErrEmptyLabel     = calibration.ErrEmptyLabel
	ErrLabelLimit     = calibration.ErrLabelLimit
	ErrStaleFrame     = calibration.ErrStaleFrame
	ErrBufferFull     = calibration.ErrBufferFull
	ErrTooFewClasses  = training.ErrTooFewClasses
	ErrTooManyClasses = training.ErrTooManyClasses

	ErrNoFrame  = errors.New("expression: no frame for the target face")
	ErrNotReady = errors.New("expression: no trained model")
)

var logf = monitoring.Component("Engine")

// Settings is the host-controlled configuration, read on every tick.
type Settings struct {
	Label                string             `json:"label"`
	TargetFaceID         int                `json:"target_face_id"`
	ExpressionStabilizer int                `json:"expression_stabilizer"`
	RecordingSkip        int                `json:"recording_skip"`
	OverRecordingSkip    int                `json:"over_recording_skip"`
	OverRecording        bool               `json:"over_recording"`
	Selection            features.Selection `json:"selection"`
}

// Flags are one-shot and toggled switches the host sets between ticks.
// Clear and Train reset themselves once handled; Recording is turned off
// when the store refuses a capture for capacity reasons.
type Flags struct {
	Recording bool `json:"recording"`
	Clear     bool `json:"clear"`
	Train     bool `json:"train"`
	Predict   bool `json:"predict"`
}

// Options configures a new Engine.
type Options struct {
	Settings Settings
	Seed     uint64
	Clock    timeutil.Clock
	NewModel classifier.Factory
}

// Engine is not safe for concurrent use; one goroutine must own it.
type Engine struct {
	Settings Settings
	Flags    Flags

	clock    timeutil.Clock
	rng      *rand.Rand
	newModel classifier.Factory

	store   *calibration.Store
	model   classifier.Model
	labels  []string
	indices []int
	stab    *stabilizer.Stabilizer

	lastPredict    float64
	hasLastPredict bool

	result   *training.Result
	warnings []string
}

// New returns an engine with an empty store and an untrained model.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.NewModel == nil {
		opts.NewModel = classifier.SoftmaxFactory(classifier.Options{})
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5851f42d4c957f2d))
	return &Engine{
		Settings: opts.Settings,
		clock:    opts.Clock,
		rng:      rng,
		newModel: opts.NewModel,
		store:    calibration.NewStore(rng, calibration.Cadence{}),
		model:    opts.NewModel(),
		indices:  features.SelectIndices(opts.Settings.Selection),
		stab:     stabilizer.New(opts.Settings.ExpressionStabilizer),
	}
}

// TickResult reports what each stage of a tick did.
type TickResult struct {
	Cleared    bool
	CaptureErr error
	Trained    bool
	TrainErr   error
	Predicted  bool
	PredictErr error
	Committed  bool // the visible expression changed
}

// Tick runs one frame's worth of work in order: clear, capture, train,
// predict. Stages whose flag is off are skipped.
func (e *Engine) Tick(src tracking.Source) TickResult {
	var res TickResult
	var frame *tracking.Frame
	if src != nil {
		if f, ok := tracking.Find(src.Frames(), e.Settings.TargetFaceID); ok {
			frame = &f
		}
	}

	if e.Flags.Clear {
		e.Flags.Clear = false
		e.ClearLabel(e.Settings.Label)
		res.Cleared = true
	}

	if e.Flags.Recording {
		res.CaptureErr = e.Record(frame)
		if errors.Is(res.CaptureErr, ErrLabelLimit) || errors.Is(res.CaptureErr, ErrBufferFull) {
			e.Flags.Recording = false
			logf("recording stopped for %q: %v", e.Settings.Label, res.CaptureErr)
		}
	}

	if e.Flags.Train {
		e.Flags.Train = false
		_, res.TrainErr = e.Train()
		res.Trained = res.TrainErr == nil
	}

	if e.Flags.Predict {
		res.Committed, res.PredictErr = e.Predict(frame)
		res.Predicted = res.PredictErr == nil
	}
	return res
}

func (e *Engine) syncSettings() {
	e.store.Cadence = calibration.Cadence{
		RecordingSkip:     e.Settings.RecordingSkip,
		OverRecordingSkip: e.Settings.OverRecordingSkip,
		OverRecording:     e.Settings.OverRecording,
	}
	e.stab.Threshold = e.Settings.ExpressionStabilizer
}

// Record captures frame under the current label.
func (e *Engine) Record(frame *tracking.Frame) error {
	if e.Settings.Label == "" {
		return ErrEmptyLabel
	}
	if frame == nil {
		return ErrNoFrame
	}
	e.syncSettings()
	before := e.store.Count(e.Settings.Label)
	if err := e.store.Capture(e.Settings.Label, features.Build(frame), frame.Timestamp); err != nil {
		return err
	}
	if before == 0 && e.store.Count(e.Settings.Label) == 1 {
		logf("started label %q (%d labels)", e.Settings.Label, e.store.Len())
	}
	if before < calibration.MaxSamples && e.store.Count(e.Settings.Label) == calibration.MaxSamples {
		logf("label %q is full", e.Settings.Label)
	}
	return nil
}

// ClearLabel removes label's samples and resets the prediction state.
func (e *Engine) ClearLabel(label string) {
	if e.store.Clear(label) {
		logf("cleared label %q", label)
	}
	e.resetPrediction()
}

// Invalidate empties the store and resets the prediction state, as when the
// host loses its tracking source. The trained model is kept.
func (e *Engine) Invalidate() {
	e.store.Reset()
	e.resetPrediction()
	e.Flags.Recording = false
	logf("invalidated")
}

func (e *Engine) resetPrediction() {
	e.stab.Reset()
	e.lastPredict = 0
	e.hasLastPredict = false
}

// Train fits a fresh model on the stored samples using the current feature
// selection. On failure the previous model, labels and evaluation are kept
// and only the warnings are replaced.
func (e *Engine) Train() (*training.Result, error) {
	res, err := training.Train(training.Input{
		Samples:   e.store,
		Selection: e.Settings.Selection,
		Model:     e.newModel(),
		Rand:      e.rng,
	})
	if res != nil {
		e.warnings = res.Warnings
	}
	if err != nil {
		logf("training failed: %v", err)
		return res, err
	}
	e.model = res.Model
	e.labels = res.Labels
	e.indices = res.SelectedIndices
	e.result = res
	logf("trained %d classes over %d cols, accuracy %.4f", len(e.labels), len(e.indices), res.Accuracy)
	return res, nil
}

// Predict classifies frame and feeds the stabilizer. It reports whether the
// visible expression changed.
func (e *Engine) Predict(frame *tracking.Frame) (bool, error) {
	if !e.model.Ready() {
		return false, ErrNotReady
	}
	if frame == nil {
		return false, ErrNoFrame
	}
	if e.hasLastPredict && frame.Timestamp <= e.lastPredict {
		return false, ErrStaleFrame
	}
	e.syncSettings()

	row := features.Project(features.Build(frame), e.indices)
	out, err := e.model.Predict(mat.NewDense(1, len(row), row))
	if err != nil {
		return false, fmt.Errorf("expression: predict: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("expression: predict returned %d values", len(out))
	}
	e.lastPredict = frame.Timestamp
	e.hasLastPredict = true
	return e.stab.Observe(classifier.RoundClass(out[0]), e.clock.Now()), nil
}

// Expression returns the committed label, or "" before the first commit or
// when the committed id is outside the class labels.
func (e *Engine) Expression() string {
	id, _ := e.stab.Committed()
	if id < 0 || id >= len(e.labels) {
		return ""
	}
	return e.labels[id]
}

// ExpressionTime returns when the current expression was committed.
func (e *Engine) ExpressionTime() time.Time {
	_, at := e.stab.Committed()
	return at
}

// Ready reports whether a trained model is loaded.
func (e *Engine) Ready() bool { return e.model.Ready() }

// ClassLabels returns the labels of the last successful training or load.
func (e *Engine) ClassLabels() []string {
	return append([]string(nil), e.labels...)
}

// SelectedIndices returns the feature indices prediction uses.
func (e *Engine) SelectedIndices() []int {
	return append([]int(nil), e.indices...)
}

// Store exposes the sample store for read-only inspection.
func (e *Engine) Store() *calibration.Store { return e.store }

// LastResult returns the outcome of the last successful training run.
func (e *Engine) LastResult() *training.Result { return e.result }

// Serialize encodes store, model, class labels, indices and selection.
func (e *Engine) Serialize() ([]byte, error) {
	blob, err := e.model.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("expression: save model: %w", err)
	}
	return codec.Encode(&codec.Snapshot{
		Samples:         e.store.Export(),
		Model:           blob,
		Labels:          e.labels,
		SelectedIndices: e.indices,
		Selection:       e.Settings.Selection,
	})
}

// checkModelShape rejects snapshots whose model disagrees with the class
// labels or selected indices stored beside it.
func checkModelShape(model classifier.Model, snap *codec.Snapshot) error {
	if !model.Ready() {
		if len(snap.Labels) > 0 {
			return fmt.Errorf("%d class labels without a trained model", len(snap.Labels))
		}
		return nil
	}
	if n := len(snap.Labels); n < 2 || n > calibration.MaxLabels {
		return fmt.Errorf("trained model with %d class labels", n)
	}
	shaped, ok := model.(classifier.Shaped)
	if !ok {
		return nil
	}
	if shaped.Classes() != len(snap.Labels) {
		return fmt.Errorf("model has %d classes, %d class labels", shaped.Classes(), len(snap.Labels))
	}
	if shaped.Cols() != len(snap.SelectedIndices) {
		return fmt.Errorf("model has %d cols, %d selected indices", shaped.Cols(), len(snap.SelectedIndices))
	}
	return nil
}

// Deserialize replaces store, model, class labels, indices and selection
// with the state in data. Nothing changes unless data is entirely valid.
func (e *Engine) Deserialize(data []byte) error {
	snap, err := codec.Decode(data)
	if err != nil {
		return err
	}
	model := e.newModel()
	if err := model.UnmarshalBinary(snap.Model); err != nil {
		return fmt.Errorf("%w: model: %v", codec.ErrFormat, err)
	}
	if err := checkModelShape(model, snap); err != nil {
		return fmt.Errorf("%w: %v", codec.ErrFormat, err)
	}
	if err := e.store.Replace(snap.Samples); err != nil {
		return fmt.Errorf("%w: %v", codec.ErrFormat, err)
	}
	e.model = model
	e.labels = snap.Labels
	e.indices = snap.SelectedIndices
	e.Settings.Selection = snap.Selection
	e.result = nil
	e.warnings = nil
	e.resetPrediction()
	logf("loaded %d labels, %d class labels, %d cols", e.store.Len(), len(e.labels), len(e.indices))
	return nil
}

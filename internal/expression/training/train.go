// Package training turns calibration samples into a trained classifier and
// an evaluation of it on held-out data.
package training

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/expression.report/internal/expression/calibration"
	"github.com/banshee-data/expression.report/internal/expression/classifier"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/monitoring"
)

const (
	// MinSamples is the sample count a label must exceed to be trained on
	// before its buffer is full.
	MinSamples = 20
	// MaxClasses bounds the classes in one run.
	MaxClasses = calibration.MaxLabels
	// ErrorRateWarning is the per-class misclassification percentage above
	// which a warning is emitted.
	ErrorRateWarning = 5.0
)

var (
	ErrTooFewClasses  = errors.New("training: fewer than two labels have enough data")
	ErrTooManyClasses = errors.New("training: too many labels")
	ErrMissingInput   = errors.New("training: samples, model and random source are required")
)

var logf = monitoring.Component("Training")

// Samples is the read side of a calibration store.
type Samples interface {
	Labels() []string
	Samples(label string) []features.Vector
}

// Input collects what one training run needs.
type Input struct {
	Samples   Samples
	Selection features.Selection
	Model     classifier.Model // freshly built; replaced wholesale on success
	Rand      *rand.Rand
}

// Result is the outcome of a run. Warnings are populated even when Train
// returns an error.
type Result struct {
	Labels          []string
	SelectedIndices []int
	Model           classifier.Model
	Confusion       *mat.Dense
	Accuracy        float64
	Warnings        []string
	TrainRows       int
	TestRows        int
}

// TrainRowsPerClass is the fixed number of training rows each class
// contributes, regardless of how many samples it has.
func TrainRowsPerClass() int { return calibration.MaxSamples * 3 / 4 }

// Train runs one full training pass. The model in the input is only touched
// once the label set is known to be trainable.
func Train(in Input) (*Result, error) {
	if in.Samples == nil || in.Model == nil || in.Rand == nil {
		return nil, ErrMissingInput
	}
	res := &Result{SelectedIndices: features.SelectIndices(in.Selection)}

	var included [][]features.Vector
	for _, label := range in.Samples.Labels() {
		samples := in.Samples.Samples(label)
		n := len(samples)
		switch {
		case n == calibration.MaxSamples:
		case n > MinSamples:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: little data (%d samples), results may be inaccurate", label, n))
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: skipping due to lack of data (%d samples)", label, n))
			continue
		}
		res.Labels = append(res.Labels, label)
		included = append(included, samples)
	}

	classes := len(res.Labels)
	switch {
	case classes < 2:
		res.Warnings = append(res.Warnings, fmt.Sprintf("need at least 2 labels with data, have %d", classes))
		return res, ErrTooFewClasses
	case classes > MaxClasses:
		res.Warnings = append(res.Warnings, fmt.Sprintf("at most %d labels can be trained, have %d", MaxClasses, classes))
		return res, ErrTooManyClasses
	}

	cols := len(res.SelectedIndices)
	perClass := TrainRowsPerClass()
	trainX := mat.NewDense(classes*perClass, cols, nil)
	trainY := make([]int, 0, classes*perClass)
	var testData []float64
	var testY []int

	for c, samples := range included {
		shuffled := append([]features.Vector(nil), samples...)
		in.Rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		split := len(shuffled) * 3 / 4
		trainPart, testPart := shuffled[:split], shuffled[split:]

		for r := 0; r < perClass; r++ {
			row := c*perClass + r
			copy(trainX.RawRowView(row), features.Project(trainPart[r%len(trainPart)], res.SelectedIndices))
			trainY = append(trainY, c)
		}
		for _, v := range testPart {
			testData = append(testData, features.Project(v, res.SelectedIndices)...)
			testY = append(testY, c)
		}
	}

	res.TrainRows = classes * perClass
	res.TestRows = len(testY)
	logf("training %d classes on %d rows, %d test rows, %d cols", classes, res.TrainRows, res.TestRows, cols)

	if err := in.Model.Train(trainX, trainY, classes); err != nil {
		return res, fmt.Errorf("training: fit: %w", err)
	}

	confusion, accuracy := mat.NewDense(classes, classes, nil), 0.0
	if res.TestRows > 0 {
		var err error
		confusion, accuracy, err = in.Model.Evaluate(mat.NewDense(res.TestRows, cols, testData), testY)
		if err != nil {
			return res, fmt.Errorf("training: evaluate: %w", err)
		}
	}
	res.Model = in.Model
	res.Confusion = confusion
	res.Accuracy = accuracy
	res.Warnings = append(res.Warnings, errorRateWarnings(res.Labels, confusion)...)
	logf("accuracy %.4f, %d warnings", accuracy, len(res.Warnings))
	return res, nil
}

func errorRateWarnings(labels []string, confusion *mat.Dense) []string {
	var out []string
	for i, rate := range ErrorRates(confusion) {
		if i < len(labels) && rate > ErrorRateWarning {
			out = append(out, fmt.Sprintf("%s: high error rate %.2f%%", labels[i], rate))
		}
	}
	return out
}

// ErrorRates returns the per-class misclassification percentage of a square
// confusion matrix. Classes without test rows report 0.
func ErrorRates(confusion mat.Matrix) []float64 {
	if confusion == nil {
		return nil
	}
	n, _ := confusion.Dims()
	rates := make([]float64, n)
	for i := 0; i < n; i++ {
		var total float64
		for j := 0; j < n; j++ {
			total += confusion.At(i, j)
		}
		if total == 0 {
			continue
		}
		rates[i] = 100 * (1 - confusion.At(i, i)/total)
	}
	return rates
}

// Package classifier defines the model contract used by training and
// prediction, and provides a softmax regression implementation on gonum.
package classifier

import (
	"encoding"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotTrained  = errors.New("classifier: model is not trained")
	ErrDimension   = errors.New("classifier: dimension mismatch")
	ErrBadLabels   = errors.New("classifier: class ids out of range")
	ErrFewClasses  = errors.New("classifier: at least two classes are required")
	ErrNoSolution  = errors.New("classifier: optimisation did not produce a solution")
	ErrBadEncoding = errors.New("classifier: malformed model blob")
)

// Model is a multi-class classifier over fixed-width feature rows.
//
// Predict returns one class id per row as a float; callers round it. An empty
// blob passed to UnmarshalBinary resets the model to the untrained state.
type Model interface {
	Train(x mat.Matrix, y []int, classes int) error
	Predict(x mat.Matrix) ([]float64, error)
	Evaluate(x mat.Matrix, y []int) (*mat.Dense, float64, error)
	Ready() bool

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Shaped is implemented by models that know the feature width and class
// count they were fitted on.
type Shaped interface {
	Cols() int
	Classes() int
}

var _ Shaped = (*Softmax)(nil)

// Factory builds a fresh, untrained model.
type Factory func() Model

// Confusion tallies a classes×classes confusion matrix (rows are true
// classes, columns predicted) and the fraction of correct predictions.
// Predictions are rounded; ones outside [0, classes) count as wrong and are
// left out of the matrix.
func Confusion(classes int, truth []int, predicted []float64) (*mat.Dense, float64, error) {
	if len(truth) != len(predicted) {
		return nil, 0, ErrDimension
	}
	if classes < 1 {
		return nil, 0, ErrFewClasses
	}
	confusion := mat.NewDense(classes, classes, nil)
	correct := 0
	for i, want := range truth {
		if want < 0 || want >= classes {
			return nil, 0, ErrBadLabels
		}
		got := RoundClass(predicted[i])
		if got < 0 || got >= classes {
			continue
		}
		confusion.Set(want, got, confusion.At(want, got)+1)
		if got == want {
			correct++
		}
	}
	if len(truth) == 0 {
		return confusion, 0, nil
	}
	return confusion, float64(correct) / float64(len(truth)), nil
}

// RoundClass maps a continuous prediction to the nearest class id, or -1.
func RoundClass(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return -1
	}
	return int(math.Round(v))
}

package testutil

import (
	"errors"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/expression.report/internal/expression/classifier"
)

var ErrFake = errors.New("testutil: fake model failure")

// FakeModel is a classifier.Model that records its inputs and predicts a
// scripted sequence of class ids.
type FakeModel struct {
	mu sync.Mutex

	TrainErr    error
	Predictions []float64 // consumed in order; the last value repeats
	Blob        []byte    // returned by MarshalBinary when trained

	ready     bool
	trainRows int
	trainCols int
	trainY    []int
	classes   int
	evalRows  int
	predicted int
}

var _ classifier.Model = (*FakeModel)(nil)

// NewFakeModel returns an untrained fake predicting ids in order.
func NewFakeModel(predictions ...float64) *FakeModel {
	return &FakeModel{Predictions: predictions, Blob: []byte("fake-model")}
}

// Factory returns a classifier.Factory that always yields m.
func (m *FakeModel) Factory() classifier.Factory {
	return func() classifier.Model { return m }
}

func (m *FakeModel) Train(x mat.Matrix, y []int, classes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TrainErr != nil {
		return m.TrainErr
	}
	m.trainRows, m.trainCols = x.Dims()
	m.trainY = append([]int(nil), y...)
	m.classes = classes
	m.ready = true
	return nil
}

func (m *FakeModel) Predict(x mat.Matrix) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return nil, classifier.ErrNotTrained
	}
	rows, _ := x.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = m.next()
	}
	return out, nil
}

func (m *FakeModel) next() float64 {
	if len(m.Predictions) == 0 {
		return 0
	}
	i := m.predicted
	if i >= len(m.Predictions) {
		i = len(m.Predictions) - 1
	}
	m.predicted++
	return m.Predictions[i]
}

// Evaluate reports a perfect classifier over the rows it is given.
func (m *FakeModel) Evaluate(x mat.Matrix, y []int) (*mat.Dense, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return nil, 0, classifier.ErrNotTrained
	}
	m.evalRows, _ = x.Dims()
	predicted := make([]float64, len(y))
	for i, c := range y {
		predicted[i] = float64(c)
	}
	return classifier.Confusion(m.classes, y, predicted)
}

func (m *FakeModel) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *FakeModel) MarshalBinary() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return []byte{}, nil
	}
	return append([]byte(nil), m.Blob...), nil
}

// UnmarshalBinary marks the fake ready for any non-empty blob. Blobs
// starting with "bad" fail.
func (m *FakeModel) UnmarshalBinary(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(data) >= 3 && string(data[:3]) == "bad" {
		return ErrFake
	}
	m.ready = len(data) > 0
	m.Blob = append([]byte(nil), data...)
	return nil
}

// TrainShape returns the rows and columns of the last training matrix.
func (m *FakeModel) TrainShape() (rows, cols int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainRows, m.trainCols
}

// TrainLabels returns the class ids of the last training call.
func (m *FakeModel) TrainLabels() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.trainY...)
}

// EvalRows returns the row count of the last Evaluate call.
func (m *FakeModel) EvalRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evalRows
}

// Classes returns the class count of the last training call.
func (m *FakeModel) Classes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes
}

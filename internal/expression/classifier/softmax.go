package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/expression.report/internal/protoutil"
)

const (
	DefaultL2            = 1e-3
	DefaultMaxIterations = 200

	// minScale replaces the spread of constant columns during standardisation.
	minScale = 1e-9
)

// Options configures a Softmax model.
type Options struct {
	L2            float64 // ridge penalty on non-bias weights
	MaxIterations int     // L-BFGS major iterations
}

// Softmax is multinomial logistic regression on standardised features,
// fitted with L-BFGS.
type Softmax struct {
	opts Options

	classes int
	cols    int
	mean    []float64
	scale   []float64
	weights *mat.Dense // classes × (cols+1), last column is the bias
}

// NewSoftmax returns an untrained model. Zero option values take defaults.
func NewSoftmax(opts Options) *Softmax {
	if opts.L2 <= 0 {
		opts.L2 = DefaultL2
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Softmax{opts: opts}
}

// SoftmaxFactory returns a Factory producing models with opts.
func SoftmaxFactory(opts Options) Factory {
	return func() Model { return NewSoftmax(opts) }
}

func (m *Softmax) Ready() bool { return m.weights != nil }

// Classes returns the number of classes the model was trained on.
func (m *Softmax) Classes() int { return m.classes }

// Cols returns the expected feature width.
func (m *Softmax) Cols() int { return m.cols }

// Train fits the model. On error the previous fit is kept.
func (m *Softmax) Train(x mat.Matrix, y []int, classes int) error {
	rows, cols := x.Dims()
	if rows != len(y) || rows == 0 || cols == 0 {
		return fmt.Errorf("%w: %d rows, %d labels, %d cols", ErrDimension, rows, len(y), cols)
	}
	if classes < 2 {
		return ErrFewClasses
	}
	for _, c := range y {
		if c < 0 || c >= classes {
			return fmt.Errorf("%w: %d", ErrBadLabels, c)
		}
	}

	mean := make([]float64, cols)
	scale := make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mu, sd := stat.MeanStdDev(col, nil)
		if sd < minScale || math.IsNaN(sd) {
			sd = 1
		}
		mean[j], scale[j] = mu, sd
	}
	xs := design(x, mean, scale)

	width := cols + 1
	obj := objective{xs: xs, y: y, classes: classes, width: width, l2: m.opts.L2}
	problem := optimize.Problem{
		Func: func(w []float64) float64 { return obj.eval(w, nil) },
		Grad: func(grad, w []float64) { obj.eval(w, grad) },
	}
	settings := &optimize.Settings{
		MajorIterations:   m.opts.MaxIterations,
		GradientThreshold: 1e-6,
	}
	init := make([]float64, classes*width)
	res, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if res == nil {
		if err == nil {
			err = ErrNoSolution
		}
		return fmt.Errorf("classifier: minimise: %w", err)
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNoSolution
		}
	}

	m.classes = classes
	m.cols = cols
	m.mean = mean
	m.scale = scale
	m.weights = mat.NewDense(classes, width, append([]float64(nil), res.X...))
	return nil
}

// Predict returns the most probable class id for each row.
func (m *Softmax) Predict(x mat.Matrix) ([]float64, error) {
	if !m.Ready() {
		return nil, ErrNotTrained
	}
	rows, cols := x.Dims()
	if cols != m.cols {
		return nil, fmt.Errorf("%w: got %d cols, want %d", ErrDimension, cols, m.cols)
	}
	var scores mat.Dense
	scores.Mul(design(x, m.mean, m.scale), m.weights.T())
	out := make([]float64, rows)
	for i := range out {
		out[i] = float64(floats.MaxIdx(scores.RawRowView(i)))
	}
	return out, nil
}

// Probabilities returns the per-class probabilities of a single row.
func (m *Softmax) Probabilities(v []float64) ([]float64, error) {
	if !m.Ready() {
		return nil, ErrNotTrained
	}
	if len(v) != m.cols {
		return nil, fmt.Errorf("%w: got %d cols, want %d", ErrDimension, len(v), m.cols)
	}
	xs := design(mat.NewDense(1, len(v), v), m.mean, m.scale)
	p := make([]float64, m.classes)
	for k := range p {
		p[k] = floats.Dot(xs.RawRowView(0), m.weights.RawRowView(k))
	}
	lse := floats.LogSumExp(p)
	for k := range p {
		p[k] = math.Exp(p[k] - lse)
	}
	return p, nil
}

func (m *Softmax) Evaluate(x mat.Matrix, y []int) (*mat.Dense, float64, error) {
	predicted, err := m.Predict(x)
	if err != nil {
		return nil, 0, err
	}
	return Confusion(m.classes, y, predicted)
}

// design standardises x and appends a bias column of ones.
func design(x mat.Matrix, mean, scale []float64) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols+1, nil)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] = (x.At(i, j) - mean[j]) / scale[j]
		}
		row[cols] = 1
	}
	return out
}

// objective is the mean cross-entropy plus an L2 penalty on non-bias weights.
type objective struct {
	xs      *mat.Dense
	y       []int
	classes int
	width   int
	l2      float64
}

func (o objective) eval(w, grad []float64) float64 {
	n, _ := o.xs.Dims()
	weights := mat.NewDense(o.classes, o.width, w)

	var scores mat.Dense
	scores.Mul(o.xs, weights.T())

	loss := 0.0
	for i := 0; i < n; i++ {
		row := scores.RawRowView(i)
		lse := floats.LogSumExp(row)
		loss += lse - row[o.y[i]]
		for k := range row {
			row[k] = math.Exp(row[k] - lse)
		}
		row[o.y[i]]--
	}
	loss /= float64(n)

	for k := 0; k < o.classes; k++ {
		for j := 0; j < o.width-1; j++ {
			v := w[k*o.width+j]
			loss += 0.5 * o.l2 * v * v
		}
	}

	if grad != nil {
		g := mat.NewDense(o.classes, o.width, grad)
		g.Mul(scores.T(), o.xs)
		g.Scale(1/float64(n), g)
		for k := 0; k < o.classes; k++ {
			for j := 0; j < o.width-1; j++ {
				grad[k*o.width+j] += o.l2 * w[k*o.width+j]
			}
		}
	}
	return loss
}

// Blob field numbers.
const (
	fieldClasses protowire.Number = 1
	fieldCols    protowire.Number = 2
	fieldMean    protowire.Number = 3
	fieldScale   protowire.Number = 4
	fieldWeights protowire.Number = 5
)

// MarshalBinary encodes the fitted parameters. An untrained model encodes to
// an empty blob.
func (m *Softmax) MarshalBinary() ([]byte, error) {
	if !m.Ready() {
		return []byte{}, nil
	}
	weights, err := m.weights.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("classifier: marshal weights: %w", err)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldClasses, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.classes))
	b = protowire.AppendTag(b, fieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.cols))
	b = protoutil.AppendPackedDoubles(b, fieldMean, m.mean)
	b = protoutil.AppendPackedDoubles(b, fieldScale, m.scale)
	b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
	b = protowire.AppendBytes(b, weights)
	return b, nil
}

// UnmarshalBinary restores a model written by MarshalBinary. Options are not
// part of the blob and keep their current values.
func (m *Softmax) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*m = Softmax{opts: m.opts}
		return nil
	}
	fields, err := protoutil.Fields(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	var (
		classes, cols int
		mean, scale   []float64
		weights       *mat.Dense
	)
	for _, f := range fields {
		switch f.Num {
		case fieldClasses:
			classes = int(f.Varint)
		case fieldCols:
			cols = int(f.Varint)
		case fieldMean:
			mean, err = protoutil.ParsePackedDoubles(f.Bytes)
		case fieldScale:
			scale, err = protoutil.ParsePackedDoubles(f.Bytes)
		case fieldWeights:
			var w mat.Dense
			if err = w.UnmarshalBinary(f.Bytes); err == nil {
				weights = &w
			}
		}
		if err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrBadEncoding, f.Num, err)
		}
	}
	if classes < 2 || cols < 1 || len(mean) != cols || len(scale) != cols || weights == nil {
		return fmt.Errorf("%w: incomplete parameters", ErrBadEncoding)
	}
	if r, c := weights.Dims(); r != classes || c != cols+1 {
		return fmt.Errorf("%w: weights are %dx%d", ErrBadEncoding, r, c)
	}
	for _, s := range scale {
		if s == 0 {
			return fmt.Errorf("%w: zero scale", ErrBadEncoding)
		}
	}
	m.classes, m.cols, m.mean, m.scale, m.weights = classes, cols, mean, scale, weights
	return nil
}

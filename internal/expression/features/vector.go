// Package features turns tracking frames into fixed-length numeric feature
// vectors and selects the columns used for training and prediction.
package features

import "github.com/banshee-data/expression.report/internal/tracking"

const (
	// ColsBase is the scalar block at the start of every vector: eye
	// openness (2), translation (3), quaternion (4) and Euler angles (3).
	ColsBase = 12
	// ColsFull is the length of a full feature vector.
	ColsFull = ColsBase + tracking.LandmarkCount*3
)

// Vector is one feature vector of length ColsFull.
type Vector []float64

// Build copies frame values into a new feature vector in the fixed order
// eye right, eye left, translation, quaternion, Euler, then each landmark's
// x, y, z.
func Build(f *tracking.Frame) Vector {
	v := make(Vector, ColsFull)
	v[0] = f.EyeRight
	v[1] = f.EyeLeft
	v[2] = f.Translation.X
	v[3] = f.Translation.Y
	v[4] = f.Translation.Z
	v[5] = f.Rotation.X
	v[6] = f.Rotation.Y
	v[7] = f.Rotation.Z
	v[8] = f.Rotation.W
	v[9] = f.Euler.X
	v[10] = f.Euler.Y
	v[11] = f.Euler.Z
	for i, p := range f.Points3D {
		off := ColsBase + 3*i
		v[off] = p.X
		v[off+1] = p.Y
		v[off+2] = p.Z
	}
	return v
}

// Project returns the values of v at indices.
func Project(v Vector, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = v[idx]
	}
	return out
}

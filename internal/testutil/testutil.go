// Package testutil provides shared test fixtures: synthetic tracking frames,
// class-shaped feature vectors and a recording fake classifier.
package testutil

import (
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/tracking"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test HTTP request with a JSON body.
func NewJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Rand returns a deterministic generator for tests.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Frame builds a frame for faceID at ts whose landmarks are displaced
// according to class, so that frames of different classes are separable.
func Frame(faceID int, ts float64, class int) tracking.Frame {
	f := tracking.Frame{
		FaceID:    faceID,
		Timestamp: ts,
		Width:     640,
		Height:    480,
		EyeRight:  1,
		EyeLeft:   1,
		Got3D:     true,
		Rotation:  tracking.Quaternion{W: 1},
	}
	for i := range f.Points3D {
		f.Points3D[i] = tracking.Vec3{X: float64(i), Y: float64(i % 7), Z: 0.25}
	}
	// Open the mouth and close the eyes in proportion to class.
	for _, p := range features.GroupLipLower.Points() {
		f.Points3D[p].Y += float64(class)
	}
	f.EyeRight -= 0.3 * float64(class)
	f.EyeLeft -= 0.3 * float64(class)
	return f
}

// ClassVector returns a feature vector centred on class with Gaussian
// jitter of the given spread.
func ClassVector(rng *rand.Rand, class int, spread float64) features.Vector {
	f := Frame(0, 0, class)
	v := features.Build(&f)
	for i := range v {
		v[i] += rng.NormFloat64() * spread
	}
	return v
}

// Filled returns n vectors with every value set to x.
func Filled(n int, x float64) []features.Vector {
	out := make([]features.Vector, n)
	for i := range out {
		v := make(features.Vector, features.ColsFull)
		for j := range v {
			v[j] = x
		}
		out[i] = v
	}
	return out
}

// MapSamples is an in-memory label → samples source.
type MapSamples map[string][]features.Vector

// Labels returns the labels sorted ascending.
func (m MapSamples) Labels() []string {
	out := make([]string, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Samples returns the samples for label.
func (m MapSamples) Samples(label string) []features.Vector {
	return m[label]
}

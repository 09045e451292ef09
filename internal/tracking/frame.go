// Package tracking holds the face tracking records produced by the upstream
// landmark tracker and the thread-safe buffer the host polls once per tick.
package tracking

import (
	"sort"
	"sync"
)

// LandmarkCount is the number of 3D landmarks used for expression features.
// The tracker emits 70 3D points; the last four (pupils and eye centres) are
// not part of the 66-point face layout.
const LandmarkCount = 66

// Vec3 is a 3D position or Euler rotation.
type Vec3 struct {
	X, Y, Z float64
}

// Quaternion is a rotation in x, y, z, w order.
type Quaternion struct {
	X, Y, Z, W float64
}

// Frame is one tracking sample for a single face.
type Frame struct {
	FaceID    int
	Timestamp float64 // seconds, strictly increasing per face

	Width, Height float64 // camera resolution the frame was tracked at

	EyeRight float64 // right eye openness
	EyeLeft  float64 // left eye openness

	Got3D    bool
	FitError float64

	Translation Vec3
	Rotation    Quaternion
	Euler       Vec3

	Points3D [LandmarkCount]Vec3
}

// Source supplies the face frames available for the current tick.
type Source interface {
	Frames() []Frame
}

// Buffer keeps the most recent frame per face. Network readers call Put from
// their own goroutine; the tick loop calls Frames.
type Buffer struct {
	mu     sync.Mutex
	latest map[int]Frame
}

// NewBuffer creates an empty frame buffer.
func NewBuffer() *Buffer {
	return &Buffer{latest: make(map[int]Frame)}
}

// Put stores frames, keeping only the newest per face. Out-of-order frames
// are discarded.
func (b *Buffer) Put(frames ...Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range frames {
		if prev, ok := b.latest[f.FaceID]; ok && f.Timestamp <= prev.Timestamp {
			continue
		}
		b.latest[f.FaceID] = f
	}
}

// Frames returns a copy of the newest frame for every face, ordered by face id.
func (b *Buffer) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Frame, 0, len(b.latest))
	for _, f := range b.latest {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FaceID < out[j].FaceID })
	return out
}

// Reset forgets every buffered frame.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.latest = make(map[int]Frame)
	b.mu.Unlock()
}

// Find returns the frame for faceID from frames.
func Find(frames []Frame, faceID int) (Frame, bool) {
	for _, f := range frames {
		if f.FaceID == faceID {
			return f, true
		}
	}
	return Frame{}, false
}

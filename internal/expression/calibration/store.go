// Package calibration stores the per-label feature vectors captured while the
// user holds each expression.
package calibration

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/expression.report/internal/expression/features"
)

const (
	// MaxSamples bounds every label's buffer.
	MaxSamples = 1000
	// MaxLabels bounds the number of distinct labels.
	MaxLabels = 10
)

var (
	ErrEmptyLabel = errors.New("calibration: empty label")
	ErrLabelLimit = errors.New("calibration: label limit reached")
	ErrStaleFrame = errors.New("calibration: frame is not newer than the last capture")
	ErrBufferFull = errors.New("calibration: sample buffer is full")
	ErrBadVector  = errors.New("calibration: feature vector has the wrong length")
)

// Cadence controls how often Capture actually stores a sample. A skip of N
// stores one out of every N accepted calls; values below 2 store every call.
type Cadence struct {
	RecordingSkip     int
	OverRecordingSkip int
	OverRecording     bool // keep refining full buffers by reservoir overwrite
}

// LabelSamples is one label's buffer, used for persistence.
type LabelSamples struct {
	Label   string
	Samples []features.Vector
}

// Store holds bounded per-label sample buffers. It is not safe for
// concurrent use.
type Store struct {
	Cadence Cadence

	labels *labelMap
	rng    *rand.Rand

	lastTimestamp float64
	hasTimestamp  bool
	calls         int
}

// NewStore creates an empty store. rng is used for reservoir slot picks and
// is normally shared with the owning engine.
func NewStore(rng *rand.Rand, cadence Cadence) *Store {
	return &Store{
		Cadence: cadence,
		labels:  newLabelMap(MaxLabels),
		rng:     rng,
	}
}

// Capture records v under label if the cadence allows it. Calls skipped by
// the cadence return nil without changing the buffers.
func (s *Store) Capture(label string, v features.Vector, timestamp float64) error {
	if label == "" {
		return ErrEmptyLabel
	}
	if !s.labels.canInsert(label) {
		return ErrLabelLimit
	}
	if len(v) != features.ColsFull {
		return fmt.Errorf("%w: %d", ErrBadVector, len(v))
	}
	if s.hasTimestamp && timestamp <= s.lastTimestamp {
		return ErrStaleFrame
	}

	buf := s.labels.get(label)
	full := len(buf) >= MaxSamples
	if full && !s.Cadence.OverRecording {
		return ErrBufferFull
	}
	s.lastTimestamp = timestamp
	s.hasTimestamp = true

	skip := s.Cadence.RecordingSkip
	if full {
		skip = s.Cadence.OverRecordingSkip
	}
	s.calls++
	if skip > 1 && (s.calls-1)%skip != 0 {
		return nil
	}

	sample := append(features.Vector(nil), v...)
	if full {
		buf[s.rng.IntN(len(buf))] = sample
		return nil
	}
	return s.labels.put(label, append(buf, sample))
}

// Clear removes label and its samples. Unknown labels are ignored.
func (s *Store) Clear(label string) bool {
	return s.labels.remove(label)
}

// Reset empties the store and forgets the last capture timestamp.
func (s *Store) Reset() {
	s.labels = newLabelMap(MaxLabels)
	s.lastTimestamp = 0
	s.hasTimestamp = false
	s.calls = 0
}

// Labels returns every label sorted ascending.
func (s *Store) Labels() []string {
	return s.labels.sorted()
}

// Len returns the number of labels.
func (s *Store) Len() int {
	return s.labels.len()
}

// Count returns the number of samples stored for label.
func (s *Store) Count(label string) int {
	return len(s.labels.get(label))
}

// Samples returns label's samples in insertion order. The slice is a copy;
// the vectors are shared and must not be modified.
func (s *Store) Samples(label string) []features.Vector {
	return append([]features.Vector(nil), s.labels.get(label)...)
}

// PercentRecorded returns 100 * count / MaxSamples for label.
func (s *Store) PercentRecorded(label string) float64 {
	return 100 * float64(s.Count(label)) / float64(MaxSamples)
}

// Export returns every buffer in label insertion order.
func (s *Store) Export() []LabelSamples {
	out := make([]LabelSamples, 0, s.labels.len())
	for _, label := range s.labels.inserted() {
		out = append(out, LabelSamples{Label: label, Samples: s.Samples(label)})
	}
	return out
}

// Validate checks that lists could be loaded into a store.
func Validate(lists []LabelSamples) error {
	if len(lists) > MaxLabels {
		return fmt.Errorf("%w: %d labels", ErrLabelLimit, len(lists))
	}
	seen := make(map[string]bool, len(lists))
	for _, ls := range lists {
		if ls.Label == "" {
			return ErrEmptyLabel
		}
		if seen[ls.Label] {
			return fmt.Errorf("calibration: duplicate label %q", ls.Label)
		}
		seen[ls.Label] = true
		if len(ls.Samples) > MaxSamples {
			return fmt.Errorf("calibration: label %q has %d samples (max %d)", ls.Label, len(ls.Samples), MaxSamples)
		}
		for i, v := range ls.Samples {
			if len(v) != features.ColsFull {
				return fmt.Errorf("%w: label %q sample %d has %d values", ErrBadVector, ls.Label, i, len(v))
			}
		}
	}
	return nil
}

// Replace swaps every buffer for lists. Nothing changes unless lists is valid.
// The last capture timestamp is kept.
func (s *Store) Replace(lists []LabelSamples) error {
	if err := Validate(lists); err != nil {
		return err
	}
	m := newLabelMap(MaxLabels)
	for _, ls := range lists {
		buf := make([]features.Vector, len(ls.Samples))
		for i, v := range ls.Samples {
			buf[i] = append(features.Vector(nil), v...)
		}
		if err := m.put(ls.Label, buf); err != nil {
			return err
		}
	}
	s.labels = m
	return nil
}

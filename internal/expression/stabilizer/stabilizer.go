// Package stabilizer debounces raw per-frame class predictions so that a
// single misdetection cannot change the visible expression.
package stabilizer

import "time"

// None is the class id before anything has been committed.
const None = -1

// Stabilizer commits a class id once it has been predicted more than
// Threshold times in a row.
type Stabilizer struct {
	Threshold int

	lastRaw     int
	run         int
	committed   int
	committedAt time.Time
}

// New returns a stabilizer with nothing committed.
func New(threshold int) *Stabilizer {
	s := &Stabilizer{Threshold: threshold}
	s.Reset()
	return s
}

// Reset forgets the run and the committed id.
func (s *Stabilizer) Reset() {
	s.lastRaw = None
	s.run = 0
	s.committed = None
	s.committedAt = time.Time{}
}

// Observe records one raw prediction taken at now and reports whether the
// committed id changed. Every frame past the threshold recommits the id and
// moves the commit time to now.
func (s *Stabilizer) Observe(raw int, now time.Time) bool {
	if raw == s.lastRaw {
		s.run++
	} else {
		s.lastRaw = raw
		s.run = 1
	}
	if s.run <= s.Threshold {
		return false
	}
	changed := raw != s.committed
	s.committed = raw
	s.committedAt = now
	return changed
}

// Committed returns the committed id and when it was committed. The id is
// None until the first commit.
func (s *Stabilizer) Committed() (int, time.Time) {
	return s.committed, s.committedAt
}

// Run returns the raw id currently repeating and its run length.
func (s *Stabilizer) Run() (raw, length int) {
	return s.lastRaw, s.run
}

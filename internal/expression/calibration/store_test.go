package calibration

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/expression.report/internal/expression/features"
)

func vec(x float64) features.Vector {
	v := make(features.Vector, features.ColsFull)
	for i := range v {
		v[i] = x
	}
	return v
}

func newTestStore(c Cadence) *Store {
	return NewStore(rand.New(rand.NewPCG(1, 2)), c)
}

func TestCapture_Basic(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{})

	require.NoError(t, s.Capture("smile", vec(1), 1))
	require.NoError(t, s.Capture("smile", vec(2), 2))
	require.NoError(t, s.Capture("frown", vec(3), 3))

	assert.Equal(t, []string{"frown", "smile"}, s.Labels())
	assert.Equal(t, 2, s.Count("smile"))
	assert.Equal(t, 1, s.Count("frown"))
	assert.Equal(t, 0, s.Count("missing"))
	assert.InDelta(t, 0.2, s.PercentRecorded("smile"), 1e-12)
}

func TestCapture_CopiesVector(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{})
	v := vec(1)
	require.NoError(t, s.Capture("a", v, 1))
	v[0] = 99
	assert.Equal(t, 1.0, s.Samples("a")[0][0])
}

func TestCapture_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("empty label", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(Cadence{})
		assert.ErrorIs(t, s.Capture("", vec(1), 1), ErrEmptyLabel)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(Cadence{})
		require.NoError(t, s.Capture("a", vec(1), 5))
		assert.ErrorIs(t, s.Capture("a", vec(1), 5), ErrStaleFrame)
		assert.ErrorIs(t, s.Capture("b", vec(1), 4), ErrStaleFrame)
		assert.Equal(t, 1, s.Count("a"))
		assert.False(t, s.labels.has("b"))
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(Cadence{})
		assert.ErrorIs(t, s.Capture("a", features.Vector{1, 2}, 1), ErrBadVector)
	})

	t.Run("label limit", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(Cadence{})
		for i := 0; i < MaxLabels; i++ {
			require.NoError(t, s.Capture(fmt.Sprintf("l%d", i), vec(1), float64(i+1)))
		}
		assert.ErrorIs(t, s.Capture("eleventh", vec(1), 100), ErrLabelLimit)
		assert.Equal(t, MaxLabels, s.Len())
		// Existing labels still accept samples.
		require.NoError(t, s.Capture("l0", vec(1), 101))
		assert.Equal(t, 2, s.Count("l0"))
	})
}

func TestCapture_FullWithoutOverRecording(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{})
	for i := 0; i < MaxSamples; i++ {
		require.NoError(t, s.Capture("a", vec(float64(i)), float64(i+1)))
	}
	assert.InDelta(t, 100, s.PercentRecorded("a"), 1e-12)
	err := s.Capture("a", vec(-1), MaxSamples+1)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, MaxSamples, s.Count("a"))

	// the refused frame does not advance the stale-frame guard
	require.NoError(t, s.Capture("b", vec(-1), MaxSamples+1))
	assert.Equal(t, 1, s.Count("b"))
}

func TestCapture_ReservoirReplacesOne(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{OverRecording: true})
	for i := 0; i < MaxSamples; i++ {
		require.NoError(t, s.Capture("a", vec(float64(i)), float64(i+1)))
	}

	for round := 0; round < 20; round++ {
		before := s.Samples("a")
		marker := float64(-1 - round)
		require.NoError(t, s.Capture("a", vec(marker), float64(MaxSamples+1+round)))
		after := s.Samples("a")
		require.Len(t, after, MaxSamples)

		changed := 0
		for i := range after {
			if after[i][0] != before[i][0] {
				changed++
				assert.Equal(t, marker, after[i][0])
			}
		}
		assert.Equal(t, 1, changed, "round %d", round)
	}
}

func TestCapture_Cadence(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{RecordingSkip: 3})
	for i := 0; i < 9; i++ {
		require.NoError(t, s.Capture("a", vec(float64(i)), float64(i+1)))
	}
	require.Equal(t, 3, s.Count("a"))
	got := s.Samples("a")
	assert.Equal(t, 0.0, got[0][0])
	assert.Equal(t, 3.0, got[1][0])
	assert.Equal(t, 6.0, got[2][0])
}

func TestCapture_OverRecordingCadence(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{OverRecording: true, OverRecordingSkip: 4})
	ts := 1.0
	for i := 0; i < MaxSamples; i++ {
		require.NoError(t, s.Capture("a", vec(0), ts))
		ts++
	}
	// The counter keeps running across the switch to the over-recording
	// cadence, so count replacements over a whole number of periods.
	replaced := 0
	for i := 0; i < 40; i++ {
		before := s.Samples("a")
		require.NoError(t, s.Capture("a", vec(1), ts))
		ts++
		after := s.Samples("a")
		for j := range after {
			if after[j][0] != before[j][0] {
				replaced++
			}
		}
	}
	// Reservoir picks may land on a slot already holding the marker, so
	// replacements visible in the data are at most one per period.
	assert.LessOrEqual(t, replaced, 10)
	assert.Positive(t, replaced)
}

func TestClearAndReset(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{})
	require.NoError(t, s.Capture("a", vec(1), 1))
	require.NoError(t, s.Capture("b", vec(1), 2))

	assert.True(t, s.Clear("a"))
	assert.False(t, s.Clear("a"))
	assert.Equal(t, []string{"b"}, s.Labels())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	// Reset forgets the timestamp, so an older frame is accepted again.
	require.NoError(t, s.Capture("a", vec(1), 1))
}

func TestExportReplace(t *testing.T) {
	t.Parallel()
	s := newTestStore(Cadence{})
	require.NoError(t, s.Capture("zeta", vec(1), 1))
	require.NoError(t, s.Capture("alpha", vec(2), 2))

	exported := s.Export()
	require.Len(t, exported, 2)
	assert.Equal(t, "zeta", exported[0].Label)
	assert.Equal(t, "alpha", exported[1].Label)

	other := newTestStore(Cadence{})
	require.NoError(t, other.Replace(exported))
	assert.Equal(t, []string{"alpha", "zeta"}, other.Labels())
	assert.Equal(t, 2.0, other.Samples("alpha")[0][0])
}

func TestReplace_InvalidLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	tooMany := make([]LabelSamples, MaxLabels+1)
	for i := range tooMany {
		tooMany[i] = LabelSamples{Label: fmt.Sprintf("l%d", i)}
	}
	tooLong := []LabelSamples{{Label: "a", Samples: make([]features.Vector, MaxSamples+1)}}
	for i := range tooLong[0].Samples {
		tooLong[0].Samples[i] = vec(0)
	}

	cases := []struct {
		name  string
		lists []LabelSamples
	}{
		{"too many labels", tooMany},
		{"too many samples", tooLong},
		{"empty label", []LabelSamples{{Label: ""}}},
		{"duplicate label", []LabelSamples{{Label: "a"}, {Label: "a"}}},
		{"short vector", []LabelSamples{{Label: "a", Samples: []features.Vector{{1}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(Cadence{})
			require.NoError(t, s.Capture("keep", vec(1), 1))
			assert.Error(t, s.Replace(tc.lists))
			assert.Equal(t, []string{"keep"}, s.Labels())
		})
	}
}

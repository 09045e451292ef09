package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/expression.report/internal/expression/calibration"
	"github.com/banshee-data/expression.report/internal/expression/features"
)

func vectors(n int, x float64) []features.Vector {
	out := make([]features.Vector, n)
	for i := range out {
		v := make(features.Vector, features.ColsFull)
		for j := range v {
			v[j] = x + float64(i)*0.001 + float64(j)
		}
		out[i] = v
	}
	return out
}

func sampleSnapshot() *Snapshot {
	sel := features.Selection{Contour: true, Nose: true, LipLower: true}
	return &Snapshot{
		Samples: []calibration.LabelSamples{
			{Label: "smile", Samples: vectors(3, 1)},
			{Label: "neutral", Samples: vectors(2, -1)},
		},
		Model:           []byte{1, 2, 3, 4},
		Labels:          []string{"neutral", "smile"},
		SelectedIndices: features.SelectIndices(sel),
		Selection:       sel,
	}
}

func gz(t *testing.T, msg []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(msg)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleSnapshot()
	data, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_EmptyState(t *testing.T) {
	t.Parallel()

	want := &Snapshot{SelectedIndices: features.NaturalIndices(), Selection: features.AllSelected()}
	data, err := Encode(want)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got.Samples)
	assert.Empty(t, got.Labels)
	assert.Empty(t, got.Model)
	assert.Equal(t, want.SelectedIndices, got.SelectedIndices)
	assert.Equal(t, want.Selection, got.Selection)
}

func TestDecode_LegacyDefaults(t *testing.T) {
	t.Parallel()

	for _, version := range []int{1, 2} {
		src := sampleSnapshot()
		data, err := encodeVersion(src, version)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, features.AllSelected(), got.Selection, "version %d", version)
		if version == 1 {
			assert.Equal(t, features.NaturalIndices(), got.SelectedIndices)
			assert.Len(t, got.SelectedIndices, features.ColsFull)
		} else {
			assert.Equal(t, src.SelectedIndices, got.SelectedIndices)
		}
		assert.Equal(t, src.Labels, got.Labels)
		assert.Equal(t, src.Samples, got.Samples)
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	valid, err := Encode(sampleSnapshot())
	require.NoError(t, err)

	withVersion := func(v uint64, rest ...byte) []byte {
		b := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
		return append(b, rest...)
	}
	mutate := func(f func(*Snapshot)) []byte {
		s := sampleSnapshot()
		f(s)
		data, err := Encode(s)
		require.NoError(t, err)
		return data
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not gzip", []byte("hello world")},
		{"truncated gzip", valid[:len(valid)/2]},
		{"garbage message", gz(t, []byte{0xff, 0xff, 0xff})},
		{"missing version", gz(t, nil)},
		{"future version", gz(t, withVersion(Version+1))},
		{"wrong wire type", gz(t, protowire.AppendVarint(protowire.AppendTag(withVersion(3), fieldModel, protowire.VarintType), 1))},
		{"short vector", mutate(func(s *Snapshot) { s.Samples[0].Samples[0] = s.Samples[0].Samples[0][:10] })},
		{"empty label", mutate(func(s *Snapshot) { s.Samples[0].Label = "" })},
		{"bad indices", mutate(func(s *Snapshot) { s.SelectedIndices = []int{0, 1, 2} })},
		{"unsorted labels", mutate(func(s *Snapshot) { s.Labels = []string{"smile", "neutral"} })},
		{"single label", mutate(func(s *Snapshot) { s.Labels = []string{"smile"} })},
		{"labels without model", mutate(func(s *Snapshot) { s.Model = nil })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tc.data)
			assert.ErrorIs(t, err, ErrFormat)
			assert.Nil(t, got)
		})
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	var msg []byte
	msg = protowire.AppendTag(msg, fieldVersion, protowire.VarintType)
	msg = protowire.AppendVarint(msg, Version)
	msg = protowire.AppendTag(msg, 99, protowire.Fixed32Type)
	msg = protowire.AppendFixed32(msg, 1)
	msg = appendNaturalIndices(msg)

	got, err := Decode(gz(t, msg))
	require.NoError(t, err)
	assert.Equal(t, features.NaturalIndices(), got.SelectedIndices)
	assert.Equal(t, features.AllSelected(), got.Selection)
}

func appendNaturalIndices(msg []byte) []byte {
	var payload []byte
	for _, i := range features.NaturalIndices() {
		payload = protowire.AppendVarint(payload, uint64(i))
	}
	msg = protowire.AppendTag(msg, fieldIndices, protowire.BytesType)
	return protowire.AppendBytes(msg, payload)
}

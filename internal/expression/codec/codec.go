// Package codec encodes the complete engine state into a single gzip
// compressed protobuf-wire buffer and decodes it back.
//
// Message layout (field numbers):
//
//	1  version            varint
//	2  label samples      repeated message { 1 label string; 2 vector packed double (repeated) }
//	3  model blob         bytes, opaque to the codec
//	4  class labels       repeated string
//	5  selected indices   packed varint (version 2+)
//	6  feature selection  message { 1..8 bool } (version 3+)
//
// Older buffers decode with all indices in natural order and all point
// groups enabled.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/expression.report/internal/expression/calibration"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/protoutil"
)

const (
	// Version is written by Encode.
	Version = 3

	versionSamplesOnly = 1
	versionIndices     = 2

	// maxDecoded bounds the decompressed size of a buffer.
	maxDecoded = 64 << 20
)

const (
	fieldVersion   protowire.Number = 1
	fieldSamples   protowire.Number = 2
	fieldModel     protowire.Number = 3
	fieldLabels    protowire.Number = 4
	fieldIndices   protowire.Number = 5
	fieldSelection protowire.Number = 6

	sampleLabel  protowire.Number = 1
	sampleVector protowire.Number = 2
)

// ErrFormat wraps every decode failure.
var ErrFormat = errors.New("codec: invalid state buffer")

// Snapshot is the persisted engine state.
type Snapshot struct {
	Samples         []calibration.LabelSamples
	Model           []byte
	Labels          []string
	SelectedIndices []int
	Selection       features.Selection
}

// Encode serialises s at the current Version.
func Encode(s *Snapshot) ([]byte, error) {
	return encodeVersion(s, Version)
}

func encodeVersion(s *Snapshot, version int) ([]byte, error) {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldVersion, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(version))
	for _, ls := range s.Samples {
		var sub []byte
		sub = protowire.AppendTag(sub, sampleLabel, protowire.BytesType)
		sub = protowire.AppendString(sub, ls.Label)
		for _, v := range ls.Samples {
			sub = protoutil.AppendPackedDoubles(sub, sampleVector, v)
		}
		msg = protowire.AppendTag(msg, fieldSamples, protowire.BytesType)
		msg = protowire.AppendBytes(msg, sub)
	}
	msg = protowire.AppendTag(msg, fieldModel, protowire.BytesType)
	msg = protowire.AppendBytes(msg, s.Model)
	for _, l := range s.Labels {
		msg = protowire.AppendTag(msg, fieldLabels, protowire.BytesType)
		msg = protowire.AppendString(msg, l)
	}
	if version >= versionIndices {
		msg = protoutil.AppendPackedInts(msg, fieldIndices, s.SelectedIndices)
	}
	if version >= Version {
		msg = protowire.AppendTag(msg, fieldSelection, protowire.BytesType)
		msg = protowire.AppendBytes(msg, encodeSelection(s.Selection))
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(msg); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func selectionFlags(s *features.Selection) []*bool {
	return []*bool{
		&s.Contour, &s.BrowRight, &s.BrowLeft, &s.EyeRight,
		&s.EyeLeft, &s.Nose, &s.LipUpper, &s.LipLower,
	}
}

func encodeSelection(s features.Selection) []byte {
	var b []byte
	for i, flag := range selectionFlags(&s) {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*flag))
	}
	return b
}

// Decode parses and validates a buffer written by Encode or by an older
// version of it. It never returns a partially populated snapshot.
func Decode(data []byte) (*Snapshot, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer zr.Close()
	msg, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrFormat, err)
	}
	if len(msg) > maxDecoded {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", ErrFormat, maxDecoded)
	}

	s, version, err := decodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if version < versionIndices || s.SelectedIndices == nil {
		s.SelectedIndices = features.NaturalIndices()
	}
	if err := validate(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return s, nil
}

func decodeMessage(msg []byte) (*Snapshot, int, error) {
	fields, err := protoutil.Fields(msg)
	if err != nil {
		return nil, 0, err
	}
	s := &Snapshot{Selection: features.AllSelected()}
	version := 0
	var indices []int
	var selection *features.Selection
	for _, f := range fields {
		switch f.Num {
		case fieldVersion:
			if err := f.Expect(protowire.VarintType); err != nil {
				return nil, 0, err
			}
			version = int(f.Varint)
		case fieldSamples:
			if err := f.Expect(protowire.BytesType); err != nil {
				return nil, 0, err
			}
			ls, err := decodeSamples(f.Bytes)
			if err != nil {
				return nil, 0, err
			}
			s.Samples = append(s.Samples, ls)
		case fieldModel:
			if err := f.Expect(protowire.BytesType); err != nil {
				return nil, 0, err
			}
			s.Model = append([]byte(nil), f.Bytes...)
		case fieldLabels:
			if err := f.Expect(protowire.BytesType); err != nil {
				return nil, 0, err
			}
			s.Labels = append(s.Labels, string(f.Bytes))
		case fieldIndices:
			if err := f.Expect(protowire.BytesType); err != nil {
				return nil, 0, err
			}
			if indices, err = protoutil.ParsePackedInts(f.Bytes); err != nil {
				return nil, 0, err
			}
		case fieldSelection:
			if err := f.Expect(protowire.BytesType); err != nil {
				return nil, 0, err
			}
			sel, err := decodeSelection(f.Bytes)
			if err != nil {
				return nil, 0, err
			}
			selection = &sel
		}
	}
	if version < versionSamplesOnly || version > Version {
		return nil, 0, fmt.Errorf("unsupported version %d", version)
	}
	if version >= versionIndices {
		s.SelectedIndices = indices
	}
	if version >= Version && selection != nil {
		s.Selection = *selection
	}
	return s, version, nil
}

func decodeSamples(b []byte) (calibration.LabelSamples, error) {
	var ls calibration.LabelSamples
	fields, err := protoutil.Fields(b)
	if err != nil {
		return ls, err
	}
	for _, f := range fields {
		switch f.Num {
		case sampleLabel:
			if err := f.Expect(protowire.BytesType); err != nil {
				return ls, err
			}
			ls.Label = string(f.Bytes)
		case sampleVector:
			if err := f.Expect(protowire.BytesType); err != nil {
				return ls, err
			}
			v, err := protoutil.ParsePackedDoubles(f.Bytes)
			if err != nil {
				return ls, err
			}
			ls.Samples = append(ls.Samples, v)
		}
	}
	return ls, nil
}

func decodeSelection(b []byte) (features.Selection, error) {
	var s features.Selection
	fields, err := protoutil.Fields(b)
	if err != nil {
		return s, err
	}
	flags := selectionFlags(&s)
	for _, f := range fields {
		if f.Num < 1 || int(f.Num) > len(flags) {
			continue
		}
		if err := f.Expect(protowire.VarintType); err != nil {
			return s, err
		}
		*flags[f.Num-1] = protowire.DecodeBool(f.Varint)
	}
	return s, nil
}

func validate(s *Snapshot) error {
	if err := calibration.Validate(s.Samples); err != nil {
		return err
	}
	if !features.ValidIndices(s.SelectedIndices) {
		return fmt.Errorf("selected indices are invalid (%d entries)", len(s.SelectedIndices))
	}
	if len(s.Labels) == 0 {
		return nil
	}
	if len(s.Labels) < 2 || len(s.Labels) > calibration.MaxLabels {
		return fmt.Errorf("%d class labels", len(s.Labels))
	}
	if !sort.StringsAreSorted(s.Labels) {
		return errors.New("class labels are not sorted")
	}
	for i, l := range s.Labels {
		if l == "" || (i > 0 && s.Labels[i-1] == l) {
			return fmt.Errorf("class label %d is empty or repeated", i)
		}
	}
	if len(s.Model) == 0 {
		return errors.New("class labels present without a model")
	}
	return nil
}

// Package protoutil holds protobuf wire helpers for the hand-written message
// layouts used by the state blobs.
package protoutil

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a known field arrives with an unexpected wire type.
var ErrWireType = errors.New("protoutil: unexpected wire type")

// AppendPackedDoubles appends vs as a packed repeated double field.
func AppendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*8))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// ParsePackedDoubles decodes the payload of a packed double field.
func ParsePackedDoubles(payload []byte) ([]float64, error) {
	if len(payload)%8 != 0 {
		return nil, fmt.Errorf("protoutil: packed double payload of %d bytes", len(payload))
	}
	out := make([]float64, 0, len(payload)/8)
	for len(payload) > 0 {
		v, n := protowire.ConsumeFixed64(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		payload = payload[n:]
	}
	return out, nil
}

// AppendPackedInts appends vs as a packed repeated varint field.
func AppendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	var payload []byte
	for _, v := range vs {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// ParsePackedInts decodes the payload of a packed varint field. Values that
// do not fit a non-negative int are rejected.
func ParsePackedInts(payload []byte) ([]int, error) {
	var out []int
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		if v > math.MaxInt32 {
			return nil, fmt.Errorf("protoutil: packed int %d out of range", v)
		}
		out = append(out, int(v))
		payload = payload[n:]
	}
	return out, nil
}

// Field is one decoded top-level field. Varint holds the value for varint
// fields and Bytes the payload for length-delimited ones.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Fields splits a message into its fields, in wire order. Unknown wire types
// are skipped by protowire's own consumer.
func Fields(b []byte) ([]Field, error) {
	var out []Field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			f.Varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			f.Bytes = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
		}
		out = append(out, f)
		b = b[n:]
	}
	return out, nil
}

// Expect returns ErrWireType unless f has wire type typ.
func (f Field) Expect(typ protowire.Type) error {
	if f.Type != typ {
		return fmt.Errorf("%w: field %d has type %d, want %d", ErrWireType, f.Num, f.Type, typ)
	}
	return nil
}

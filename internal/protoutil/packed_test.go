package protoutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestPackedFields(t *testing.T) {
	t.Parallel()

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 3)
	b = AppendPackedDoubles(b, 2, []float64{1.5, -2, math.Inf(1)})
	b = AppendPackedInts(b, 3, []int{0, 11, 209})
	b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	fields, err := Fields(b)
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, uint64(3), fields[0].Varint)
	require.NoError(t, fields[1].Expect(protowire.BytesType))
	ds, err := ParsePackedDoubles(fields[1].Bytes)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, math.Inf(1)}, ds)

	is, err := ParsePackedInts(fields[2].Bytes)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 11, 209}, is)

	assert.Equal(t, protowire.Number(4), fields[3].Num)
	assert.ErrorIs(t, fields[3].Expect(protowire.BytesType), ErrWireType)
}

func TestMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParsePackedDoubles([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = Fields([]byte{0x0a, 0x05, 1})
	assert.Error(t, err, "truncated length-delimited field")

	big := protowire.AppendVarint(nil, math.MaxInt32+1)
	_, err = ParsePackedInts(big)
	assert.Error(t, err)
}

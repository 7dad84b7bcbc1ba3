package scantypes

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedIntRoundTrip(t *testing.T) {
	for _, typ := range []ValueType{Byte, Word, Dword, Qword} {
		v := NewFixedInt(42, typ)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(42))
		require.True(t, v.Matched(buf[:typ.Size()]), "type %v", typ)
	}
}

func TestRangeIntExclude(t *testing.T) {
	v := NewRangeInt(100, 200, Dword, false)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 150)
	require.True(t, v.Matched(buf))

	ve := NewRangeInt(100, 200, Dword, true)
	require.False(t, ve.Matched(buf))
}

func TestFixedFloatEpsilon(t *testing.T) {
	v := NewFixedFloat(1.5, Float)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(1.5))
	require.True(t, v.Matched(buf))
}

func TestFirstDiscriminatingByte(t *testing.T) {
	v := NewFixedInt(0x0102, Word)
	b, ok := v.FirstDiscriminatingByte()
	require.True(t, ok)
	require.Equal(t, byte(0x02), b)

	v2 := NewFixedInt(0x01FF, Word) // first LE byte is 0xFF -> not discriminating
	_, ok2 := v2.FirstDiscriminatingByte()
	require.False(t, ok2)
}

func TestPatternMatched(t *testing.T) {
	v := NewPattern([]MaskedByte{
		{Value: 0xDE, Mask: 0xFF},
		{Value: 0x0D, Mask: 0x0F},
		{Value: 0xBE, Mask: 0xFF},
		{Value: 0x0F, Mask: 0x0F},
	})
	mem := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.True(t, v.Matched(mem))
}

func TestQueryValidate(t *testing.T) {
	q := SearchQuery{Values: []SearchValue{NewFixedInt(1, Dword)}}
	require.NoError(t, q.Validate())

	group := SearchQuery{Values: []SearchValue{NewFixedInt(1, Dword), NewFixedInt(2, Dword)}, Range: 1}
	require.Error(t, group.Validate())

	group.Range = 2
	require.NoError(t, group.Validate())

	tooMany := make([]SearchValue, MaxQueryValues+1)
	for i := range tooMany {
		tooMany[i] = NewFixedInt(1, Byte)
	}
	require.Error(t, SearchQuery{Values: tooMany}.Validate())
}

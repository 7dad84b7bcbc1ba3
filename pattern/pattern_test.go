package pattern

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTokens(t *testing.T) {
	mask, err := Parse("1A 2B ?C D? ?? FF")
	require.NoError(t, err)
	require.Len(t, mask, 6)

	require.Equal(t, byte(0x1A), mask[0].Value)
	require.Equal(t, byte(0xFF), mask[0].Mask)

	require.Equal(t, byte(0x0C), mask[2].Value)
	require.Equal(t, byte(0x0F), mask[2].Mask)

	require.Equal(t, byte(0xD0), mask[3].Value)
	require.Equal(t, byte(0xF0), mask[3].Mask)

	require.Equal(t, byte(0), mask[4].Value)
	require.Equal(t, byte(0), mask[4].Mask)
}

func TestRoundTrip(t *testing.T) {
	s := "DE AD BE EF 00 FF ?? 1?"
	out, err := Normalize(s)
	require.NoError(t, err)
	require.Equal(t, s, out)
}

func TestMalformedToken(t *testing.T) {
	_, err := Parse("DEA")
	require.Error(t, err)
	_, err = Parse("GG")
	require.Error(t, err)
}

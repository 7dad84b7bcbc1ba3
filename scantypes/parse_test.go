package scantypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQueryLiteral(t *testing.T) {
	q, err := ParseQuery("123", Unordered, 0)
	require.NoError(t, err)
	require.Len(t, q.Values, 1)
	require.Equal(t, Dword, q.Values[0].Type())
}

func TestParseQuerySuffixed(t *testing.T) {
	q, err := ParseQuery("123D", Unordered, 0)
	require.NoError(t, err)
	require.Equal(t, Dword, q.Values[0].Type())

	q2, err := ParseQuery("1.5F", Unordered, 0)
	require.NoError(t, err)
	require.Equal(t, Float, q2.Values[0].Type())
}

func TestParseQueryRange(t *testing.T) {
	q, err := ParseQuery("100..200B", Unordered, 0)
	require.NoError(t, err)
	require.Equal(t, Byte, q.Values[0].Type())
}

func TestParseQueryGroup(t *testing.T) {
	q, err := ParseQuery("1;2;3", Ordered, 16)
	require.NoError(t, err)
	require.True(t, q.IsGroup())
	require.Len(t, q.Values, 3)
}

func TestParseQueryEmpty(t *testing.T) {
	_, err := ParseQuery("", Unordered, 0)
	require.Error(t, err)
}

package memrange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMergesOverlapping(t *testing.T) {
	u := Build([]Range{
		{Start: 100, End: 200},
		{Start: 150, End: 300},
		{Start: 500, End: 600},
	})
	require.Equal(t, 2, u.Len())
	require.Equal(t, Range{100, 300}, u.At(0))
	require.Equal(t, Range{500, 600}, u.At(1))
}

func TestContains(t *testing.T) {
	u := Build([]Range{{Start: 1000, End: 2000}, {Start: 5000, End: 6000}})
	require.True(t, u.Contains(1500))
	require.False(t, u.Contains(2000)) // half-open
	require.False(t, u.Contains(3000))
	require.True(t, u.Contains(5999))
}

func TestEmptyUnion(t *testing.T) {
	u := Build(nil)
	require.Equal(t, 0, u.Len())
	require.False(t, u.Contains(1))
}

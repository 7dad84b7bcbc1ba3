package mapqueue

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	key   uint64
	value uint64
}

func TestPushAndAt(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	for i := uint64(0); i < 10; i++ {
		q.Push(record{key: i, value: i * i})
	}
	require.Equal(t, 10, q.Len())
	for i := uint64(0); i < 10; i++ {
		require.Equal(t, i*i, q.At(int(i)).value)
	}
}

func TestGrowthPreservesPrefix(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	n := initialCapacity + 500 // forces at least one grow
	for i := 0; i < n; i++ {
		q.Push(record{key: uint64(i)})
	}
	require.Equal(t, n, q.Len())
	require.GreaterOrEqual(t, q.Cap(), n)
	for i := 0; i < n; i++ {
		require.Equal(t, uint64(i), q.At(i).key)
	}
}

func TestExtendFromSlice(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	vs := make([]record, 200)
	for i := range vs {
		vs[i] = record{key: uint64(i)}
	}
	q.ExtendFromSlice(vs)
	require.Equal(t, 200, q.Len())
	require.Equal(t, uint64(199), q.At(199).key)
}

func TestPopTruncateResize(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.Push(record{key: uint64(i)})
	}
	v := q.Pop()
	require.Equal(t, uint64(4), v.key)
	require.Equal(t, 4, q.Len())

	q.Truncate(2)
	require.Equal(t, 2, q.Len())

	q.Resize(6)
	require.Equal(t, 6, q.Len())
	require.Equal(t, uint64(0), q.At(5).key) // zero-filled
}

func TestSortBy(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	in := []uint64{5, 3, 8, 1, 9, 2}
	for _, k := range in {
		q.Push(record{key: k})
	}
	q.SortBy(func(a, b record) bool { return a.key < b.key })

	var prev uint64
	q.ForEach(func(i int, v record) {
		if i > 0 {
			require.LessOrEqual(t, prev, v.key)
		}
		prev = v.key
	})
}

func TestChecksumChangesWithContent(t *testing.T) {
	q := New[record](t.TempDir())
	defer q.Close()

	q.Push(record{key: 1, value: 1})
	c1 := q.Checksum()
	q.Push(record{key: 2, value: 2})
	c2 := q.Checksum()
	require.NotEqual(t, c1, c2)
}

func TestCloseRemovesBackingFile(t *testing.T) {
	q := New[record](t.TempDir())
	q.Push(record{key: 1})
	path := q.path
	require.NoError(t, q.Close())
	_, err := os.Stat(path)
	require.Error(t, err)
}

package resultstore

import (
	"sort"

	"github.com/memwalk/engine/mapqueue"
)

// tierManager holds records of one schema across two tiers: an in-memory
// slice bounded to memCap elements, and a MapQueue spill for everything
// beyond that (§4.3 "Two-tier layout"). When memCap == 0 every record goes
// straight to disk.
type tierManager[T any] struct {
	cacheDir string
	memCap   int
	mem      []T
	disk     *mapqueue.MapQueue[T]
}

func newTierManager[T any](memBudgetBytes int, recordSize int, cacheDir string) *tierManager[T] {
	memCap := 0
	if recordSize > 0 {
		memCap = memBudgetBytes / recordSize
	}
	return &tierManager[T]{
		cacheDir: cacheDir,
		memCap:   memCap,
		disk:     mapqueue.New[T](cacheDir),
	}
}

func (m *tierManager[T]) Len() int {
	return len(m.mem) + m.disk.Len()
}

// Push appends one record, routing it to the memory tier while there's
// room and to the disk tier once the memory tier is full.
func (m *tierManager[T]) Push(v T) {
	if len(m.mem) < m.memCap {
		m.mem = append(m.mem, v)
		return
	}
	m.disk.Push(v)
}

func (m *tierManager[T]) PushBatch(vs []T) {
	for _, v := range vs {
		m.Push(v)
	}
}

// At returns the i-th record across both tiers, memory tier first.
func (m *tierManager[T]) At(i int) T {
	if i < len(m.mem) {
		return m.mem[i]
	}
	return m.disk.At(i - len(m.mem))
}

// Set overwrites the i-th record across both tiers.
func (m *tierManager[T]) Set(i int, v T) {
	if i < len(m.mem) {
		m.mem[i] = v
		return
	}
	m.disk.Set(i-len(m.mem), v)
}

// Page returns up to size records starting at start.
func (m *tierManager[T]) Page(start, size int) []T {
	n := m.Len()
	if start >= n {
		return nil
	}
	end := start + size
	if end > n {
		end = n
	}
	out := make([]T, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, m.At(i))
	}
	return out
}

// All returns every record across both tiers, in order.
func (m *tierManager[T]) All() []T {
	return m.Page(0, m.Len())
}

// RemoveBatch removes the records at the given indices (sorted and
// deduped first) via a two-pointer compaction pass over the combined
// logical sequence (§4.3 "Remove semantics").
func (m *tierManager[T]) RemoveBatch(indices []int) {
	doomed := sortedUniqueIndices(indices, m.Len())
	if len(doomed) == 0 {
		return
	}
	m.compactKeeping(func(i int) bool {
		return !isDoomed(doomed, i)
	})
}

// KeepOnly replaces the contents with only the records at the given
// indices, in their original relative order.
func (m *tierManager[T]) KeepOnly(indices []int) {
	kept := sortedUniqueIndices(indices, m.Len())
	keepSet := make(map[int]bool, len(kept))
	for _, i := range kept {
		keepSet[i] = true
	}
	removeCount := m.Len() - len(kept)
	if len(kept) <= removeCount {
		// Fewer survivors than casualties: rebuild from the keep list
		// directly (§4.3 "iterate the keep list, read each record, clear,
		// re-add").
		vs := make([]T, len(kept))
		for j, i := range kept {
			vs[j] = m.At(i)
		}
		m.Clear()
		m.PushBatch(vs)
		return
	}
	m.compactKeeping(func(i int) bool { return keepSet[i] })
}

// compactKeeping rewrites the logical sequence in place, retaining only
// indices for which keep returns true, then truncates both tiers to their
// new lengths.
func (m *tierManager[T]) compactKeeping(keep func(i int) bool) {
	n := m.Len()
	w := 0
	for r := 0; r < n; r++ {
		if !keep(r) {
			continue
		}
		if w != r {
			m.Set(w, m.At(r))
		}
		w++
	}
	m.truncateTo(w)
}

func (m *tierManager[T]) truncateTo(n int) {
	if n <= len(m.mem) {
		m.mem = m.mem[:n]
		m.disk.Truncate(0)
		return
	}
	m.disk.Truncate(n - len(m.mem))
}

// ReplaceAll atomically swaps the contents for vs.
func (m *tierManager[T]) ReplaceAll(vs []T) {
	m.Clear()
	m.PushBatch(vs)
}

func (m *tierManager[T]) Clear() {
	m.mem = m.mem[:0]
	m.disk.Truncate(0)
}

func (m *tierManager[T]) Close() error {
	return m.disk.Close()
}

func sortedUniqueIndices(indices []int, n int) []int {
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < n {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	deduped := out[:0]
	for j, i := range out {
		if j == 0 || i != out[j-1] {
			deduped = append(deduped, i)
		}
	}
	return deduped
}

func isDoomed(sortedDoomed []int, i int) bool {
	j := sort.SearchInts(sortedDoomed, i)
	return j < len(sortedDoomed) && sortedDoomed[j] == i
}

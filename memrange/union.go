// Package memrange merges a set of [start,end) virtual-address ranges into
// a sorted, non-overlapping union and answers "is this address inside any
// scanned region" in O(log n). It backs the pointer-chain scanner's
// valid_ranges (§4.5).
//
// The merge and membership-test algorithm is adapted from
// interval/bedunion.go's sorted-endpoint design (fwdsearchPosType's
// exponential-then-binary search): sort the caller's possibly-overlapping,
// arbitrary-order ranges by start, then sweep once doing a linear overlap
// merge.
package memrange

import "sort"

// Range is a half-open virtual-address interval [Start, End).
type Range struct {
	Start, End uint64
}

func (r Range) contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

// Union is a sorted, merged, non-overlapping set of VA ranges.
type Union struct {
	// starts[i] and ends[i] describe the i-th merged range. Sorted and
	// non-overlapping: starts[i] < starts[i+1] and ends[i] <= starts[i+1].
	starts []uint64
	ends   []uint64
}

// Build sorts the input ranges by start (ties by end) and sweeps them in
// order, merging any that overlap or touch. Callers may pass ranges in
// arbitrary, overlapping order.
func Build(ranges []Range) *Union {
	if len(ranges) == 0 {
		return &Union{}
	}
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.End <= r.Start {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	u := &Union{}
	for _, r := range sorted {
		n := len(u.starts)
		if n > 0 && r.Start <= u.ends[n-1] {
			if r.End > u.ends[n-1] {
				u.ends[n-1] = r.End
			}
			continue
		}
		u.starts = append(u.starts, r.Start)
		u.ends = append(u.ends, r.End)
	}
	return u
}

// Len returns the number of merged ranges.
func (u *Union) Len() int { return len(u.starts) }

// At returns the i-th merged range.
func (u *Union) At(i int) Range { return Range{Start: u.starts[i], End: u.ends[i]} }

// Contains reports whether addr falls inside any merged range, in O(log n)
// via binary search over the sorted starts, the binary half of
// interval/bedunion.go's fwdsearchPosType (we always search from scratch
// here rather than from a running cursor, since pointer candidates arrive
// in no particular order during Phase 1 collection).
func (u *Union) Contains(addr uint64) bool {
	i, ok := u.indexContaining(addr)
	return ok && i >= 0
}

// indexContaining returns the index of the merged range containing addr, or
// (-1, false) if none does.
func (u *Union) indexContaining(addr uint64) (int, bool) {
	n := len(u.starts)
	if n == 0 {
		return -1, false
	}
	// sort.Search is the binary-search half of fwdsearchPosType; we don't
	// need the exponential-probe-from-cursor variant since there is no
	// natural forward cursor across unrelated Contains calls here.
	idx := sort.Search(n, func(i int) bool { return u.starts[i] > addr })
	if idx == 0 {
		return -1, false
	}
	idx--
	if u.ends[idx] > addr {
		return idx, true
	}
	return -1, false
}

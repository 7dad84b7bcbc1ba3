package search

import (
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/scantypes"
)

// matchGroup implements the group (multi-value) per-chunk matcher (§4.4.4):
// an anchor scan on values[0] followed by a DFS composition of the
// remaining values within a band around each anchor.
func matchGroup(buf []byte, base uint64, searchStart, searchEnd uint64, q scantypes.SearchQuery, bitmap *memaccess.PageBitmap, deep bool, grainSize int) []uint64 {
	values := q.Values
	var out []uint64
	seen := make(map[uint64]bool)

	tryAnchor := func(anchorIdx int) {
		anchors := matchSingle(buf, base, searchStart, searchEnd, values[anchorIdx], bitmap, grainSize)
		rest := remove(values, anchorIdx)
		for _, a := range anchors {
			lo, hi := band(a, uint64(q.Range), q.Mode)
			covering, ok := composeCovering(buf, base, lo, hi, a, rest, q.Mode == scantypes.Ordered, bitmap, grainSize)
			if !ok {
				continue
			}
			for _, addr := range covering {
				if !seen[addr] {
					seen[addr] = true
					out = append(out, addr)
				}
			}
		}
	}

	tryAnchor(0)
	if deep && len(out) == 0 {
		for i := 1; i < len(values); i++ {
			tryAnchor(i)
		}
	}
	return out
}

func band(anchor, r uint64, mode scantypes.SearchMode) (uint64, uint64) {
	if mode == scantypes.Ordered {
		return anchor, anchor + r
	}
	if r > anchor {
		return 0, anchor + r
	}
	return anchor - r, anchor + r
}

func remove(values []scantypes.SearchValue, idx int) []scantypes.SearchValue {
	out := make([]scantypes.SearchValue, 0, len(values)-1)
	for i, v := range values {
		if i != idx {
			out = append(out, v)
		}
	}
	return out
}

// composeCovering finds one address per entry in rest, all distinct, all
// within [lo,hi), satisfying ordering when ordered is true (addresses must
// increase along with rest's index order). Returns every address used
// (anchor included) on success.
func composeCovering(buf []byte, base, lo, hi, anchor uint64, rest []scantypes.SearchValue, ordered bool, bitmap *memaccess.PageBitmap, grainSize int) ([]uint64, bool) {
	if lo < base {
		lo = base
	}
	if hi > base+uint64(len(buf)) {
		hi = base + uint64(len(buf))
	}
	if lo >= hi {
		return nil, false
	}

	candidates := make([][]uint64, len(rest))
	for i, v := range rest {
		candidates[i] = matchSingle(buf, base, lo, hi, v, bitmap, grainSize)
	}

	used := map[uint64]bool{anchor: true}
	chosen := make([]uint64, 0, len(rest))
	var dfs func(i int, floor uint64) bool
	dfs = func(i int, floor uint64) bool {
		if i == len(rest) {
			return true
		}
		for _, c := range candidates[i] {
			if used[c] {
				continue
			}
			if ordered && c < floor {
				continue
			}
			used[c] = true
			chosen = append(chosen, c)
			nextFloor := floor
			if ordered {
				nextFloor = c
			}
			if dfs(i+1, nextFloor) {
				return true
			}
			chosen = chosen[:len(chosen)-1]
			delete(used, c)
		}
		return false
	}
	if !dfs(0, anchor) {
		return nil, false
	}
	return append([]uint64{anchor}, chosen...), true
}

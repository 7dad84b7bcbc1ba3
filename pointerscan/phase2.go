package pointerscan

import (
	"sort"

	"github.com/memwalk/engine/mapqueue"
)

// bfsResult is the full reverse-BFS state needed for both chain counting
// and emission: one frontier slice per depth level (dirsByLevel[0] holds
// either nothing, if the target itself resolved to a static module and
// the walk never got a chance to start, or exactly the injected target
// leaf) plus every static-module hit discovered at any level.
type bfsResult struct {
	dirsByLevel [][]PointerDir
	ranges      []PointerRange
	truncated   []int // levels at which the frontier was truncated
}

// reverseBFS implements Phase 2 (§4.5): starting from the target address,
// walk backward through pointers collected in Phase 1, one depth level at a
// time, looking for frontier nodes whose address falls inside a named
// static module. window is the per-hop slack (a pointer's value need only
// land within [value, value+window] of the next link, not hit it exactly —
// structures carry fields between the two). maxFrontier bounds a single
// level's dynamic frontier; exceeding it truncates (keeping the
// address-sorted prefix), per §4.5 "Truncation".
func reverseBFS(target uint64, queue *mapqueue.MapQueue[PointerData], depth int, window uint64, modules []moduleInstance, cancelled func() bool, maxFrontier int) *bfsResult {
	res := &bfsResult{}

	if idx, ok := findModule(modules, target); ok {
		res.ranges = append(res.ranges, PointerRange{
			Address:    target,
			Value:      0,
			Level:      0,
			ModuleIdx:  idx,
			BaseOffset: int64(target - modules[idx].CanonicalBase),
		})
		res.dirsByLevel = append(res.dirsByLevel, nil)
		return res
	}
	res.dirsByLevel = append(res.dirsByLevel, []PointerDir{{Address: target, Value: 0}})

	prev := res.dirsByLevel[0]
	for level := 1; level <= depth; level++ {
		if cancelled() || len(prev) == 0 {
			break
		}
		var curr []PointerDir
		queue.ForEach(func(_ int, pd PointerData) {
			if !withinWindow(prev, pd.Value, window) {
				return
			}
			start, end := childRange(prev, pd.Value, window)
			if idx, ok := findModule(modules, pd.Address); ok {
				res.ranges = append(res.ranges, PointerRange{
					Address:    pd.Address,
					Value:      pd.Value,
					Start:      start,
					End:        end,
					Level:      level,
					ModuleIdx:  idx,
					BaseOffset: int64(pd.Address - modules[idx].CanonicalBase),
				})
				return
			}
			curr = append(curr, PointerDir{Address: pd.Address, Value: pd.Value, Start: start, End: end})
		})
		if len(curr) > maxFrontier {
			res.truncated = append(res.truncated, level)
			curr = curr[:maxFrontier]
		}
		res.dirsByLevel = append(res.dirsByLevel, curr)
		prev = curr
	}
	return res
}

// withinWindow reports whether prev (address-sorted) has any node whose
// Address falls in [value, value+window].
func withinWindow(prev []PointerDir, value, window uint64) bool {
	lo := sort.Search(len(prev), func(i int) bool { return prev[i].Address >= value })
	return lo < len(prev) && prev[lo].Address <= value+window
}

// childRange finds the [start,end) slice of prev whose Address falls in
// [value, value+window] — the index range a frontier node's Start/End
// fields record, so emission can later walk from this node down to the
// specific lower-level node(s) it could legitimately dereference toward
// (§4.5 "Bind parent→child ranges").
func childRange(prev []PointerDir, value, window uint64) (int, int) {
	start := sort.Search(len(prev), func(i int) bool { return prev[i].Address >= value })
	end := sort.Search(len(prev), func(i int) bool { return prev[i].Address > value+window })
	return start, end
}

// buildCounts computes, for each depth level, a prefix-sum array sized
// len(dirsByLevel[level])+1 where counts[level][i] is the number of
// complete chains reachable through dirsByLevel[level][0:i] — the
// technique in §4.5/§9 avoiding an O(chains) enumeration just to report a
// total (chains can run into the millions; the frontiers that produce them
// do not).
func buildCounts(dirsByLevel [][]PointerDir) [][]int64 {
	counts := make([][]int64, len(dirsByLevel))
	counts[0] = make([]int64, len(dirsByLevel[0])+1)
	for i := range dirsByLevel[0] {
		counts[0][i+1] = counts[0][i] + 1
	}
	for level := 1; level < len(dirsByLevel); level++ {
		frontier := dirsByLevel[level]
		c := make([]int64, len(frontier)+1)
		for i, d := range frontier {
			c[i+1] = c[i] + (counts[level-1][d.End] - counts[level-1][d.Start])
		}
		counts[level] = c
	}
	return counts
}

// chainCount returns the number of complete chains rooted at r.
func chainCount(counts [][]int64, r PointerRange) int64 {
	if r.Level == 0 {
		return 1
	}
	return counts[r.Level-1][r.End] - counts[r.Level-1][r.Start]
}

package pointerscan

import (
	"sort"

	farm "github.com/dgryski/go-farm"
)

// moduleInstance is one mapped occurrence of a named static module, after
// unification (§4.5 "Module instance unification"): same-named regions
// share a CanonicalBase (the first-seen instance's start) so BASE_OFF is
// computed consistently regardless of which instance a chain rooted in.
type moduleInstance struct {
	Name          string
	Index         int
	Start, End    uint64
	CanonicalBase uint64
}

// unifyModules groups the static regions by name, assigning each repeat
// occurrence an ordinal Index while keying the grouping on a different
// hash family (farm.Hash64) from the highwayhash checksum mapqueue uses,
// so the two uses of hashing never get confused for one another.
func unifyModules(regions []Region) []moduleInstance {
	type group struct {
		base  uint64
		count int
	}
	groups := make(map[uint64]*group)
	out := make([]moduleInstance, 0, len(regions))
	for _, r := range regions {
		if !r.IsStatic {
			continue
		}
		h := farm.Hash64([]byte(r.Name))
		g, ok := groups[h]
		if !ok {
			g = &group{base: r.Start}
			groups[h] = g
		}
		out = append(out, moduleInstance{
			Name:          r.Name,
			Index:         g.count,
			Start:         r.Start,
			End:           r.End,
			CanonicalBase: g.base,
		})
		g.count++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// findModule returns the index into modules of the instance containing
// addr, via binary search over the start-sorted instance list.
func findModule(modules []moduleInstance, addr uint64) (int, bool) {
	idx := sort.Search(len(modules), func(i int) bool { return modules[i].Start > addr })
	if idx == 0 {
		return 0, false
	}
	idx--
	if addr < modules[idx].End {
		return idx, true
	}
	return 0, false
}

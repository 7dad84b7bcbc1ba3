package pointerscan

import (
	"encoding/binary"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/memrange"
)

// phase1ChunkSize is the per-region read granularity for pointer
// collection, matching the search executor's chunked outer loop (§4.4.2).
const phase1ChunkSize = 512 * 1024

// collectPointers implements Phase 1 (§4.5): for every readable region, walk
// it in alignment-sized steps reading 8 bytes at each, MTE-strip each
// candidate value, and keep it
// only if it lands inside valid (the merged scan-region set) — discarding
// the overwhelming majority of non-pointer bit patterns before they ever
// reach Phase 2. Regions scan in parallel; the merged result is sorted by
// address, the order every later binary search in Phase 2 depends on.
func collectPointers(gw *memaccess.Gateway, bp *memaccess.BoundProcess, regions []Region, alignment uint64, valid *memrange.Union, cancelled func() bool) []PointerData {
	if alignment == 0 {
		alignment = 8
	}
	perRegion := make([][]PointerData, len(regions))
	_ = traverse.Each(len(regions), func(i int) error {
		r := regions[i]
		if !r.Perms.Read && !r.Perms.Write {
			return nil
		}
		if cancelled() {
			return nil
		}
		perRegion[i] = scanRegionForPointers(gw, bp, r, alignment, valid, cancelled)
		return nil
	})

	total := 0
	for _, rs := range perRegion {
		total += len(rs)
	}
	merged := make([]PointerData, 0, total)
	for _, rs := range perRegion {
		merged = append(merged, rs...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Address < merged[j].Address })
	return merged
}

func scanRegionForPointers(gw *memaccess.Gateway, bp *memaccess.BoundProcess, r Region, alignment uint64, valid *memrange.Union, cancelled func() bool) []PointerData {
	var out []PointerData
	current := alignDownTo(r.Start, uint64(memaccess.PageSize))
	for current < r.End {
		if cancelled() {
			break
		}
		length := phase1ChunkSize
		if remaining := int(r.End - current); remaining < length {
			length = remaining
		}
		buf := make([]byte, length)
		bm := memaccess.NewPageBitmap(memaccess.PagesFor(length))
		if err := gw.Read(bp, current, buf, bm); err == nil {
			for pos := 0; pos+8 <= len(buf); pos += int(alignment) {
				addr := current + uint64(pos)
				if addr < r.Start || addr >= r.End {
					continue
				}
				if !bm.Test(memaccess.PageOf(pos)) {
					continue
				}
				raw := binary.LittleEndian.Uint64(buf[pos : pos+8])
				value := memaccess.Canonicalize(raw)
				if valid.Contains(value) {
					out = append(out, PointerData{Address: addr, Value: value})
				}
			}
		}
		current += uint64(length)
	}
	return out
}

func alignDownTo(addr, align uint64) uint64 {
	return addr - addr%align
}

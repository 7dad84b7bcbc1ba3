package search

import (
	"bytes"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/scantypes"
)

// matchSingle runs the per-chunk single-value matcher (§4.4.3) over buf,
// whose first byte is at absolute address base, restricted to the
// intersection [searchStart, searchEnd). bitmap has one bit per PageSize
// page of buf; pages not marked successful are skipped entirely. grainSize
// is the per-goroutine sub-division of a page-clean run dispatched to the
// parallel pool.
func matchSingle(buf []byte, base uint64, searchStart, searchEnd uint64, v scantypes.SearchValue, bitmap *memaccess.PageBitmap, grainSize int) []uint64 {
	elemSize := v.Type().Size()
	if elemSize == 0 {
		elemSize = 1
	}

	var runs [][2]int // byte-offset ranges within buf covering only successful pages
	pages := memaccess.PagesFor(len(buf))
	runStart := -1
	for p := 0; p < pages; p++ {
		ok := bitmap == nil || bitmap.Test(p)
		if ok && runStart < 0 {
			runStart = p * memaccess.PageSize
		}
		if !ok && runStart >= 0 {
			runs = append(runs, [2]int{runStart, p * memaccess.PageSize})
			runStart = -1
		}
	}
	if runStart >= 0 {
		end := len(buf)
		runs = append(runs, [2]int{runStart, end})
	}

	type grain struct{ lo, hi int }
	var grains []grain
	for _, r := range runs {
		for off := r[0]; off < r[1]; off += grainSize {
			hi := off + grainSize
			if hi > r[1] {
				hi = r[1]
			}
			grains = append(grains, grain{off, hi})
		}
	}

	results := make([][]uint64, len(grains))
	_ = traverse.Each(len(grains), func(i int) error {
		g := grains[i]
		results[i] = matchGrain(buf[g.lo:g.hi], base+uint64(g.lo), searchStart, searchEnd, elemSize, v)
		return nil
	})

	var out []uint64
	for _, r := range results {
		out = append(out, r...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// matchGrain implements the three-way dispatch of §4.4.3: vectorised
// byte-find for a 1-byte fixed value, vectorised byte-find on a
// discriminating first byte for a wider fixed value, or a general stepped
// scan otherwise.
func matchGrain(grain []byte, grainBase uint64, searchStart, searchEnd uint64, elemSize int, v scantypes.SearchValue) []uint64 {
	var out []uint64
	inRange := func(addr uint64) bool {
		return addr >= searchStart && addr < searchEnd
	}
	aligned := func(addr uint64) bool {
		return addr%uint64(elemSize) == 0
	}

	if b, ok := fixedOneByte(v); ok {
		off := 0
		for {
			i := bytes.IndexByte(grain[off:], b)
			if i < 0 {
				break
			}
			pos := off + i
			addr := grainBase + uint64(pos)
			if aligned(addr) && inRange(addr) {
				out = append(out, addr)
			}
			off = pos + 1
		}
		return out
	}

	if b, ok := v.FirstDiscriminatingByte(); ok {
		off := 0
		for {
			i := bytes.IndexByte(grain[off:], b)
			if i < 0 {
				break
			}
			pos := off + i
			addr := grainBase + uint64(pos)
			if aligned(addr) && inRange(addr) && pos+elemSize <= len(grain) {
				if v.Matched(grain[pos : pos+elemSize]) {
					out = append(out, addr)
				}
			}
			off = pos + 1
		}
		return out
	}

	for pos := 0; pos+elemSize <= len(grain); pos += elemSize {
		addr := grainBase + uint64(pos)
		if !inRange(addr) {
			continue
		}
		if v.Matched(grain[pos : pos+elemSize]) {
			out = append(out, addr)
		}
	}
	return out
}

// fixedOneByte reports whether v is a 1-byte fixed integer, and if so its
// value — the cheapest case of §4.4.3's dispatch.
func fixedOneByte(v scantypes.SearchValue) (byte, bool) {
	if !v.IsFixedInt() || v.Type().Size() != 1 {
		return 0, false
	}
	b := v.FixedIntBytes()
	if len(b) != 1 {
		return 0, false
	}
	return b[0], true
}

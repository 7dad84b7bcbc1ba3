package search

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/resultstore"
	"github.com/memwalk/engine/scantypes"
	"github.com/memwalk/engine/status"
)

// StartRefineAsync re-evaluates q against the store's existing exact
// results (§4.4.5). The store must already hold exact results.
func (e *Executor) StartRefineAsync(q scantypes.SearchQuery) error {
	if err := q.Validate(); err != nil {
		return errors.E(errors.Invalid, err.Error())
	}
	if e.store.GetMode() != resultstore.Exact || e.store.TotalCount() == 0 {
		return ErrEmptyStore
	}
	tok, err := e.begin(status.Searching)
	if err != nil {
		return err
	}
	go e.runRefine(tok, q)
	return nil
}

func (e *Executor) runRefine(tok *CancelToken, q scantypes.SearchQuery) {
	existing, err := e.store.GetAllExactResults()
	if err != nil {
		e.finish(tok, err)
		return
	}
	// typesOf holds every type recorded at an address, not just the last
	// one written: dedup (executor.go) keys on (Address, Type), so the
	// store can legitimately hold two ExactResults at the same address
	// with different Types, and both must be refined independently.
	typesOf := make(map[uint64][]scantypes.ValueType, len(existing))
	seenAddr := make(map[uint64]bool, len(existing))
	var addrs []uint64
	for _, r := range existing {
		typesOf[r.Address] = append(typesOf[r.Address], r.Type)
		if !seenAddr[r.Address] {
			seenAddr[r.Address] = true
			addrs = append(addrs, r.Address)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	elemSize := q.Values[0].Type().Size()
	for _, r := range existing {
		if s := r.Type.Size(); s > elemSize {
			elemSize = s
		}
	}
	if elemSize == 0 || elemSize > 8 {
		elemSize = 8
	}
	clusters := buildClusters(addrs, elemSize)
	total := len(clusters)
	processed := 0

	var reads []readResult
	for _, c := range clusters {
		if e.cancelled(tok) {
			break
		}
		reads = append(reads, readOneCluster(e.gw, e.bp, c, elemSize)...)
		processed++
		if processed%100 == 0 || processed == total {
			e.publishProgress(processed, total, 100)
		}
	}
	if e.cancelled(tok) {
		e.finish(tok, nil)
		return
	}

	var survivors []resultstore.ExactResult
	if q.IsGroup() {
		survivors = refineGroup(reads, typesOf, q)
	} else {
		survivors = refineSingle(reads, typesOf, q.Values[0])
	}

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Address < survivors[j].Address })
	if err := e.store.ReplaceAllExactResults(survivors); err != nil {
		e.finish(tok, err)
		return
	}
	e.finish(tok, nil)
}

// refineSingle implements the single-value branch of §4.4.5 "Match": each
// candidate read is tested against the new query's matcher directly, once
// per type recorded at that address.
func refineSingle(reads []readResult, typesOf map[uint64][]scantypes.ValueType, v scantypes.SearchValue) []resultstore.ExactResult {
	var out []resultstore.ExactResult
	for _, rr := range reads {
		if !rr.ok {
			continue
		}
		for _, typ := range typesOf[rr.address] {
			n := typ.Size()
			if n == 0 || n > 8 {
				n = 8
			}
			if v.Matched(rr.data[:n]) {
				out = append(out, resultstore.ExactResult{Address: rr.address, Type: typ})
			}
		}
	}
	return out
}

// groupCandidate pairs a surviving address with the recorded type it
// matched under — two candidates can share an address but differ in type.
type groupCandidate struct {
	addr uint64
	typ  scantypes.ValueType
}

// refineGroup implements §4.4.5's group refine variant: the surviving
// addresses from the prior search are the only candidates considered (no
// full-buffer rescan), and the same anchor+DFS composition as a fresh group
// scan runs against that restricted candidate set. Candidates are tracked
// as (address, type) pairs so two ExactResults sharing an address but
// holding different types are refined independently.
func refineGroup(reads []readResult, typesOf map[uint64][]scantypes.ValueType, q scantypes.SearchQuery) []resultstore.ExactResult {
	byValue := make([][]groupCandidate, len(q.Values))
	for _, rr := range reads {
		if !rr.ok {
			continue
		}
		for _, typ := range typesOf[rr.address] {
			n := typ.Size()
			if n == 0 || n > 8 {
				n = 8
			}
			for vi, v := range q.Values {
				if v.Matched(rr.data[:n]) {
					byValue[vi] = append(byValue[vi], groupCandidate{addr: rr.address, typ: typ})
				}
			}
		}
	}

	seen := make(map[groupCandidate]bool)
	var out []resultstore.ExactResult
	for _, anchor := range byValue[0] {
		lo, hi := band(anchor.addr, uint64(q.Range), q.Mode)
		used := map[uint64]bool{anchor.addr: true}
		chosen := make([]groupCandidate, 0, len(q.Values)-1)
		var dfs func(i int, floor uint64) bool
		dfs = func(i int, floor uint64) bool {
			if i == len(q.Values) {
				return true
			}
			for _, c := range byValue[i] {
				if c.addr < lo || c.addr >= hi || used[c.addr] {
					continue
				}
				if q.Mode == scantypes.Ordered && c.addr < floor {
					continue
				}
				used[c.addr] = true
				chosen = append(chosen, c)
				nextFloor := floor
				if q.Mode == scantypes.Ordered {
					nextFloor = c.addr
				}
				if dfs(i+1, nextFloor) {
					return true
				}
				chosen = chosen[:len(chosen)-1]
				delete(used, c.addr)
			}
			return false
		}
		if !dfs(1, anchor.addr) {
			continue
		}
		for _, c := range append([]groupCandidate{anchor}, chosen...) {
			if !seen[c] {
				seen[c] = true
				out = append(out, resultstore.ExactResult{Address: c.addr, Type: c.typ})
			}
		}
	}
	return out
}

// StartFuzzySearchAsync begins a fresh fuzzy scan: every successfully read
// element of typ across regions becomes a FuzzyResult (an "Initial" fuzzy
// baseline), matching §4.4 `start_fuzzy_search_async`.
func (e *Executor) StartFuzzySearchAsync(typ scantypes.ValueType, regions []Region, keepResults bool) error {
	tok, err := e.begin(status.Searching)
	if err != nil {
		return err
	}
	if !keepResults || e.store.GetMode() != resultstore.Fuzzy {
		e.store.SetMode(resultstore.Fuzzy)
	}
	go e.runFuzzySearch(tok, typ, regions)
	return nil
}

func (e *Executor) runFuzzySearch(tok *CancelToken, typ scantypes.ValueType, regions []Region) {
	elemSize := typ.Size()
	if elemSize == 0 {
		elemSize = 1
	}
	var results []resultstore.FuzzyResult
	completed := 0
	for _, r := range regions {
		if e.cancelled(tok) {
			break
		}
		current := alignDown(r.Start, memaccess.PageSize)
		for current < r.End {
			if e.cancelled(tok) {
				break
			}
			length := e.chunkSize
			if remaining := int(r.End - current); remaining < length {
				length = remaining
			}
			buf := make([]byte, length)
			bm := memaccess.NewPageBitmap(memaccess.PagesFor(length))
			if err := e.gw.Read(e.bp, current, buf, bm); err == nil {
				for pos := 0; pos+elemSize <= len(buf); pos += elemSize {
					addr := current + uint64(pos)
					if addr < r.Start || addr >= r.End {
						continue
					}
					if !bm.Test(memaccess.PageOf(pos)) {
						continue
					}
					var v [8]byte
					copy(v[:], buf[pos:pos+elemSize])
					results = append(results, resultstore.FuzzyResult{Address: addr, Value: v, Type: typ})
				}
			}
			current += uint64(length)
		}
		completed++
		e.publishProgress(completed, len(regions), 100)
	}
	if !e.cancelled(tok) {
		if err := e.store.ReplaceAllFuzzyResults(results); err != nil {
			e.finish(tok, err)
			return
		}
	}
	e.finish(tok, nil)
}

// StartFuzzyRefineAsync re-reads every existing FuzzyResult and keeps only
// those satisfying cond, replacing the store's contents (§4.4.6).
func (e *Executor) StartFuzzyRefineAsync(cond scantypes.FuzzyCondition) error {
	if e.store.GetMode() != resultstore.Fuzzy || e.store.TotalCount() == 0 {
		return ErrEmptyStore
	}
	tok, err := e.begin(status.Searching)
	if err != nil {
		return err
	}
	go e.runFuzzyRefine(tok, cond)
	return nil
}

func (e *Executor) runFuzzyRefine(tok *CancelToken, cond scantypes.FuzzyCondition) {
	existing, err := e.store.GetAllFuzzyResults()
	if err != nil {
		e.finish(tok, err)
		return
	}
	// entriesOf holds every (type, old value) pair recorded at an
	// address: a store can legitimately hold two FuzzyResults at the same
	// address under different Types (e.g. promoted from two ExactResults
	// that collided on address but not Type), and each must be evaluated
	// against its own old snapshot, not whichever one was written last.
	type fuzzyEntry struct {
		typ scantypes.ValueType
		old [8]byte
	}
	entriesOf := make(map[uint64][]fuzzyEntry, len(existing))
	seenAddr := make(map[uint64]bool, len(existing))
	var addrs []uint64
	for _, r := range existing {
		entriesOf[r.Address] = append(entriesOf[r.Address], fuzzyEntry{typ: r.Type, old: r.Value})
		if !seenAddr[r.Address] {
			seenAddr[r.Address] = true
			addrs = append(addrs, r.Address)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	elemSize := 8
	clusters := buildClusters(addrs, elemSize)
	total := len(clusters)
	processed := 0

	var survivors []resultstore.FuzzyResult
	for _, c := range clusters {
		if e.cancelled(tok) {
			break
		}
		reads := readOneCluster(e.gw, e.bp, c, elemSize)
		for _, rr := range reads {
			if !rr.ok {
				continue
			}
			for _, entry := range entriesOf[rr.address] {
				n := entry.typ.Size()
				if n == 0 || n > 8 {
					n = 8
				}
				if cond.Evaluate(entry.old[:n], rr.data[:n], entry.typ) {
					survivors = append(survivors, resultstore.FuzzyResult{Address: rr.address, Value: rr.data, Type: entry.typ})
				}
			}
		}
		processed++
		if processed%100 == 0 || processed == total {
			e.publishProgress(processed, total, 100)
		}
	}

	if !e.cancelled(tok) {
		sort.Slice(survivors, func(i, j int) bool { return survivors[i].Address < survivors[j].Address })
		if err := e.store.ReplaceAllFuzzyResults(survivors); err != nil {
			e.finish(tok, err)
			return
		}
	}
	e.finish(tok, nil)
}

package search

import (
	"bytes"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/memwalk/engine/internal/config"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/pattern"
	"github.com/memwalk/engine/resultstore"
	"github.com/memwalk/engine/scantypes"
	"github.com/memwalk/engine/status"
)

var (
	// ErrAlreadySearching is returned by every submission entry point when
	// a search is already in flight (§4.4, step 1).
	ErrAlreadySearching = errors.E(errors.Precondition, "search: a search is already in progress")
	// ErrEmptyStore is returned by refine entry points when the result
	// store has no existing records to refine against.
	ErrEmptyStore = errors.E(errors.Precondition, "search: refine requires a non-empty result store")
)

// Executor is the central search coordinator (§4.4). One Executor owns one
// Gateway-bound process, one result store, and one status buffer; only one
// search may run at a time.
type Executor struct {
	gw     *memaccess.Gateway
	bp     *memaccess.BoundProcess
	store  *resultstore.Store
	status *status.Buffer

	compatMode bool
	chunkSize  int
	grainSize  int

	mu      sync.Mutex
	running bool
	token   *CancelToken
}

// New creates an Executor over an already-bound process, defaulting its
// chunk/grain sizes from config.DefaultOpts (§4.4.2/§4.4.3); override with
// SetChunkSize/SetGrainSize.
func New(gw *memaccess.Gateway, bp *memaccess.BoundProcess, store *resultstore.Store, st *status.Buffer) *Executor {
	return &Executor{
		gw:        gw,
		bp:        bp,
		store:     store,
		status:    st,
		chunkSize: config.DefaultOpts.ChunkSize,
		grainSize: config.DefaultOpts.GrainSize,
	}
}

// SetCompatMode toggles §4.4.8: when on, every exact search's survivors are
// promoted to FuzzyResults before being stored.
func (e *Executor) SetCompatMode(on bool) { e.compatMode = on }

// SetChunkSize overrides the per-region read granularity (§4.4.2).
func (e *Executor) SetChunkSize(n int) { e.chunkSize = n }

// SetGrainSize overrides the per-goroutine unit of work within one chunk
// (§4.4.3).
func (e *Executor) SetGrainSize(n int) { e.grainSize = n }

// Cancel requests cancellation of the in-flight search, mirroring the
// status buffer's cancel flag into the executor's token (§4.4.9).
func (e *Executor) Cancel() {
	e.status.RequestCancel()
	e.mu.Lock()
	tok := e.token
	e.mu.Unlock()
	if tok != nil {
		tok.Trip()
	}
}

func (e *Executor) cancelled(tok *CancelToken) bool {
	return tok.Cancelled() || e.status.CancelRequested()
}

// begin implements submission steps 1-3: reject if already running, reset
// the status buffer, mint a cancellation token.
func (e *Executor) begin(phase status.Phase) (*CancelToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrAlreadySearching
	}
	e.running = true
	e.token = NewCancelToken()
	e.status.Reset(phase)
	return e.token, nil
}

// finish implements submission step 5: release the result store's
// exclusivity (there is none beyond the store's own mutex, which callers
// never hold across publish) and publish the terminal phase.
func (e *Executor) finish(tok *CancelToken, err error) {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	switch {
	case err != nil:
		log.Printf("search: terminated with error: %v", err)
		e.status.SetPhase(status.Error)
	case e.cancelled(tok):
		e.status.SetPhase(status.Cancelled)
	default:
		e.status.SetPhase(status.Completed)
	}
}

// StartSearchAsync begins a fresh scan over regions with q, storing exact
// survivors (§4.4 `start_search_async`). Runs on its own goroutine;
// callers observe progress via the status buffer.
func (e *Executor) StartSearchAsync(q scantypes.SearchQuery, regions []Region, useDeepSearch bool, keepResults bool) error {
	if err := q.Validate(); err != nil {
		return errors.E(errors.Invalid, err.Error())
	}
	tok, err := e.begin(status.Searching)
	if err != nil {
		return err
	}
	if !keepResults {
		e.store.SetMode(resultstore.Exact)
	} else if e.store.GetMode() != resultstore.Exact {
		e.store.SetMode(resultstore.Exact)
	}
	go e.runSearch(tok, q, regions, useDeepSearch)
	return nil
}

func (e *Executor) runSearch(tok *CancelToken, q scantypes.SearchQuery, regions []Region, deep bool) {
	var results []resultstore.ExactResult
	var mu sync.Mutex
	completed := int32(0)

	_ = traverse.Each(len(regions), func(i int) error {
		if e.cancelled(tok) {
			return nil
		}
		found := e.scanRegion(tok, regions[i], q, deep)
		mu.Lock()
		results = append(results, found...)
		completed++
		e.publishProgress(int(completed), len(regions), 100)
		mu.Unlock()
		return nil
	})

	results = dedup(results)
	if !e.cancelled(tok) {
		if err := e.store.AddResultsBatch(results); err != nil {
			e.finish(tok, err)
			return
		}
		if e.compatMode {
			e.promoteToFuzzy(tok)
		}
	}
	e.finish(tok, nil)
}

// scanRegion runs the chunked outer loop of §4.4.2 over one region.
func (e *Executor) scanRegion(tok *CancelToken, r Region, q scantypes.SearchQuery, deep bool) []resultstore.ExactResult {
	var out []resultstore.ExactResult
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
		if err := e.gw.Read(e.bp, current, buf, bm); err != nil {
			current += uint64(length)
			continue
		}

		var addrs []uint64
		if q.IsGroup() {
			addrs = matchGroup(buf, current, r.Start, r.End, q, bm, deep, e.grainSize)
		} else {
			addrs = matchSingle(buf, current, r.Start, r.End, q.Values[0], bm, e.grainSize)
		}
		for _, a := range addrs {
			out = append(out, resultstore.ExactResult{Address: a, Type: q.Values[0].Type()})
		}
		current += uint64(length)
	}
	return out
}

func (e *Executor) publishProgress(done, total int, scale uint32) {
	pct := uint32(0)
	if total > 0 {
		pct = uint32(done) * scale / uint32(total)
	}
	e.status.Publish(pct, uint32(done))
}

func dedup(results []resultstore.ExactResult) []resultstore.ExactResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Address != results[j].Address {
			return results[i].Address < results[j].Address
		}
		return results[i].Type < results[j].Type
	})
	out := results[:0]
	for i, r := range results {
		if i == 0 || r != out[len(out)-1] {
			out = append(out, r)
		}
	}
	return out
}

// StartPatternSearchAsync scans regions for a masked byte pattern,
// storing survivors as exact (Pattern-typed) results (§4.4.7).
func (e *Executor) StartPatternSearchAsync(p []scantypes.MaskedByte, regions []Region) error {
	tok, err := e.begin(status.Searching)
	if err != nil {
		return err
	}
	e.store.SetMode(resultstore.Exact)
	go e.runPatternSearch(tok, p, regions)
	return nil
}

func (e *Executor) runPatternSearch(tok *CancelToken, p []scantypes.MaskedByte, regions []Region) {
	var results []resultstore.ExactResult
	var mu sync.Mutex
	completed := int32(0)

	value := scantypes.NewPattern(p)
	_ = traverse.Each(len(regions), func(i int) error {
		if e.cancelled(tok) {
			return nil
		}
		r := regions[i]
		var found []uint64
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
				found = append(found, matchPattern(buf, current, r.Start, r.End, p, bm)...)
			}
			current += uint64(length)
		}
		mu.Lock()
		for _, a := range found {
			results = append(results, resultstore.ExactResult{Address: a, Type: value.Type()})
		}
		completed++
		e.publishProgress(int(completed), len(regions), 100)
		mu.Unlock()
		return nil
	})

	results = dedup(results)
	if !e.cancelled(tok) {
		if err := e.store.AddResultsBatch(results); err != nil {
			e.finish(tok, err)
			return
		}
	}
	e.finish(tok, nil)
}

// promoteToFuzzy implements §4.4.8: re-read every exact survivor and
// replace the store's contents with FuzzyResults built from the fresh
// bytes, reusing the cluster-batch-read path.
func (e *Executor) promoteToFuzzy(tok *CancelToken) {
	exact, err := e.store.GetAllExactResults()
	if err != nil || len(exact) == 0 {
		return
	}
	// typesOf holds every type recorded at an address: dedup keys on
	// (Address, Type), so two ExactResults can share an address with
	// different Types, and both must be promoted to their own FuzzyResult.
	typesOf := make(map[uint64][]scantypes.ValueType, len(exact))
	seenAddr := make(map[uint64]bool, len(exact))
	var addrs []uint64
	maxElem := 1
	for _, r := range exact {
		typesOf[r.Address] = append(typesOf[r.Address], r.Type)
		if !seenAddr[r.Address] {
			seenAddr[r.Address] = true
			addrs = append(addrs, r.Address)
		}
		if s := r.Type.Size(); s > maxElem {
			maxElem = s
		}
	}
	if maxElem > 8 {
		maxElem = 8
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	clusters := buildClusters(addrs, maxElem)
	reads := readClusters(e.gw, e.bp, clusters, maxElem)

	fuzzy := make([]resultstore.FuzzyResult, 0, len(reads))
	for _, rr := range reads {
		if !rr.ok {
			continue
		}
		for _, typ := range typesOf[rr.address] {
			fuzzy = append(fuzzy, resultstore.FuzzyResult{Address: rr.address, Value: rr.data, Type: typ})
		}
	}
	e.store.SetMode(resultstore.Fuzzy)
	_ = e.store.AddFuzzyResultsBatch(fuzzy)
}

func matchPattern(buf []byte, base, searchStart, searchEnd uint64, mb []scantypes.MaskedByte, bitmap *memaccess.PageBitmap) []uint64 {
	anchor := pattern.AnchorIndex(mb)
	var out []uint64
	inRange := func(addr uint64) bool { return addr >= searchStart && addr < searchEnd }
	pageOK := func(off int) bool {
		if bitmap == nil {
			return true
		}
		return bitmap.Test(memaccess.PageOf(off))
	}

	if anchor < 0 {
		for pos := 0; pos+len(mb) <= len(buf); pos++ {
			addr := base + uint64(pos)
			if !inRange(addr) || !pageOK(pos) {
				continue
			}
			if patternMatches(buf[pos:pos+len(mb)], mb) {
				out = append(out, addr)
			}
		}
		return out
	}

	anchorByte := mb[anchor].Value
	off := 0
	for {
		rel := bytes.IndexByte(buf[off:], anchorByte)
		if rel < 0 {
			break
		}
		pos := off + rel
		start := pos - anchor
		if start >= 0 && start+len(mb) <= len(buf) {
			addr := base + uint64(start)
			if inRange(addr) && pageOK(start) && patternMatches(buf[start:start+len(mb)], mb) {
				out = append(out, addr)
			}
		}
		off = pos + 1
	}
	return out
}

func patternMatches(mem []byte, mb []scantypes.MaskedByte) bool {
	for i, m := range mb {
		if mem[i]&m.Mask != m.Value&m.Mask {
			return false
		}
	}
	return true
}

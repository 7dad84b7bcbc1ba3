package pointerscan

import (
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/memwalk/engine/internal/config"
	"github.com/memwalk/engine/mapqueue"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/memrange"
	"github.com/memwalk/engine/search"
	"github.com/memwalk/engine/status"
)

var (
	// ErrAlreadyScanning mirrors search.ErrAlreadySearching for the
	// pointer-chain coordinator: only one scan may run at a time.
	ErrAlreadyScanning = errors.E(errors.Precondition, "pointerscan: a scan is already in progress")
	// ErrNoRegions is returned when the caller submits an empty region list.
	ErrNoRegions = errors.E(errors.Invalid, "pointerscan: region list must not be empty")
)

// Config holds the parameters of one pointer-chain scan (§4.5).
type Config struct {
	Target     uint64
	Depth      int
	Window     uint64
	Alignment  uint64 // candidate stride in Phase 1; 0 defaults to 8
	MaxResults int
}

// Result summarizes a completed scan: the unclamped total chain count
// (from the prefix-sum tables, not from enumeration) and how many lines
// were actually written to the output file.
type Result struct {
	PointersFound int
	ChainsFound   int64
	ChainsWritten int
	Truncated     []int // BFS levels truncated at maxFrontier
}

// Scanner is the pointer-chain coordinator: one bound process, one cache
// directory for BFS spill, one status buffer. Mirrors search.Executor's
// submission discipline (reject-if-running, reset status, mint a fresh
// cancellation token) since both are single-flight engine coordinators
// sharing the same status-buffer consumer contract (§4.4.9, §4.5).
type Scanner struct {
	gw       *memaccess.Gateway
	bp       *memaccess.BoundProcess
	status   *status.Buffer
	cacheDir string

	maxFrontier int

	mu      sync.Mutex
	running bool
	token   *search.CancelToken
}

// New creates a Scanner over an already-bound process. cacheDir backs the
// MapQueue spill files used for the Phase 1 pointer collection. The BFS
// frontier cap defaults from config.DefaultOpts; override with
// SetMaxFrontier.
func New(gw *memaccess.Gateway, bp *memaccess.BoundProcess, st *status.Buffer, cacheDir string) *Scanner {
	return &Scanner{gw: gw, bp: bp, status: st, cacheDir: cacheDir, maxFrontier: config.DefaultOpts.MaxFrontier}
}

// SetMaxFrontier overrides the per-level BFS frontier cap (§4.5
// "Truncation").
func (s *Scanner) SetMaxFrontier(n int) { s.maxFrontier = n }

// Cancel requests cancellation of the in-flight scan.
func (s *Scanner) Cancel() {
	s.status.RequestCancel()
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	if tok != nil {
		tok.Trip()
	}
}

func (s *Scanner) cancelled(tok *search.CancelToken) bool {
	return tok.Cancelled() || s.status.CancelRequested()
}

func (s *Scanner) begin() (*search.CancelToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyScanning
	}
	s.running = true
	s.token = search.NewCancelToken()
	s.status.Reset(status.ScanningPointers)
	return s.token, nil
}

func (s *Scanner) finish(code status.ErrorCode) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	switch {
	case code != status.NoError:
		s.status.SetErrorCode(code)
		s.status.SetPhase(status.Error)
	case s.status.CancelRequested():
		s.status.SetPhase(status.Cancelled)
	default:
		s.status.SetPhase(status.Completed)
	}
}

// Run executes the two-phase scan (§4.5) and writes the resulting
// chains to out. Runs synchronously on the caller's goroutine once
// submission succeeds; callers that want async behavior wrap this in their
// own goroutine (unlike search.Executor's Start*Async entry points, which
// start their own).
func (s *Scanner) Run(cfg Config, regions []Region, out io.Writer) (Result, error) {
	if len(regions) == 0 {
		return Result{}, ErrNoRegions
	}
	tok, err := s.begin()
	if err != nil {
		return Result{}, err
	}

	modules := unifyModules(regions)
	validRanges := make([]memrange.Range, 0, len(regions))
	for _, r := range regions {
		validRanges = append(validRanges, memrange.Range{Start: r.Start, End: r.End})
	}
	valid := memrange.Build(validRanges)

	pointers := collectPointers(s.gw, s.bp, regions, cfg.Alignment, valid, func() bool { return s.cancelled(tok) })
	s.status.SetPointersFound(int64(len(pointers)))

	if s.cancelled(tok) {
		s.finish(status.NoError)
		return Result{PointersFound: len(pointers)}, nil
	}
	if len(pointers) == 0 {
		s.finish(status.MemoryReadFailed)
		return Result{}, errors.E(errors.Unknown, "pointerscan: no candidate pointers found in any region")
	}

	queue := mapqueue.New[PointerData](s.cacheDir)
	queue.ExtendFromSlice(pointers)
	defer queue.Close()

	s.status.SetPhase(status.BuildingChains)
	bfs := reverseBFS(cfg.Target, queue, cfg.Depth, cfg.Window, modules, func() bool { return s.cancelled(tok) }, s.maxFrontier)
	for _, lvl := range bfs.truncated {
		log.Printf("pointerscan: level %d frontier truncated at %d candidates", lvl, s.maxFrontier)
	}
	s.status.SetCurrentDepth(uint32(len(bfs.dirsByLevel) - 1))

	if s.cancelled(tok) {
		s.finish(status.NoError)
		return Result{PointersFound: len(pointers)}, nil
	}

	counts := buildCounts(bfs.dirsByLevel)
	var total int64
	for _, r := range bfs.ranges {
		total += chainCount(counts, r)
	}
	s.status.SetChainsFound(total)

	s.status.SetPhase(status.WritingFile)
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = len(bfs.ranges)
	}
	if err := WriteHeader(out, cfg.Target, cfg.Depth, cfg.Window); err != nil {
		s.finish(status.StorageError)
		return Result{}, errors.E(err, errors.Unknown, "pointerscan: writing output header")
	}
	written, err := emitChains(out, bfs.ranges, bfs.dirsByLevel, modules, maxResults)
	if err != nil {
		s.finish(status.StorageError)
		return Result{}, errors.E(err, errors.Unknown, "pointerscan: writing chains")
	}

	s.finish(status.NoError)
	return Result{
		PointersFound: len(pointers),
		ChainsFound:   total,
		ChainsWritten: written,
		Truncated:     bfs.truncated,
	}, nil
}

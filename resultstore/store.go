package resultstore

import (
	"sync"

	"github.com/grailbio/base/errors"
)

const (
	exactRecordSize = 16 // address(8) + type(4), padded — §3.2
	fuzzyRecordSize = 20 // address(8) + value(8) + type(4)
)

var (
	// ErrWrongMode is returned when a mutation is attempted against a store
	// in the wrong schema (e.g. add_fuzzy_results_batch while in Exact
	// mode).
	ErrWrongMode = errors.E(errors.Precondition, "resultstore: operation not valid in current mode")
)

// Store is the façade exposing a uniform API over two internal tier
// managers, one per result schema (§4.3). Only one schema is live at a
// time; SetMode clears the store.
type Store struct {
	mu sync.RWMutex

	memBudgetBytes int
	cacheDir       string

	mode   Mode
	exact  *tierManager[ExactResult]
	fuzzy  *tierManager[FuzzyResult]
	closed bool
}

// New initializes a Store in Exact mode with no contents (§4.3 `init`).
func New(memBudgetBytes int, cacheDir string) *Store {
	s := &Store{memBudgetBytes: memBudgetBytes, cacheDir: cacheDir}
	s.exact = newTierManager[ExactResult](memBudgetBytes, exactRecordSize, cacheDir)
	s.fuzzy = newTierManager[FuzzyResult](memBudgetBytes, fuzzyRecordSize, cacheDir)
	return s
}

// GetMode returns the store's current schema.
func (s *Store) GetMode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches schema, clearing all contents (§4.3 invariant: every
// record in a store shares one mode).
func (s *Store) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.exact.Clear()
	s.fuzzy.Clear()
}

// AddResult appends one exact record. The caller must already be in Exact
// mode.
func (s *Store) AddResult(r ExactResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Exact {
		return ErrWrongMode
	}
	s.exact.Push(r)
	return nil
}

// AddResultsBatch appends many exact records.
func (s *Store) AddResultsBatch(rs []ExactResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Exact {
		return ErrWrongMode
	}
	s.exact.PushBatch(rs)
	return nil
}

// AddFuzzyResultsBatch appends many fuzzy records. The caller must already
// be in Fuzzy mode.
func (s *Store) AddFuzzyResultsBatch(rs []FuzzyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Fuzzy {
		return ErrWrongMode
	}
	s.fuzzy.PushBatch(rs)
	return nil
}

// ReplaceAllFuzzyResults atomically swaps the fuzzy tier's contents,
// reusing the spill file where the new set fits (§4.3, used by fuzzy
// refine).
func (s *Store) ReplaceAllFuzzyResults(rs []FuzzyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Fuzzy {
		return ErrWrongMode
	}
	s.fuzzy.ReplaceAll(rs)
	return nil
}

// ReplaceAllExactResults atomically swaps the exact tier's contents; used
// by a group refine, which clears the store then adds survivors in
// address-sorted order (§4.4.3 "group refine").
func (s *Store) ReplaceAllExactResults(rs []ExactResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Exact {
		return ErrWrongMode
	}
	s.exact.ReplaceAll(rs)
	return nil
}

// TotalCount returns the live record count in the active tier.
func (s *Store) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active().Len()
}

// GetExactResults returns a page of up to size exact records starting at
// start, address-ascending (§4.3 `get_results`; callers insert in address
// order so paging needs no sort on read — the tiers keep insertion order).
// Valid only in Exact mode.
func (s *Store) GetExactResults(start, size int) ([]ExactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != Exact {
		return nil, ErrWrongMode
	}
	return s.exact.Page(start, size), nil
}

// GetFuzzyResults returns a page of up to size fuzzy records starting at
// start, address-ascending. Valid only in Fuzzy mode.
func (s *Store) GetFuzzyResults(start, size int) ([]FuzzyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != Fuzzy {
		return nil, ErrWrongMode
	}
	return s.fuzzy.Page(start, size), nil
}

// GetAllExactResults returns every exact record. Valid only in Exact mode.
func (s *Store) GetAllExactResults() ([]ExactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != Exact {
		return nil, ErrWrongMode
	}
	return s.exact.All(), nil
}

// GetAllFuzzyResults returns every fuzzy record. Valid only in Fuzzy mode.
func (s *Store) GetAllFuzzyResults() ([]FuzzyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != Fuzzy {
		return nil, ErrWrongMode
	}
	return s.fuzzy.All(), nil
}

// RemoveResult removes the record at logical index i.
func (s *Store) RemoveResult(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active().RemoveBatch([]int{i})
}

// RemoveResultsBatch removes the records at the given indices (sorted,
// deduped, then compacted in one pass per tier — §4.3 "Remove semantics").
func (s *Store) RemoveResultsBatch(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active().RemoveBatch(indices)
}

// KeepOnlyResults keeps only the records at the given indices, choosing
// between a batch-remove or a rebuild-from-keep-list strategy depending on
// which side is cheaper (§4.3 "Remove semantics").
func (s *Store) KeepOnlyResults(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active().KeepOnly(indices)
}

// Clear empties the active tier without changing mode.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active().Clear()
}

// Close releases both tiers' spill files. Safe to call once, typically
// when the owning engine instance is torn down.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err1 := s.exact.Close()
	err2 := s.fuzzy.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) active() interface {
	Len() int
	RemoveBatch([]int)
	KeepOnly([]int)
	Clear()
} {
	if s.mode == Exact {
		return s.exact
	}
	return s.fuzzy
}

package resultstore

import (
	"testing"

	"github.com/memwalk/engine/scantypes"
	"github.com/stretchr/testify/require"
)

func TestAddAndGetExact(t *testing.T) {
	s := New(0, t.TempDir()) // memBudget 0: everything spills straight to disk
	defer s.Close()
	s.SetMode(Exact)

	for i := uint64(0); i < 50; i++ {
		require.NoError(t, s.AddResult(ExactResult{Address: i * 8, Type: scantypes.Dword}))
	}
	require.Equal(t, 50, s.TotalCount())

	page, err := s.GetExactResults(10, 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	require.Equal(t, uint64(80), page[0].Address)
}

func TestModeSwitchClears(t *testing.T) {
	s := New(1<<20, t.TempDir())
	defer s.Close()
	s.SetMode(Exact)
	require.NoError(t, s.AddResult(ExactResult{Address: 1}))
	require.Equal(t, 1, s.TotalCount())

	s.SetMode(Fuzzy)
	require.Equal(t, 0, s.TotalCount())
	_, err := s.GetAllExactResults()
	require.ErrorIs(t, err, ErrWrongMode)
}

func TestRemoveResultsBatch(t *testing.T) {
	s := New(1<<20, t.TempDir())
	defer s.Close()
	s.SetMode(Exact)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.AddResult(ExactResult{Address: i}))
	}
	s.RemoveResultsBatch([]int{0, 2, 4, 9})
	all, err := s.GetAllExactResults()
	require.NoError(t, err)
	require.Len(t, all, 6)
	require.Equal(t, uint64(1), all[0].Address)
	require.Equal(t, uint64(3), all[1].Address)
}

func TestKeepOnlyResultsFewSurvivors(t *testing.T) {
	s := New(1<<20, t.TempDir())
	defer s.Close()
	s.SetMode(Exact)
	for i := uint64(0); i < 100; i++ {
		require.NoError(t, s.AddResult(ExactResult{Address: i}))
	}
	s.KeepOnlyResults([]int{5, 10, 15}) // 3 survivors out of 100: rebuild path
	all, err := s.GetAllExactResults()
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 10, 15}, []uint64{all[0].Address, all[1].Address, all[2].Address})
}

func TestKeepOnlyResultsManySurvivors(t *testing.T) {
	s := New(1<<20, t.TempDir())
	defer s.Close()
	s.SetMode(Exact)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.AddResult(ExactResult{Address: i}))
	}
	s.KeepOnlyResults([]int{0, 1, 2, 3, 4, 5, 6, 7}) // 8 of 10 survive: compaction path
	require.Equal(t, 8, s.TotalCount())
}

func TestSpillAcrossMemoryAndDiskTiers(t *testing.T) {
	s := New(exactRecordSize*4, t.TempDir()) // room for 4 in memory, rest spills
	defer s.Close()
	s.SetMode(Exact)
	for i := uint64(0); i < 20; i++ {
		require.NoError(t, s.AddResult(ExactResult{Address: i}))
	}
	require.Equal(t, 20, s.TotalCount())
	all, err := s.GetAllExactResults()
	require.NoError(t, err)
	for i, r := range all {
		require.Equal(t, uint64(i), r.Address)
	}
}

func TestReplaceAllFuzzyResults(t *testing.T) {
	s := New(1<<20, t.TempDir())
	defer s.Close()
	s.SetMode(Fuzzy)
	require.NoError(t, s.AddFuzzyResultsBatch([]FuzzyResult{{Address: 1}, {Address: 2}}))
	require.NoError(t, s.ReplaceAllFuzzyResults([]FuzzyResult{{Address: 9}}))
	all, err := s.GetAllFuzzyResults()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(9), all[0].Address)
}

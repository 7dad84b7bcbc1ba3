package search

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/resultstore"
	"github.com/memwalk/engine/scantypes"
	"github.com/memwalk/engine/status"
	"github.com/stretchr/testify/require"
)

// fakeDriver serves reads out of one flat in-memory buffer (the pid is
// ignored), mirroring memaccess's own test driver (§1: real driver is out of scope).
type fakeDriver struct {
	buf []byte
}

func (d *fakeDriver) Bind(pid int) (memaccess.BoundHandle, error)      { return 1, nil }
func (d *fakeDriver) Unbind(h memaccess.BoundHandle) error             { return nil }
func (d *fakeDriver) SetMemoryType(h memaccess.BoundHandle, t int) error { return nil }

func (d *fakeDriver) ReadPhysicalMemory(pid int, srcVA uint64, dst []byte, bitmap *memaccess.PageBitmap) error {
	n := copy(dst, d.buf[srcVA:])
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	if bitmap != nil {
		bitmap.SetAll()
	}
	return nil
}
func (d *fakeDriver) WritePhysicalMemory(pid int, src []byte, dstVA uint64) error {
	copy(d.buf[dstVA:], src)
	return nil
}
func (d *fakeDriver) ReadMemory(pid int, srcVA uint64, dst []byte) error {
	return d.ReadPhysicalMemory(pid, srcVA, dst, nil)
}
func (d *fakeDriver) WriteMemory(pid int, dstVA uint64, src []byte) error {
	return d.WritePhysicalMemory(pid, src, dstVA)
}
func (d *fakeDriver) BoundRead(h memaccess.BoundHandle, va uint64, dst []byte, bitmap *memaccess.PageBitmap) error {
	return d.ReadPhysicalMemory(0, va, dst, bitmap)
}
func (d *fakeDriver) BoundWrite(h memaccess.BoundHandle, va uint64, src []byte) error {
	return d.WritePhysicalMemory(0, src, va)
}

func newExecutor(t *testing.T, bufSize int) (*Executor, *fakeDriver, *status.Buffer) {
	t.Helper()
	d := &fakeDriver{buf: make([]byte, bufSize)}
	gw := memaccess.New()
	gw.SetDriver(d)
	bp, err := gw.BindProcess(1, memaccess.ModeNone)
	require.NoError(t, err)
	store := resultstore.New(1<<20, t.TempDir())
	st := status.New(make([]byte, status.Size))
	return New(gw, bp, store, st), d, st
}

func waitDone(t *testing.T, st *status.Buffer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p := st.Phase()
		if p == status.Completed || p == status.Cancelled || p == status.Error {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("search did not complete in time")
}

func TestStartSearchAsyncFindsValue(t *testing.T) {
	exec, d, st := newExecutor(t, 64*1024)
	binary.LittleEndian.PutUint32(d.buf[100:], 0xDEADBEEF)
	binary.LittleEndian.PutUint32(d.buf[5000:], 0xDEADBEEF)

	q := scantypes.SearchQuery{Values: []scantypes.SearchValue{scantypes.NewFixedInt(int64(int32(0xDEADBEEF)), scantypes.Dword)}}
	require.NoError(t, exec.StartSearchAsync(q, []Region{{Start: 0, End: 64 * 1024}}, false, false))
	waitDone(t, st)
	require.Equal(t, status.Completed, st.Phase())

	all, err := exec.store.GetAllExactResults()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(100), all[0].Address)
	require.Equal(t, uint64(5000), all[1].Address)
}

func TestAlreadySearchingRejected(t *testing.T) {
	exec, _, st := newExecutor(t, 1024*1024)
	q := scantypes.SearchQuery{Values: []scantypes.SearchValue{scantypes.NewFixedInt(1, scantypes.Byte)}}
	require.NoError(t, exec.StartSearchAsync(q, []Region{{Start: 0, End: 1024 * 1024}}, false, false))
	err := exec.StartSearchAsync(q, []Region{{Start: 0, End: 1024}}, false, false)
	require.ErrorIs(t, err, ErrAlreadySearching)
	waitDone(t, st)
}

func TestCancelStopsSearch(t *testing.T) {
	exec, _, st := newExecutor(t, 8*1024*1024)
	q := scantypes.SearchQuery{Values: []scantypes.SearchValue{scantypes.NewFixedInt(0, scantypes.Byte)}}
	require.NoError(t, exec.StartSearchAsync(q, []Region{{Start: 0, End: 8 * 1024 * 1024}}, false, false))
	exec.Cancel()
	waitDone(t, st)
	require.Equal(t, status.Cancelled, st.Phase())
}

func TestPatternSearch(t *testing.T) {
	exec, d, st := newExecutor(t, 4096)
	d.buf[200] = 0xDE
	d.buf[201] = 0xAD
	d.buf[202] = 0x12 // wildcard position
	d.buf[203] = 0xBE

	mask := []scantypes.MaskedByte{
		{Value: 0xDE, Mask: 0xFF},
		{Value: 0xAD, Mask: 0xFF},
		{Value: 0x00, Mask: 0x00},
		{Value: 0xBE, Mask: 0xFF},
	}
	require.NoError(t, exec.StartPatternSearchAsync(mask, []Region{{Start: 0, End: 4096}}))
	waitDone(t, st)

	all, err := exec.store.GetAllExactResults()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(200), all[0].Address)
}

func TestRefineNarrowsResults(t *testing.T) {
	exec, d, st := newExecutor(t, 4096)
	binary.LittleEndian.PutUint32(d.buf[0:], 100)
	binary.LittleEndian.PutUint32(d.buf[4:], 200)
	binary.LittleEndian.PutUint32(d.buf[8:], 300)

	q1 := scantypes.SearchQuery{Values: []scantypes.SearchValue{scantypes.NewRangeInt(0, 1000, scantypes.Dword, false)}}
	require.NoError(t, exec.StartSearchAsync(q1, []Region{{Start: 0, End: 12}}, false, false))
	waitDone(t, st)
	all, _ := exec.store.GetAllExactResults()
	require.Len(t, all, 3)

	q2 := scantypes.SearchQuery{Values: []scantypes.SearchValue{scantypes.NewFixedInt(200, scantypes.Dword)}}
	require.NoError(t, exec.StartRefineAsync(q2))
	waitDone(t, st)
	all, _ = exec.store.GetAllExactResults()
	require.Len(t, all, 1)
	require.Equal(t, uint64(4), all[0].Address)
}

func TestFuzzySearchAndRefine(t *testing.T) {
	exec, d, st := newExecutor(t, 4096)
	binary.LittleEndian.PutUint32(d.buf[0:], 10)
	binary.LittleEndian.PutUint32(d.buf[4:], 20)

	require.NoError(t, exec.StartFuzzySearchAsync(scantypes.Dword, []Region{{Start: 0, End: 8}}, false))
	waitDone(t, st)
	all, err := exec.store.GetAllFuzzyResults()
	require.NoError(t, err)
	require.Len(t, all, 2)

	binary.LittleEndian.PutUint32(d.buf[0:], 11) // increased
	binary.LittleEndian.PutUint32(d.buf[4:], 19) // decreased

	require.NoError(t, exec.StartFuzzyRefineAsync(scantypes.FuzzyCondition{Kind: scantypes.Increased}))
	waitDone(t, st)
	all, err = exec.store.GetAllFuzzyResults()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(0), all[0].Address)
}

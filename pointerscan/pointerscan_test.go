package pointerscan

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/status"
	"github.com/stretchr/testify/require"
)

// fakeDriver serves reads out of one flat in-memory buffer, mirroring
// search's own test driver (a real driver is out of scope, §1).
type fakeDriver struct {
	buf []byte
}

func (d *fakeDriver) Bind(pid int) (memaccess.BoundHandle, error) { return 1, nil }
func (d *fakeDriver) Unbind(h memaccess.BoundHandle) error        { return nil }
func (d *fakeDriver) SetMemoryType(h memaccess.BoundHandle, t int) error {
	return nil
}
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

func newScanner(t *testing.T, bufSize int) (*Scanner, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{buf: make([]byte, bufSize)}
	gw := memaccess.New()
	gw.SetDriver(d)
	bp, err := gw.BindProcess(1, memaccess.ModeNone)
	require.NoError(t, err)
	st := status.New(make([]byte, status.Size))
	return New(gw, bp, st, t.TempDir()), d
}

func TestRunFindsSingleHopChain(t *testing.T) {
	s, d := newScanner(t, 0x8000)
	// One static-module pointer at 0x1050 referencing 0x4FF0, which lands
	// within window 0x20 of target 0x5000 (offset +0x10).
	binary.LittleEndian.PutUint64(d.buf[0x1050:], 0x4FF0)

	regions := []Region{
		{Start: 0x1000, End: 0x2000, Name: "/system/lib/libfoo.so", IsStatic: true, Perms: Perms{Read: true}},
		{Start: 0x4000, End: 0x6000, Name: "", IsStatic: false, Perms: Perms{Read: true}},
	}
	cfg := Config{Target: 0x5000, Depth: 1, Window: 0x20}

	var out bytes.Buffer
	res, err := s.Run(cfg, regions, &out)
	require.NoError(t, err)
	require.Equal(t, 1, res.PointersFound)
	require.EqualValues(t, 1, res.ChainsFound)
	require.Equal(t, 1, res.ChainsWritten)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	last := lines[len(lines)-1]
	require.Equal(t, "libfoo.so[0]+0x50->+0x10", last)
	require.Contains(t, out.String(), "# Target: 0x5000")
	require.Equal(t, status.Completed, s.status.Phase())
}

func TestRunDegenerateChainWhenTargetIsStatic(t *testing.T) {
	s, d := newScanner(t, 0x4000)
	// An incidental self-pointing value so Phase 1 doesn't come back empty;
	// irrelevant to the degenerate chain itself, which resolves before
	// Phase 2 ever looks at the collected pointer set.
	binary.LittleEndian.PutUint64(d.buf[0x1500:], 0x1000)
	regions := []Region{
		{Start: 0x1000, End: 0x2000, Name: "libbar.so", IsStatic: true, Perms: Perms{Read: true}},
	}
	cfg := Config{Target: 0x1080, Depth: 3, Window: 0x10}

	var out bytes.Buffer
	res, err := s.Run(cfg, regions, &out)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.ChainsFound)

	require.Contains(t, out.String(), "libbar.so[0]+0x80")
}

func TestRunNoRegionsRejected(t *testing.T) {
	s, _ := newScanner(t, 1024)
	var out bytes.Buffer
	_, err := s.Run(Config{Target: 1, Depth: 1}, nil, &out)
	require.ErrorIs(t, err, ErrNoRegions)
}

func TestRunNoPointersFoundIsMemoryReadFailed(t *testing.T) {
	s, _ := newScanner(t, 0x2000)
	// Region doesn't start at 0, so an all-zero buffer yields no value that
	// falls inside the valid range — Phase 1 should come back empty.
	regions := []Region{{Start: 0x1000, End: 0x1800, IsStatic: false, Perms: Perms{Read: true}}}
	var out bytes.Buffer
	_, err := s.Run(Config{Target: 0x1900, Depth: 1, Window: 0x10}, regions, &out)
	require.Error(t, err)
	require.Equal(t, status.MemoryReadFailed, s.status.ErrorCode())
}

func TestRunRejectsConcurrentScan(t *testing.T) {
	s, _ := newScanner(t, 0x2000)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	var out bytes.Buffer
	regions := []Region{{Start: 0, End: 0x1000, Perms: Perms{Read: true}}}
	_, err := s.Run(Config{Target: 1, Depth: 1}, regions, &out)
	require.ErrorIs(t, err, ErrAlreadyScanning)
}

func TestModuleUnificationSharesCanonicalBase(t *testing.T) {
	regions := []Region{
		{Start: 0x3000, End: 0x3100, Name: "libdup.so", IsStatic: true},
		{Start: 0x1000, End: 0x1100, Name: "libdup.so", IsStatic: true},
	}
	mods := unifyModules(regions)
	require.Len(t, mods, 2)
	// Unification preserves input order, not address order, for Index
	// assignment, but sorts the returned slice by Start for binary search.
	require.Equal(t, uint64(0x1000), mods[0].Start)
	require.Equal(t, uint64(0x3000), mods[1].Start)
	require.Equal(t, mods[0].CanonicalBase, mods[1].CanonicalBase)
	require.Equal(t, uint64(0x3000), mods[0].CanonicalBase)
}

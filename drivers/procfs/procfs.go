// Package procfs is a reference memaccess.Driver backed by /proc/<pid>/mem
// on Linux. The real kernel-driver transport this engine targets is
// deliberately out of scope (§1, §6); this is a genuine, if far slower and
// less capable, stand-in so the rest of the engine has something concrete
// to run against outside of tests.
//
// The wrapping shape — a small adapter holding open file handles behind the
// Driver interface, guarded by a mutex — follows the same
// wrap-a-raw-backend-behind-a-facade pattern markduplicates/file.go uses
// for its own I/O backend.
package procfs

import (
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/memwalk/engine/memaccess"
)

// Driver implements memaccess.Driver by pread/pwrite-ing /proc/<pid>/mem.
// It has no notion of "memory type" or physical-vs-bound paths — procfs
// exposes one uniform view of the target's virtual address space — so
// every Driver method funnels through the same read/write pair.
type Driver struct {
	mu    sync.Mutex
	files map[int]*os.File
}

// New returns a Driver with no processes bound yet.
func New() *Driver {
	return &Driver{files: make(map[int]*os.File)}
}

func (d *Driver) open(pid int) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[pid]; ok {
		return f, nil
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, errors.E(err, errors.Unknown, fmt.Sprintf("procfs: opening mem for pid %d", pid))
	}
	d.files[pid] = f
	return f, nil
}

// Bind opens /proc/<pid>/mem and returns pid itself as the bound handle —
// procfs has no richer handle concept than the already-open fd.
func (d *Driver) Bind(pid int) (memaccess.BoundHandle, error) {
	if _, err := d.open(pid); err != nil {
		return nil, err
	}
	return pid, nil
}

// Unbind closes the /proc/<pid>/mem file descriptor.
func (d *Driver) Unbind(h memaccess.BoundHandle) error {
	pid := h.(int)
	d.mu.Lock()
	f, ok := d.files[pid]
	if ok {
		delete(d.files, pid)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Close()
}

// SetMemoryType is a no-op: procfs exposes one memory view, not the
// cacheable/non-cacheable/physical distinctions a real kernel driver would
// let a caller select (§3.4 only matters when such a distinction exists).
func (d *Driver) SetMemoryType(memaccess.BoundHandle, int) error { return nil }

func (d *Driver) read(pid int, va uint64, dst []byte, bitmap *memaccess.PageBitmap) error {
	f, err := d.open(pid)
	if err != nil {
		return err
	}
	n, err := f.ReadAt(dst, int64(va))
	if bitmap != nil {
		for off := 0; off < n; off += memaccess.PageSize {
			// A short final page counts as read when the whole request was.
			if off+memaccess.PageSize <= n || n == len(dst) {
				bitmap.Set(memaccess.PageOf(off))
			}
		}
	}
	if n == 0 && err != nil {
		return errors.E(err, errors.Unknown, fmt.Sprintf("procfs: reading pid %d at 0x%x", pid, va))
	}
	return nil
}

func (d *Driver) write(pid int, va uint64, src []byte) error {
	f, err := d.open(pid)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(src, int64(va)); err != nil {
		return errors.E(err, errors.Unknown, fmt.Sprintf("procfs: writing pid %d at 0x%x", pid, va))
	}
	return nil
}

// ReadPhysicalMemory, ReadMemory and BoundRead all funnel through the same
// pread path — procfs draws no distinction between them.
func (d *Driver) ReadPhysicalMemory(pid int, srcVA uint64, dst []byte, bitmap *memaccess.PageBitmap) error {
	return d.read(pid, srcVA, dst, bitmap)
}
func (d *Driver) WritePhysicalMemory(pid int, src []byte, dstVA uint64) error {
	return d.write(pid, dstVA, src)
}
func (d *Driver) ReadMemory(pid int, srcVA uint64, dst []byte) error {
	return d.read(pid, srcVA, dst, nil)
}
func (d *Driver) WriteMemory(pid int, dstVA uint64, src []byte) error {
	return d.write(pid, dstVA, src)
}
func (d *Driver) BoundRead(h memaccess.BoundHandle, va uint64, dst []byte, bitmap *memaccess.PageBitmap) error {
	return d.read(h.(int), va, dst, bitmap)
}
func (d *Driver) BoundWrite(h memaccess.BoundHandle, va uint64, src []byte) error {
	return d.write(h.(int), va, src)
}

// Package memaccess implements the memory gateway (§4.1): uniform
// read/write access to a bound foreign process, selecting one of several
// kernel strategies based on the current AccessMode, with MTE tag
// stripping and per-page success reporting.
package memaccess

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// mteMask strips the ARM Memory Tagging Extension tag bits from a virtual
// address before any kernel call (§4.1).
const mteMask = 0x0000_FFFF_FFFF_FFFF

func canonicalize(addr uint64) uint64 { return addr & mteMask }

// Kernel request size caps (§4.1).
const (
	maxPhysicalReadBytes = 50 * 1024 * 1024
	maxBoundReadBytes    = 64 * 1024
)

var (
	ErrNoDriver      = errors.E(errors.Precondition, "memaccess: no driver bound")
	ErrNoProcess     = errors.E(errors.Precondition, "memaccess: no process bound")
	ErrAlreadyBound  = errors.E(errors.Precondition, "memaccess: process already bound")
	ErrRequestTooBig = errors.E(errors.Invalid, "memaccess: request exceeds kernel cap")
)

// BoundProcess is a live bind of a PID to a driver-side handle, optionally
// reprogrammed with an AccessMode. One BoundProcess exists per live PID; the
// Gateway rejects a second bind for the same PID (a carry-forward of
// driver_manager.rs's per-PID refcount, see SPEC_FULL.md §3).
type BoundProcess struct {
	pid    int
	handle BoundHandle
	mode   AccessMode
}

func (p *BoundProcess) PID() int { return p.pid }

// Gateway is the uniform read/write facade over a Driver. The driver handle
// is set once; the set of bound processes may change over the gateway's
// lifetime. Read/write calls take the read side of an RWMutex; bind/unbind
// take the write side (§5).
type Gateway struct {
	mu     sync.RWMutex
	driver Driver
	bound  map[int]*BoundProcess
}

// New creates a Gateway with no driver attached yet.
func New() *Gateway {
	return &Gateway{bound: make(map[int]*BoundProcess)}
}

// SetDriver attaches the kernel driver handle. Initialised once; not swapped
// thereafter by this engine (§3.5).
func (g *Gateway) SetDriver(d Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.driver = d
}

// BindProcess binds pid via the driver and returns a handle good for
// read/write/set-mode until UnbindProcess. mode selects the initial access
// strategy; ModeNone and ModePageFault need no driver-side programming.
func (g *Gateway) BindProcess(pid int, mode AccessMode) (*BoundProcess, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.driver == nil {
		return nil, ErrNoDriver
	}
	if _, ok := g.bound[pid]; ok {
		return nil, ErrAlreadyBound
	}
	handle, err := g.driver.Bind(pid)
	if err != nil {
		return nil, errors.E(err, errors.Unknown, fmt.Sprintf("binding pid %d", pid))
	}
	bp := &BoundProcess{pid: pid, handle: handle, mode: ModeNone}
	if err := g.reprogram(bp, mode); err != nil {
		_ = g.driver.Unbind(handle)
		return nil, err
	}
	g.bound[pid] = bp
	log.Printf("memaccess: bound pid %d mode %v", pid, mode)
	return bp, nil
}

// UnbindProcess releases a previously bound process.
func (g *Gateway) UnbindProcess(bp *BoundProcess) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.driver == nil {
		return ErrNoDriver
	}
	if _, ok := g.bound[bp.pid]; !ok {
		return ErrNoProcess
	}
	delete(g.bound, bp.pid)
	return g.driver.Unbind(bp.handle)
}

// SetMode reprograms bp's gateway strategy. A no-op for ModeNone/ModePageFault
// (§3.4); changing modes mid-scan is documented as the caller's
// responsibility to avoid (SPEC_FULL.md design notes carry this forward
// unchanged from spec.md §9).
func (g *Gateway) SetMode(bp *BoundProcess, mode AccessMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reprogram(bp, mode)
}

func (g *Gateway) reprogram(bp *BoundProcess, mode AccessMode) error {
	if mt, ok := mode.boundMemoryType(); ok {
		if err := g.driver.SetMemoryType(bp.handle, int(mt)); err != nil {
			return errors.E(err, errors.Unknown, fmt.Sprintf("programming memory type for pid %d", bp.pid))
		}
	}
	bp.mode = mode
	return nil
}

// Read reads len(dst) bytes from bp at addr, filling bitmap (if non-nil)
// with per-page success. dst is expected to be sized for a page-aligned
// chunk whose base is addr (the chunked read loop's responsibility, §4.4.2).
func (g *Gateway) Read(bp *BoundProcess, addr uint64, dst []byte, bitmap *PageBitmap) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.driver == nil {
		return ErrNoDriver
	}
	addr = canonicalize(addr)
	switch bp.mode.path() {
	case pathPhysical:
		if len(dst) > maxPhysicalReadBytes {
			return ErrRequestTooBig
		}
		return g.driver.ReadPhysicalMemory(bp.pid, addr, dst, bitmap)
	case pathUserPages:
		err := g.driver.ReadMemory(bp.pid, addr, dst)
		if err == nil && bitmap != nil {
			bitmap.SetAll()
		}
		return err
	default: // pathBound
		if len(dst) > maxBoundReadBytes {
			return ErrRequestTooBig
		}
		return g.driver.BoundRead(bp.handle, addr, dst, bitmap)
	}
}

// Write writes src to bp at addr, using the same path selection as Read.
func (g *Gateway) Write(bp *BoundProcess, addr uint64, src []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.driver == nil {
		return ErrNoDriver
	}
	addr = canonicalize(addr)
	switch bp.mode.path() {
	case pathPhysical:
		if len(src) > maxPhysicalReadBytes {
			return ErrRequestTooBig
		}
		return g.driver.WritePhysicalMemory(bp.pid, src, addr)
	case pathUserPages:
		return g.driver.WriteMemory(bp.pid, addr, src)
	default:
		if len(src) > maxBoundReadBytes {
			return ErrRequestTooBig
		}
		return g.driver.BoundWrite(bp.handle, addr, src)
	}
}

// Canonicalize exposes the MTE-strip for callers (e.g. the pointer scanner,
// which must strip candidate pointer values read out of memory before
// testing them against valid_ranges, §4.5) without round-tripping through a
// Read call.
func Canonicalize(addr uint64) uint64 { return canonicalize(addr) }

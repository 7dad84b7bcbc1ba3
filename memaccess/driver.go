package memaccess

// Driver is the kernel transport the gateway consumes, described only by
// the contract it must honour (§1, §6: "deliberately out of scope"). A real
// implementation talks to a kernel driver fd; tests substitute a fake
// backed by a plain byte slice.
//
// Every method returns a typed error; the gateway never inspects driver
// internals beyond what these five capabilities expose.
type Driver interface {
	// ReadPhysicalMemory reads len(dst) bytes from pid at srcVA using the
	// "physical frames" path. bitmap, if non-nil, gets one bit set per
	// successfully-read page covered by [srcVA, srcVA+len(dst)).
	ReadPhysicalMemory(pid int, srcVA uint64, dst []byte, bitmap *PageBitmap) error

	// WritePhysicalMemory writes src to pid at dstVA using the same path.
	WritePhysicalMemory(pid int, src []byte, dstVA uint64) error

	// ReadMemory reads len(dst) bytes from pid at srcVA via user-page
	// pinning (which may fault pages in). No per-page granularity: success
	// means the whole request succeeded.
	ReadMemory(pid int, srcVA uint64, dst []byte) error

	// WriteMemory is ReadMemory's write counterpart.
	WriteMemory(pid int, dstVA uint64, src []byte) error

	// BoundRead/BoundWrite/SetMemoryType operate on a bound-process handle
	// that has already been programmed with a memory type.
	BoundRead(handle BoundHandle, va uint64, dst []byte, bitmap *PageBitmap) error
	BoundWrite(handle BoundHandle, va uint64, src []byte) error
	SetMemoryType(handle BoundHandle, t int) error

	// Bind/Unbind manage the lifetime of a bound-process handle for a PID.
	Bind(pid int) (BoundHandle, error)
	Unbind(handle BoundHandle) error
}

// BoundHandle is an opaque driver-side reference to a bound process.
type BoundHandle interface{}

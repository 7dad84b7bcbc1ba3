// Package mapqueue implements MapQueue[T], an append-only typed vector
// backed by a private temp file memory-mapped into the process (§4.2). It
// exists so the pointer-chain scanner's intermediate BFS state — tens of
// millions of fixed-size records — can spill past what the Go heap and GC
// would tolerate on a phone-class device, leaning on the kernel's page
// cache instead.
//
// The mmap plumbing follows fusion/kmer_index.go's use of
// golang.org/x/sys/unix (Mmap/Madvise), adapted from an anonymous
// huge-paged hash table to a file-backed, growable vector.
package mapqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"github.com/grailbio/base/log"
	"github.com/minio/highwayhash"
	"golang.org/x/sys/unix"
)

const initialCapacity = 1024

// grow implements cap' = max(cap + cap/2, need) (§4.2).
func grow(cap, need int) int {
	g := cap + cap/2
	if g < need {
		g = need
	}
	if g < initialCapacity {
		g = initialCapacity
	}
	return g
}

var highwayKey = [32]byte{} // fixed key: this is a corruption tripwire, not a security boundary.

// MapQueue is a generic append-only vector of fixed-size records T, spilled
// to a private temp file under cacheDir. Growth creates a new, larger
// backing file, copies the live prefix, then unmaps and unlinks the old
// one. Not safe for concurrent structural mutation — callers serialize
// pushes themselves (the pointer-chain scanner only ever mutates a given
// queue from one goroutine at a time, per §4.2 "Thread safety").
type MapQueue[T any] struct {
	cacheDir string
	path     string
	file     *os.File
	data     []byte // mmap'd region, len == cap*sizeof(T)
	len      int
	cap      int
}

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// New creates an empty MapQueue; the backing file is created lazily on the
// first Push/Reserve (§3.5: "Spill file backing a MapQueue ... first push /
// reserve").
func New[T any](cacheDir string) *MapQueue[T] {
	return &MapQueue[T]{cacheDir: cacheDir}
}

// Len returns the number of live elements.
func (q *MapQueue[T]) Len() int { return q.len }

// Cap returns the current backing capacity in elements.
func (q *MapQueue[T]) Cap() int { return q.cap }

func (q *MapQueue[T]) slice() []T {
	if q.data == nil {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&q.data[0])), q.cap)
}

// At returns a copy of the i-th element.
func (q *MapQueue[T]) At(i int) T {
	return q.slice()[i]
}

// Set overwrites the i-th element.
func (q *MapQueue[T]) Set(i int, v T) {
	q.slice()[i] = v
}

// Push appends one element, growing the backing file if needed.
func (q *MapQueue[T]) Push(v T) {
	q.Reserve(q.len + 1)
	q.slice()[q.len] = v
	q.len++
}

// ExtendFromSlice appends every element of vs.
func (q *MapQueue[T]) ExtendFromSlice(vs []T) {
	if len(vs) == 0 {
		return
	}
	q.Reserve(q.len + len(vs))
	copy(q.slice()[q.len:], vs)
	q.len += len(vs)
}

// Pop removes and returns the last element. Panics if empty, matching the
// teacher's "callers know the queue isn't empty" discipline for hot-path
// container types (e.g. markduplicates' internal buffers).
func (q *MapQueue[T]) Pop() T {
	v := q.At(q.len - 1)
	q.len--
	return v
}

// Truncate shrinks Len to n (n <= current Len). It never shrinks the
// backing file — only growth reallocates.
func (q *MapQueue[T]) Truncate(n int) {
	if n < q.len {
		q.len = n
	}
}

// Resize grows or shrinks Len to n, zero-filling any newly exposed elements.
func (q *MapQueue[T]) Resize(n int) {
	if n <= q.len {
		q.len = n
		return
	}
	q.Reserve(n)
	var zero T
	s := q.slice()
	for i := q.len; i < n; i++ {
		s[i] = zero
	}
	q.len = n
}

// Reserve ensures capacity for at least need elements, growing the backing
// file if necessary (§4.2 growth policy).
func (q *MapQueue[T]) Reserve(need int) {
	if need <= q.cap {
		return
	}
	newCap := grow(q.cap, need)
	q.growTo(newCap)
}

func (q *MapQueue[T]) growTo(newCap int) {
	sz := sizeOf[T]()
	if sz == 0 {
		sz = 1
	}
	newPath := q.newSpillPath()
	f, err := os.OpenFile(newPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		log.Panicf("mapqueue: creating spill file %s: %v", newPath, err)
	}
	size := int64(newCap) * int64(sz)
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(newPath)
		log.Panicf("mapqueue: sizing spill file %s to %d: %v", newPath, size, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(newPath)
		log.Panicf("mapqueue: mmap spill file %s: %v", newPath, err)
	}

	if q.data != nil {
		live := q.data[:q.len*sz]
		want := checksumBytes(live)
		copy(data, live)
		if got := checksumBytes(data[:q.len*sz]); got != want {
			_ = unix.Munmap(data)
			f.Close()
			os.Remove(newPath)
			log.Panicf("mapqueue: spill file %s corrupted during growth copy (checksum %x != %x)", newPath, got, want)
		}
	}

	oldFile, oldPath, oldData := q.file, q.path, q.data
	q.file, q.path, q.data, q.cap = f, newPath, data, newCap

	if oldData != nil {
		_ = unix.Munmap(oldData)
	}
	if oldFile != nil {
		oldFile.Close()
		os.Remove(oldPath)
	}
}

func (q *MapQueue[T]) newSpillPath() string {
	dir := q.cacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("mapqueue-%p-%d.spill", q, q.cap))
}

// checksumBytes computes a highwayhash-64 over b — a corruption tripwire,
// not a security boundary (hence the fixed key).
func checksumBytes(b []byte) uint64 {
	h, err := highwayhash.New64(highwayKey[:])
	if err != nil {
		log.Panicf("mapqueue: highwayhash init: %v", err)
	}
	_, _ = h.Write(b)
	return h.Sum64()
}

// Checksum computes a highwayhash-64 over the live prefix of the backing
// region. growTo calls this internally (via checksumBytes) to verify every
// growth copy landed correctly in the new mmap before the old one is
// unmapped; it's also exported so tests can assert on it directly. A
// MapQueue has no durability across process exit (Close unlinks its spill
// file, §4.2 "Drop"), so this is an in-process integrity check, not a
// trailer for recovering a crash-left-behind file.
func (q *MapQueue[T]) Checksum() uint64 {
	if q.data == nil || q.len == 0 {
		return 0
	}
	sz := sizeOf[T]()
	return checksumBytes(q.data[:q.len*sz])
}

// ForEach iterates every live element in order.
func (q *MapQueue[T]) ForEach(f func(i int, v T)) {
	s := q.slice()
	for i := 0; i < q.len; i++ {
		f(i, s[i])
	}
}

// SortBy unstably sorts the live prefix using less.
func (q *MapQueue[T]) SortBy(less func(a, b T) bool) {
	s := q.slice()[:q.len]
	sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
}

// Close unmaps and unlinks the backing file. There is no durability
// expectation across process exit — a spill is a heap overflow valve, not a
// database (§4.2 "Drop").
func (q *MapQueue[T]) Close() error {
	if q.data != nil {
		_ = unix.Munmap(q.data)
		q.data = nil
	}
	if q.file != nil {
		q.file.Close()
		err := os.Remove(q.path)
		q.file = nil
		return err
	}
	return nil
}

// Package pointerscan implements the pointer-chain scanner (§4.5): a
// two-phase reverse BFS from a target address back through memory,
// looking for chains of static-module-rooted pointers (with bounded
// per-hop slack) that eventually dereference to the target.
package pointerscan

// Perms is the subset of a region's protection bits this scanner cares
// about; regions with neither bit set are skipped entirely (§4.5).
type Perms struct {
	Read  bool
	Write bool
}

// Region is one scannable memory range, carrying the module metadata
// needed for both pointer validity checks and final chain emission.
type Region struct {
	Start    uint64
	End      uint64
	Name     string
	IsStatic bool
	Perms    Perms
}

// PointerData is one candidate pointer found during Phase 1: a location
// (Address) whose 8 bytes, interpreted little-endian and MTE-stripped,
// decode to a value that lands inside the scanned region set (Value).
type PointerData struct {
	Address uint64
	Value   uint64
}

// PointerDir is a reverse-BFS frontier node at some depth level: Address
// is where the candidate pointer lives, Value is what it points to, and
// [Start,End) indexes into the frontier one level closer to the target —
// the "children" this node could legitimately dereference toward, within
// the configured slack window (§4.5 "Bind parent→child ranges").
type PointerDir struct {
	Address uint64
	Value   uint64
	Start   int
	End     int
}

// PointerRange is a terminal frontier node whose Address falls inside a
// static module: a successful chain root. Level is how many PointerDir
// hops separate it from the target (0 means the target address itself
// lies in a static module — a degenerate chain with no hops at all).
type PointerRange struct {
	Address    uint64
	Value      uint64
	Start      int
	End        int
	Level      int
	ModuleIdx  int
	BaseOffset int64
}

// Package resultstore implements the two-tier (memory + disk) result
// container (§4.3): a bounded in-memory vector backed by a MapQueue spill
// once the memory budget is exhausted, in one of two mutually exclusive
// schemas — exact or fuzzy.
package resultstore

import "github.com/memwalk/engine/scantypes"

// Mode selects which of the two record schemas a store currently holds.
// Switching modes clears the store (§4.3 invariant).
type Mode int

const (
	Exact Mode = iota
	Fuzzy
)

// ExactResult records an address that matched, with the type it matched
// as. The value itself is not retained (§3.2).
type ExactResult struct {
	Address uint64
	Type    scantypes.ValueType
}

// FuzzyResult additionally carries the last-observed bytes at Address, so a
// subsequent fuzzy refine can diff against them without a second read of
// stale state.
type FuzzyResult struct {
	Address uint64
	Value   [8]byte
	Type    scantypes.ValueType
}

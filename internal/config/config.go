// Package config holds the engine-wide tunables every other package reads
// from, rather than hardcoding. The shape (an Opts struct plus a
// DefaultOpts value) follows fusion/opts.go: flags bind to fields with
// fusion.DefaultOpts.Field as their default, rather than duplicating the
// constant in two places.
package config

import "github.com/memwalk/engine/memaccess"

// Opts collects every tunable the search executor, pointer-chain scanner,
// and result store read from. No constructor takes an Opts: search.New and
// pointerscan.New read their defaults from the package-level DefaultOpts,
// and cmd/memwalk binds its flags' defaults to DefaultOpts fields.
type Opts struct {
	// ChunkSize is the per-region read granularity of the search
	// executor's outer loop (§4.4.2). Phase 1 of the pointer-chain scanner
	// does not read it; it uses its own fixed 512 KiB chunk.
	ChunkSize int

	// GrainSize is the search executor's per-goroutine unit of work
	// within one chunk (§4.4.3).
	GrainSize int

	// CacheDir backs every MapQueue spill file: the result store's
	// tiers (§4.3) and the pointer-chain scanner's Phase 1 collection
	// (§4.2).
	CacheDir string

	// ResultMemoryBudgetBytes is the in-memory prefix size before a
	// result-store tier starts spilling to its MapQueue (§4.3).
	ResultMemoryBudgetBytes int

	// MaxFrontier bounds a single pointer-chain BFS level before it's
	// truncated and logged (§4.5 "Truncation").
	MaxFrontier int

	// Alignment is the candidate pointer stride Phase 1 steps by.
	Alignment uint64

	// CompatMode toggles §4.4.8: promote every exact search's survivors
	// to fuzzy results after the search completes.
	CompatMode bool

	// DefaultAccessMode is the access strategy a newly bound process
	// starts in (§3.4).
	DefaultAccessMode memaccess.AccessMode
}

// DefaultOpts mirrors fusion.DefaultOpts's role: the values a CLI's flags
// default to, and what tests construct an Opts from when they only care
// about overriding one or two fields.
var DefaultOpts = Opts{
	ChunkSize:               512 * 1024,
	GrainSize:               64 * 1024,
	CacheDir:                "",
	ResultMemoryBudgetBytes: 64 * 1024 * 1024,
	MaxFrontier:             5_000_000,
	Alignment:               8,
	CompatMode:              false,
	DefaultAccessMode:       memaccess.ModeNone,
}

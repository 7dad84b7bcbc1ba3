// Package search implements the search executor (§4.4): the central
// coordinator that turns a SearchQuery (or fuzzy condition, or masked
// pattern) and a region list into result-store mutations, running the
// outer region loop in parallel via traverse.Each and publishing progress
// through a status.Buffer.
package search

import "sync/atomic"

// CancelToken is the executor's half of the cancellation handshake
// described in §4.4.9: the status buffer's cancel flag and this token are
// OR-ed so every thread observes cancellation uniformly regardless of
// which side tripped first.
type CancelToken struct {
	tripped int32
}

// NewCancelToken returns a fresh, untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Trip marks the token cancelled. Idempotent.
func (c *CancelToken) Trip() {
	atomic.StoreInt32(&c.tripped, 1)
}

// Cancelled reports whether Trip has been called.
func (c *CancelToken) Cancelled() bool {
	return atomic.LoadInt32(&c.tripped) != 0
}

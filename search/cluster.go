package search

import (
	"sort"
	"sync"

	"github.com/grailbio/base/traverse"
	"github.com/memwalk/engine/memaccess"
)

// clusterGapLimit and clusterSizeLimit bound how addresses are grouped for
// a single kernel read during refine (§4.4.5).
const (
	clusterGapLimit  = 4 * 1024
	clusterSizeLimit = 64 * 1024
)

// addressedCluster is a run of member addresses close enough together to
// service with one gateway read.
type addressedCluster struct {
	start, end uint64 // [start, end) covers every member's element
	members    []uint64
}

// buildClusters groups addrs (each elemSize bytes wide) into runs where the
// gap between consecutive members is <= clusterGapLimit and the total span
// is <= clusterSizeLimit (§4.4.5 "Cluster"). addrs must be sorted ascending.
func buildClusters(addrs []uint64, elemSize int) []addressedCluster {
	if len(addrs) == 0 {
		return nil
	}
	var clusters []addressedCluster
	cur := addressedCluster{start: addrs[0], end: addrs[0] + uint64(elemSize), members: []uint64{addrs[0]}}
	for _, a := range addrs[1:] {
		end := a + uint64(elemSize)
		gap := a - cur.end
		if a < cur.end {
			gap = 0
		}
		span := end - cur.start
		if gap <= clusterGapLimit && span <= clusterSizeLimit {
			cur.end = end
			cur.members = append(cur.members, a)
			continue
		}
		clusters = append(clusters, cur)
		cur = addressedCluster{start: a, end: end, members: []uint64{a}}
	}
	clusters = append(clusters, cur)
	return clusters
}

// readResult is one member's freshly read bytes from a refine pass (the
// "new" half of §4.4.6's ReadResult; fuzzy refine pairs it with the old
// value kept in the stored FuzzyResult).
type readResult struct {
	address uint64
	data    [8]byte
	ok      bool
}

// readClusters performs one gateway read per cluster in parallel, falling
// back to a per-member read if the cluster read fails (§4.4.5 "Parallel
// read"). elemSize bounds how many bytes of each member's slot are copied
// into readResult.data (max 8, per FuzzyResult.Value's width).
func readClusters(gw *memaccess.Gateway, bp *memaccess.BoundProcess, clusters []addressedCluster, elemSize int) []readResult {
	var all []readResult
	var mu sync.Mutex
	_ = traverse.Each(len(clusters), func(i int) error {
		c := clusters[i]
		results := readOneCluster(gw, bp, c, elemSize)
		mu.Lock()
		all = append(all, results...)
		mu.Unlock()
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].address < all[j].address })
	return all
}

// readOneCluster reads c's whole span in one request. c.start is an
// arbitrary candidate address, not a page boundary, so PageBitmap's
// per-page granularity doesn't apply here (it assumes buffer offset 0 is a
// page boundary) — matching the original batch reader, which reads a
// cluster's span with no page-state tracking at all, a cluster read's
// success is whole-request: either every member is usable or (on error)
// each is re-read individually.
func readOneCluster(gw *memaccess.Gateway, bp *memaccess.BoundProcess, c addressedCluster, elemSize int) []readResult {
	size := int(c.end - c.start)
	buf := make([]byte, size)
	if err := gw.Read(bp, c.start, buf, nil); err != nil {
		return readMembersIndividually(gw, bp, c.members, elemSize)
	}
	out := make([]readResult, 0, len(c.members))
	for _, m := range c.members {
		off := int(m - c.start)
		if off < 0 || off+elemSize > len(buf) {
			out = append(out, readResult{address: m})
			continue
		}
		var rr readResult
		rr.address = m
		rr.ok = true
		copy(rr.data[:], buf[off:off+elemSize])
		out = append(out, rr)
	}
	return out
}

func readMembersIndividually(gw *memaccess.Gateway, bp *memaccess.BoundProcess, members []uint64, elemSize int) []readResult {
	out := make([]readResult, 0, len(members))
	for _, m := range members {
		buf := make([]byte, elemSize)
		bm := memaccess.NewPageBitmap(1)
		var rr readResult
		rr.address = m
		if err := gw.Read(bp, m, buf, bm); err == nil && bm.Test(0) {
			rr.ok = true
			copy(rr.data[:], buf)
		}
		out = append(out, rr)
	}
	return out
}

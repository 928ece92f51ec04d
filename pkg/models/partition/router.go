package partition

import (
	"sort"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// Range is a partition covering [Lower, Upper), or [Lower, +inf) when
// IsMax is set. An empty Lower is unbounded below.
type Range struct {
	PartitionID int64
	Lower       Key
	Upper       Key
	IsMax       bool
	BucketNum   int32
}

func (r *Range) contains(k Key) bool {
	if Compare(k, r.Lower) < 0 {
		return false
	}
	return r.IsMax || Compare(k, r.Upper) < 0
}

// Router maps partition key tuples to partition ranges.
type Router struct {
	ranges []*Range
}

// NewRouter sorts the ranges by lower bound and verifies they are
// pairwise disjoint, each non-empty, with at most one unbounded above.
// The input slice is not modified.
func NewRouter(ranges []*Range) (*Router, error) {
	sorted := make([]*Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Compare(sorted[i].Lower, sorted[j].Lower) < 0
	})

	seen := map[int64]struct{}{}
	maxCount := 0
	for i, r := range sorted {
		if _, ok := seen[r.PartitionID]; ok {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "partition %d appears twice in the routing table", r.PartitionID)
		}
		seen[r.PartitionID] = struct{}{}

		if r.IsMax {
			maxCount++
			if maxCount > 1 {
				return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "more than one partition is unbounded above, second is %d", r.PartitionID)
			}
		} else if Compare(r.Lower, r.Upper) >= 0 {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "partition %d has empty range [%v, %v)", r.PartitionID, r.Lower, r.Upper)
		}

		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.IsMax || Compare(prev.Upper, r.Lower) > 0 {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "partitions %d and %d overlap", prev.PartitionID, r.PartitionID)
		}
	}

	return &Router{ranges: sorted}, nil
}

// Ranges returns the ranges ordered by lower bound.
func (r *Router) Ranges() []*Range {
	return r.ranges
}

// Route returns the range containing k. Lower bounds are inclusive and
// upper bounds exclusive.
func (r *Router) Route(k Key) (*Range, error) {
	// first range whose lower bound is above k
	i := sort.Search(len(r.ranges), func(i int) bool {
		return Compare(r.ranges[i].Lower, k) > 0
	})
	if i > 0 && r.ranges[i-1].contains(k) {
		return r.ranges[i-1], nil
	}
	return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "no partition for key %v", k)
}

package translate

import (
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/partition"
)

// PartitionInfo builds the routing description of the requested
// partitions. Range partitions come out sorted by lower bound; the
// result is checked by building a router over it.
func PartitionInfo(t *catalog.Table, partitionIDs []int64) (*jobspec.PartitionInfo, error) {
	if err := checkDistribution(t); err != nil {
		return nil, err
	}

	requested := make(map[int64]struct{}, len(partitionIDs))
	for _, id := range partitionIDs {
		requested[id] = struct{}{}
	}

	info := &jobspec.PartitionInfo{
		PartitionType:          string(t.Partitioning.Type),
		PartitionColumnRefs:    []string{},
		DistributionColumnRefs: append([]string{}, t.Distribution.Columns...),
	}

	switch t.Partitioning.Type {
	case catalog.PartitionRange:
		info.PartitionColumnRefs = append(info.PartitionColumnRefs, t.Partitioning.Columns...)

		ranges := make([]*partition.Range, 0, len(requested))
		for _, r := range t.Partitioning.Ranges {
			if _, ok := requested[r.PartitionID]; !ok {
				continue
			}
			bucketNum, err := t.BucketNum(r.PartitionID)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, &partition.Range{
				PartitionID: r.PartitionID,
				Lower:       r.Lower,
				Upper:       r.Upper,
				IsMax:       r.Upper.IsMax(),
				BucketNum:   bucketNum,
			})
		}
		if len(ranges) != len(requested) {
			return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "table %s has no range for some of partitions %v", t.Name, partitionIDs)
		}

		router, err := partition.NewRouter(ranges)
		if err != nil {
			return nil, err
		}
		for _, r := range router.Ranges() {
			p := &jobspec.Partition{
				PartitionID:    r.PartitionID,
				StartKeys:      keyValues(r.Lower),
				EndKeys:        []any{},
				IsMaxPartition: r.IsMax,
				BucketNum:      r.BucketNum,
			}
			if !r.IsMax {
				p.EndKeys = keyValues(r.Upper)
			}
			info.Partitions = append(info.Partitions, p)
		}

	case catalog.PartitionUnpartitioned:
		if len(requested) != 1 {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT,
				"unpartitioned table %s must load exactly one partition, got %d", t.Name, len(requested))
		}
		for id := range requested {
			bucketNum, err := t.BucketNum(id)
			if err != nil {
				return nil, err
			}
			info.Partitions = append(info.Partitions, &jobspec.Partition{
				PartitionID:    id,
				StartKeys:      []any{},
				EndKeys:        []any{},
				IsMaxPartition: true,
				BucketNum:      bucketNum,
			})
		}

	default:
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "unsupported partition type %q of table %s", t.Partitioning.Type, t.Name)
	}

	return info, nil
}

func keyValues(k partition.Key) []any {
	ret := make([]any, len(k))
	copy(ret, k)
	return ret
}

// RouterFromInfo rebuilds the router of a job config partition info.
// types are the partition column types in declaration order.
func RouterFromInfo(info *jobspec.PartitionInfo, types []string) (*partition.Router, error) {
	ranges := make([]*partition.Range, 0, len(info.Partitions))
	for _, p := range info.Partitions {
		lower, err := partition.NormalizeKey(p.StartKeys, types)
		if err != nil {
			return nil, err
		}
		r := &partition.Range{
			PartitionID: p.PartitionID,
			Lower:       lower,
			IsMax:       p.IsMaxPartition,
			BucketNum:   p.BucketNum,
		}
		if p.IsMaxPartition {
			r.Upper = partition.MaxKey(len(types))
		} else {
			r.Upper, err = partition.NormalizeKey(p.EndKeys, types)
			if err != nil {
				return nil, err
			}
		}
		ranges = append(ranges, r)
	}
	return partition.NewRouter(ranges)
}

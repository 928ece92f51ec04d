package catalog

import (
	"sort"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/partition"
	"github.com/pg-sharding/bulkload/qdb"
)

// ColumnFromDB converts a stored column, classifying its default value.
func ColumnFromDB(c *qdb.Column) *Column {
	col := &Column{
		Name:        c.Name,
		Type:        c.Type,
		Nullable:    c.Nullable,
		IsKey:       c.IsKey,
		Aggregation: AggregateType(c.AggregationType),
	}
	switch {
	case c.DefaultValue != nil:
		col.Default = DefaultValue{Kind: DefaultExplicit, Value: *c.DefaultValue}
	case c.Nullable:
		col.Default = DefaultValue{Kind: DefaultNullSentinel}
	default:
		col.Default = DefaultValue{Kind: DefaultNone}
	}
	if IsStringType(c.Type) {
		col.StringLength = c.StringLength
	}
	if IsDecimalType(c.Type) {
		col.Precision = c.Precision
		col.Scale = c.Scale
	}
	return col
}

// TableFromDB builds a Table sharing no memory with t. Indexes are
// ordered by id and range bounds are parsed with the partition column
// types.
func TableFromDB(t *qdb.Table) (*Table, error) {
	ret := &Table{
		ID:          t.ID,
		DbID:        t.DbID,
		Name:        t.Name,
		BaseIndexID: t.BaseIndexID,
		Partitions:  make(map[int64]*Partition, len(t.Partitions)),
	}

	baseFound := 0
	for _, idx := range t.Indexes {
		cols := make([]*Column, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = ColumnFromDB(c)
		}
		isBase := idx.ID == t.BaseIndexID
		if isBase {
			baseFound++
		}
		ret.Indexes = append(ret.Indexes, &Index{
			ID:         idx.ID,
			SchemaHash: idx.SchemaHash,
			KeysType:   KeysType(idx.KeysType),
			IsBase:     isBase,
			Columns:    cols,
		})
	}
	if baseFound != 1 {
		return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "table %s must have exactly one base index, found %d", t.Name, baseFound)
	}
	sort.Slice(ret.Indexes, func(i, j int) bool {
		return ret.Indexes[i].ID < ret.Indexes[j].ID
	})

	if t.Distribution != nil {
		ret.Distribution = Distribution{
			Type:      DistributionType(t.Distribution.Type),
			Columns:   append([]string(nil), t.Distribution.Columns...),
			BucketNum: t.Distribution.BucketNum,
		}
	}

	for _, p := range t.Partitions {
		ret.Partitions[p.ID] = &Partition{ID: p.ID, Name: p.Name, BucketNum: p.BucketNum}
	}

	if t.Partitioning == nil {
		ret.Partitioning = PartitionInfo{Type: PartitionUnpartitioned}
		return ret, nil
	}
	ret.Partitioning = PartitionInfo{
		Type:    PartitionType(t.Partitioning.Type),
		Columns: append([]string(nil), t.Partitioning.Columns...),
	}
	if ret.Partitioning.Type != PartitionRange {
		return ret, nil
	}

	types, err := ret.PartitionColumnTypes()
	if err != nil {
		return nil, err
	}
	for _, r := range t.Partitioning.Ranges {
		lower, err := partition.ParseKey(r.Lower.Values, types)
		if err != nil {
			return nil, err
		}
		var upper partition.Key
		if r.Upper.IsMax {
			upper = partition.MaxKey(len(types))
		} else {
			upper, err = partition.ParseKey(r.Upper.Values, types)
			if err != nil {
				return nil, err
			}
		}
		ret.Partitioning.Ranges = append(ret.Partitioning.Ranges, &RangePartition{
			PartitionID: r.PartitionID,
			Lower:       lower,
			Upper:       upper,
		})
	}
	return ret, nil
}

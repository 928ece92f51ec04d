// Package translate turns catalog tables into job configuration tables.
package translate

import (
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// Table translates the indexes and the partitioning of t restricted to
// partitionIDs. File groups are appended by the caller.
func Table(t *catalog.Table, partitionIDs []int64) (*jobspec.Table, error) {
	indexes, err := Indexes(t)
	if err != nil {
		return nil, err
	}
	info, err := PartitionInfo(t, partitionIDs)
	if err != nil {
		return nil, err
	}
	return &jobspec.Table{
		Indexes:       indexes,
		PartitionInfo: info,
	}, nil
}

func checkDistribution(t *catalog.Table) error {
	if t.Distribution.Type != catalog.DistributionHash {
		loadlog.Zero.Warn().
			Str("table", t.Name).
			Str("type", string(t.Distribution.Type)).
			Msg("translate: unsupported distribution type")
		return loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "unsupported distribution type %q of table %s", t.Distribution.Type, t.Name)
	}
	return nil
}

func indexType(k catalog.KeysType) (string, error) {
	switch k {
	case catalog.DupKeys:
		return jobspec.IndexTypeDuplicate, nil
	case catalog.AggKeys:
		return jobspec.IndexTypeAggregate, nil
	case catalog.UniqueKeys:
		return jobspec.IndexTypeUnique, nil
	default:
		return "", loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "unsupported keys type %q", k)
	}
}

// Indexes translates every index of t in index id order.
func Indexes(t *catalog.Table) ([]*jobspec.Index, error) {
	if err := checkDistribution(t); err != nil {
		return nil, err
	}

	ret := make([]*jobspec.Index, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		it, err := indexType(idx.KeysType)
		if err != nil {
			return nil, err
		}
		cols := make([]*jobspec.Column, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = Column(c)
		}
		ret = append(ret, &jobspec.Index{
			IndexID:     idx.ID,
			Columns:     cols,
			SchemaHash:  idx.SchemaHash,
			IndexType:   it,
			IsBaseIndex: idx.IsBase,
		})
	}
	return ret, nil
}

// Column translates a catalog column. Length, precision and scale are
// carried only for the type family they belong to.
func Column(c *catalog.Column) *jobspec.Column {
	col := &jobspec.Column{
		ColumnName:      c.Name,
		ColumnType:      c.Type,
		IsAllowNull:     c.Nullable,
		IsKey:           c.IsKey,
		AggregationType: string(c.Aggregation),
	}

	switch c.Default.Kind {
	case catalog.DefaultExplicit:
		v := c.Default.Value
		col.DefaultValue = &v
	case catalog.DefaultNullSentinel:
		v := catalog.NullSentinel
		col.DefaultValue = &v
	}

	if catalog.IsStringType(c.Type) {
		col.StringLength = c.StringLength
	}
	if catalog.IsDecimalType(c.Type) {
		col.Precision = c.Precision
		col.Scale = c.Scale
	}
	return col
}

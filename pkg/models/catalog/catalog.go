package catalog

import (
	"sort"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/partition"
)

type KeysType string

const (
	DupKeys     = KeysType("DUP_KEYS")
	AggKeys     = KeysType("AGG_KEYS")
	UniqueKeys  = KeysType("UNIQUE_KEYS")
	PrimaryKeys = KeysType("PRIMARY_KEYS")
)

type AggregateType string

const (
	AggNone             = AggregateType("")
	AggSum              = AggregateType("SUM")
	AggMax              = AggregateType("MAX")
	AggMin              = AggregateType("MIN")
	AggReplace          = AggregateType("REPLACE")
	AggReplaceIfNotNull = AggregateType("REPLACE_IF_NOT_NULL")
	AggHLLUnion         = AggregateType("HLL_UNION")
	AggBitmapUnion      = AggregateType("BITMAP_UNION")
)

type DistributionType string

const (
	DistributionHash   = DistributionType("HASH")
	DistributionRandom = DistributionType("RANDOM")
)

type PartitionType string

const (
	PartitionRange         = PartitionType("RANGE")
	PartitionUnpartitioned = PartitionType("UNPARTITIONED")
)

type DefaultKind int

const (
	// DefaultNone: the column has no default and is not nullable.
	DefaultNone = DefaultKind(iota)
	DefaultExplicit
	// DefaultNullSentinel: the column is nullable without an explicit default.
	DefaultNullSentinel
)

// NullSentinel is the serialized form of DefaultNullSentinel.
const NullSentinel = `\N`

type DefaultValue struct {
	Kind  DefaultKind
	Value string
}

type Column struct {
	Name         string
	Type         string
	Nullable     bool
	IsKey        bool
	Aggregation  AggregateType
	Default      DefaultValue
	StringLength int32
	Precision    int32
	Scale        int32
}

type Index struct {
	ID         int64
	SchemaHash int32
	KeysType   KeysType
	IsBase     bool
	Columns    []*Column
}

type Distribution struct {
	Type      DistributionType
	Columns   []string
	BucketNum int32
}

type RangePartition struct {
	PartitionID int64
	Lower       partition.Key
	// Upper is partition.MaxKey for the max partition.
	Upper partition.Key
}

type PartitionInfo struct {
	Type    PartitionType
	Columns []string
	Ranges  []*RangePartition
}

type Partition struct {
	ID        int64
	Name      string
	BucketNum int32
}

// Table is a self-contained copy of a catalog table.
type Table struct {
	ID           int64
	DbID         int64
	Name         string
	BaseIndexID  int64
	Indexes      []*Index
	Distribution Distribution
	Partitioning PartitionInfo
	Partitions   map[int64]*Partition
}

// BaseIndex returns the index holding the full table schema.
func (t *Table) BaseIndex() *Index {
	for _, idx := range t.Indexes {
		if idx.IsBase {
			return idx
		}
	}
	return nil
}

// Column finds a base schema column by name.
func (t *Table) Column(name string) *Column {
	base := t.BaseIndex()
	if base == nil {
		return nil
	}
	for _, c := range base.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AllPartitionIDs returns the ids of every partition, sorted.
func (t *Table) AllPartitionIDs() []int64 {
	ids := make([]int64, 0, len(t.Partitions))
	for id := range t.Partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BucketNum returns the bucket count of a live partition.
func (t *Table) BucketNum(partitionID int64) (int32, error) {
	p, ok := t.Partitions[partitionID]
	if !ok {
		return 0, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "partition %d does not exist in table %s", partitionID, t.Name)
	}
	if p.BucketNum > 0 {
		return p.BucketNum, nil
	}
	return t.Distribution.BucketNum, nil
}

// PartitionColumnTypes returns the types of the partition columns in
// declaration order.
func (t *Table) PartitionColumnTypes() ([]string, error) {
	types := make([]string, len(t.Partitioning.Columns))
	for i, name := range t.Partitioning.Columns {
		c := t.Column(name)
		if c == nil {
			return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "partition column %s does not exist in table %s", name, t.Name)
		}
		types[i] = c.Type
	}
	return types, nil
}

// HasDictionaryColumn reports whether the base schema holds a column
// that must be dictionary encoded.
func (t *Table) HasDictionaryColumn() bool {
	base := t.BaseIndex()
	if base == nil {
		return false
	}
	for _, c := range base.Columns {
		if NeedsDictionary(c.Type) {
			return true
		}
	}
	return false
}

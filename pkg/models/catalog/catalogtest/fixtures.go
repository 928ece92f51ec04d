// Package catalogtest provides catalog fixtures shared by tests.
package catalogtest

import (
	"context"

	"github.com/pg-sharding/bulkload/qdb"
)

const (
	DbID      = int64(1)
	DtTableID = int64(10)
	DtBaseIdx = int64(100)
	DtRollup  = int64(101)
	PvTableID = int64(20)
)

func strPtr(s string) *string {
	return &s
}

// DtTable is a range partitioned table over dt with partitions
// [-inf, 2024-01-01) -> 1 and [2024-01-01, +inf) -> 2, hash distributed
// on uid into 4 buckets. It carries one bitmap column.
func DtTable() *qdb.Table {
	return &qdb.Table{
		ID:          DtTableID,
		DbID:        DbID,
		Name:        "t",
		BaseIndexID: DtBaseIdx,
		Indexes: []*qdb.Index{
			{
				ID:         DtRollup,
				SchemaHash: 2002,
				KeysType:   "AGG_KEYS",
				Columns: []*qdb.Column{
					{Name: "dt", Type: qdb.ColumnTypeDate, IsKey: true},
					{Name: "cnt", Type: qdb.ColumnTypeBigInt, AggregationType: "SUM", DefaultValue: strPtr("0")},
				},
			},
			{
				ID:         DtBaseIdx,
				SchemaHash: 1001,
				KeysType:   "AGG_KEYS",
				Columns: []*qdb.Column{
					{Name: "dt", Type: qdb.ColumnTypeDate, IsKey: true},
					{Name: "uid", Type: qdb.ColumnTypeBigInt, IsKey: true},
					{Name: "city", Type: qdb.ColumnTypeVarchar, IsKey: true, Nullable: true, StringLength: 32},
					{Name: "cnt", Type: qdb.ColumnTypeBigInt, AggregationType: "SUM", DefaultValue: strPtr("0")},
					{Name: "amount", Type: qdb.ColumnTypeDecimalV2, AggregationType: "SUM", Nullable: true, Precision: 27, Scale: 9},
					{Name: "visitors", Type: qdb.ColumnTypeBitmap, AggregationType: "BITMAP_UNION"},
				},
			},
		},
		Distribution: &qdb.Distribution{Type: "HASH", Columns: []string{"uid"}, BucketNum: 4},
		Partitioning: &qdb.PartitionInfo{
			Type:    "RANGE",
			Columns: []string{"dt"},
			Ranges: []*qdb.RangePartition{
				{PartitionID: 2, Lower: qdb.PartitionKey{Values: []string{"2024-01-01"}}, Upper: qdb.PartitionKey{IsMax: true}},
				{PartitionID: 1, Lower: qdb.PartitionKey{}, Upper: qdb.PartitionKey{Values: []string{"2024-01-01"}}},
			},
		},
		Partitions: []*qdb.Partition{
			{ID: 1, Name: "p2023"},
			{ID: 2, Name: "pmax"},
		},
	}
}

// PvTable is an unpartitioned duplicate-key table with one bitmap column
// when withBitmap is set.
func PvTable(withBitmap bool) *qdb.Table {
	cols := []*qdb.Column{
		{Name: "page", Type: qdb.ColumnTypeVarchar, IsKey: true, StringLength: 64},
		{Name: "hits", Type: qdb.ColumnTypeInt, Nullable: true},
	}
	if withBitmap {
		cols = append(cols, &qdb.Column{Name: "users", Type: qdb.ColumnTypeBitmap, AggregationType: "BITMAP_UNION"})
	}
	return &qdb.Table{
		ID:          PvTableID,
		DbID:        DbID,
		Name:        "pv",
		BaseIndexID: 200,
		Indexes: []*qdb.Index{
			{ID: 200, SchemaHash: 3003, KeysType: "DUP_KEYS", Columns: cols},
		},
		Distribution: &qdb.Distribution{Type: "HASH", Columns: []string{"page"}, BucketNum: 2},
		Partitioning: &qdb.PartitionInfo{Type: "UNPARTITIONED"},
		Partitions:   []*qdb.Partition{{ID: 20, Name: "pv"}},
	}
}

// NewDB returns a MemQDB holding database DbID with the given tables.
func NewDB(ctx context.Context, tables ...*qdb.Table) (*qdb.MemQDB, error) {
	db, err := qdb.NewMemQDB("")
	if err != nil {
		return nil, err
	}
	if err := db.CreateDatabase(ctx, &qdb.Database{ID: DbID, Name: "db1"}); err != nil {
		return nil, err
	}
	for _, t := range tables {
		if err := db.PutTable(ctx, t); err != nil {
			return nil, err
		}
	}
	return db, nil
}

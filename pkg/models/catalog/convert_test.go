package catalog_test

import (
	"testing"

	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog/catalogtest"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/partition"
	"github.com/pg-sharding/bulkload/qdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnFromDB(t *testing.T) {
	assert := assert.New(t)
	zero := "0"

	for i, c := range []struct {
		in   *qdb.Column
		want *catalog.Column
	}{
		{
			in: &qdb.Column{Name: "a", Type: qdb.ColumnTypeInt, Nullable: true},
			want: &catalog.Column{Name: "a", Type: qdb.ColumnTypeInt, Nullable: true,
				Default: catalog.DefaultValue{Kind: catalog.DefaultNullSentinel}},
		},
		{
			in: &qdb.Column{Name: "b", Type: qdb.ColumnTypeInt, Nullable: true, DefaultValue: &zero},
			want: &catalog.Column{Name: "b", Type: qdb.ColumnTypeInt, Nullable: true,
				Default: catalog.DefaultValue{Kind: catalog.DefaultExplicit, Value: "0"}},
		},
		{
			in:   &qdb.Column{Name: "c", Type: qdb.ColumnTypeVarchar, IsKey: true, StringLength: 10, Precision: 3},
			want: &catalog.Column{Name: "c", Type: qdb.ColumnTypeVarchar, IsKey: true, StringLength: 10},
		},
		{
			in:   &qdb.Column{Name: "d", Type: qdb.ColumnTypeDecimal64, Precision: 18, Scale: 2, StringLength: 5, AggregationType: "SUM"},
			want: &catalog.Column{Name: "d", Type: qdb.ColumnTypeDecimal64, Precision: 18, Scale: 2, Aggregation: catalog.AggSum},
		},
	} {
		assert.Equal(c.want, catalog.ColumnFromDB(c.in), "case %d", i)
	}
}

func TestTableFromDB(t *testing.T) {
	assert := assert.New(t)

	src := catalogtest.DtTable()
	tbl, err := catalog.TableFromDB(src)
	require.NoError(t, err)

	assert.Len(tbl.Indexes, 2)
	assert.Equal(catalogtest.DtBaseIdx, tbl.Indexes[0].ID)
	assert.True(tbl.Indexes[0].IsBase)
	assert.Equal(catalogtest.DtBaseIdx, tbl.BaseIndex().ID)
	assert.True(tbl.HasDictionaryColumn())
	assert.Equal([]int64{1, 2}, tbl.AllPartitionIDs())

	n, err := tbl.BucketNum(2)
	assert.NoError(err)
	assert.Equal(int32(4), n)
	_, err = tbl.BucketNum(3)
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))

	assert.Len(tbl.Partitioning.Ranges, 2)
	for _, r := range tbl.Partitioning.Ranges {
		if r.PartitionID == 2 {
			assert.True(r.Upper.IsMax())
			assert.Equal(partition.Key{"2024-01-01"}, r.Lower)
		} else {
			assert.Equal(partition.Key{}, r.Lower)
		}
	}

	// no shared memory with the stored table
	src.Distribution.Columns[0] = "changed"
	assert.Equal([]string{"uid"}, tbl.Distribution.Columns)
}

func TestTableFromDBNeedsOneBaseIndex(t *testing.T) {
	src := catalogtest.DtTable()
	src.BaseIndexID = 999
	_, err := catalog.TableFromDB(src)
	assert.True(t, loaderror.Is(err, loaderror.LOAD_INVARIANT))
}

func TestTypeFamilies(t *testing.T) {
	assert := assert.New(t)

	assert.True(catalog.IsStringType(qdb.ColumnTypeChar))
	assert.False(catalog.IsStringType(qdb.ColumnTypeDate))
	assert.True(catalog.IsDecimalType(qdb.ColumnTypeDecimal128))
	assert.True(catalog.NeedsTransform(qdb.ColumnTypeHLL))
	assert.False(catalog.NeedsDictionary(qdb.ColumnTypeHLL))
	assert.True(catalog.NeedsDictionary(qdb.ColumnTypeBitmap))
}

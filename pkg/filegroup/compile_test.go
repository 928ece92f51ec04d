package filegroup_test

import (
	"strings"
	"testing"

	"github.com/pg-sharding/bulkload/pkg/filegroup"
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog/catalogtest"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, src *qdb.Table) *catalog.Table {
	tbl, err := catalog.TableFromDB(src)
	require.NoError(t, err)
	return tbl
}

func toBitmap() map[string]filegroup.FuncCall {
	return map[string]filegroup.FuncCall{"visitors": {Name: "to_bitmap", Args: []string{"uid"}}}
}

func TestCompileBitmapNeedsExpression(t *testing.T) {
	assert := assert.New(t)
	tbl := load(t, catalogtest.DtTable())

	for i, c := range []struct {
		src *filegroup.Source
		ok  bool
	}{
		{src: &filegroup.Source{}, ok: false},
		{src: &filegroup.Source{ColumnToFunction: toBitmap()}, ok: true},
		{
			src: &filegroup.Source{Columns: []filegroup.ColumnDesc{
				{Name: "dt"}, {Name: "uid"}, {Name: "cnt"},
				{Name: "visitors", Expr: &filegroup.Expr{SQL: "`visitors`"}},
			}},
			ok: false,
		},
		{
			src: &filegroup.Source{Columns: []filegroup.ColumnDesc{
				{Name: "dt"}, {Name: "uid"}, {Name: "cnt"},
				{Name: "visitors", Expr: &filegroup.Expr{SQL: "to_bitmap(uid)"}},
			}},
			ok: true,
		},
	} {
		_, err := filegroup.Compile(c.src, []int64{1, 2}, tbl)
		if c.ok {
			assert.NoError(err, "case %d", i)
			continue
		}
		assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION), "case %d", i)
		assert.Contains(err.Error(), "visitors", "case %d", i)
	}
}

func TestCompileNegativeLoad(t *testing.T) {
	assert := assert.New(t)

	pv := catalogtest.PvTable(false)
	_, err := filegroup.Compile(&filegroup.Source{IsNegative: true}, []int64{20}, load(t, pv))
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))
	assert.Contains(err.Error(), "hits")

	pv.Indexes[0].Columns[1].AggregationType = "SUM"
	fg, err := filegroup.Compile(&filegroup.Source{IsNegative: true}, []int64{20}, load(t, pv))
	assert.NoError(err)
	assert.True(fg.IsNegative)
}

func TestCompileDefaults(t *testing.T) {
	assert := assert.New(t)
	tbl := load(t, catalogtest.DtTable())

	fg, err := filegroup.Compile(&filegroup.Source{
		FilePaths:        []string{"file:///data/part-0.csv"},
		ColumnToFunction: toBitmap(),
		Where:            " uid > 0 ",
	}, []int64{1, 2}, tbl)
	require.NoError(t, err)

	assert.Equal([]string{"dt", "uid", "city", "cnt", "amount", "visitors"}, fg.FileFieldNames)
	assert.Equal([]int64{1, 2}, fg.PartitionIDs)
	assert.Equal("uid > 0", fg.Where)
	assert.Equal(jobspec.SourceTypeFile, fg.SourceType)
	assert.Equal("\t", fg.ColumnSeparator)
	assert.Equal("csv", fg.FileFormat)
	assert.Equal(&jobspec.ColumnMapping{FunctionName: "to_bitmap", Args: []string{"uid"}}, fg.ColumnMappings["visitors"])
	assert.Len(fg.ColumnMappings, 1)

	fg, err = filegroup.Compile(&filegroup.Source{
		ColumnToFunction: toBitmap(),
		PartitionIDs:     []int64{2},
		FileFieldNames:   []string{"a", "b"},
		SourceTable:      "ods.events",
	}, []int64{1, 2}, tbl)
	require.NoError(t, err)
	assert.Equal([]int64{2}, fg.PartitionIDs)
	assert.Equal([]string{"a", "b"}, fg.FileFieldNames)
	assert.Equal(jobspec.SourceTypeHive, fg.SourceType)
	assert.Equal("ods.events", fg.HiveTableName)
}

func TestCompileMappingMerge(t *testing.T) {
	assert := assert.New(t)
	tbl := load(t, catalogtest.DtTable())

	fg, err := filegroup.Compile(&filegroup.Source{
		Columns: []filegroup.ColumnDesc{
			{Name: "dt"}, {Name: "uid"},
			{Name: "cnt", Expr: &filegroup.Expr{SQL: "`n` * 2"}},
			{Name: "visitors", Expr: &filegroup.Expr{SQL: "bitmap_hash(uid)"}},
		},
		ColumnToFunction: toBitmap(),
	}, []int64{1}, tbl)
	require.NoError(t, err)

	// the external function mapping wins over the expression
	assert.Equal("to_bitmap", fg.ColumnMappings["visitors"].FunctionName)
	assert.Equal("`n` * 2", fg.ColumnMappings["cnt"].Expr)
}

func TestCompileMappingMergeIgnoresCase(t *testing.T) {
	assert := assert.New(t)
	tbl := load(t, catalogtest.DtTable())

	fg, err := filegroup.Compile(&filegroup.Source{
		Columns: []filegroup.ColumnDesc{
			{Name: "dt"}, {Name: "uid"}, {Name: "cnt"},
			{Name: "visitors", Expr: &filegroup.Expr{SQL: "to_bitmap(uid)"}},
		},
		ColumnToFunction: map[string]filegroup.FuncCall{
			"VISITORS": {Name: "bitmap_hash", Args: []string{"uid"}},
		},
	}, []int64{1}, tbl)
	require.NoError(t, err)

	assert.Len(fg.ColumnMappings, 1)
	assert.Equal(&jobspec.ColumnMapping{FunctionName: "bitmap_hash", Args: []string{"uid"}}, fg.ColumnMappings["VISITORS"])

	// the external function decides whether a bitmap column is transformed
	_, err = filegroup.Compile(&filegroup.Source{
		Columns: []filegroup.ColumnDesc{
			{Name: "dt"}, {Name: "uid"}, {Name: "cnt"},
			{Name: "visitors", Expr: &filegroup.Expr{SQL: "`uid`"}},
		},
		ColumnToFunction: map[string]filegroup.FuncCall{
			"Visitors": {Name: "to_bitmap", Args: []string{"uid"}},
		},
	}, []int64{1}, tbl)
	assert.NoError(err)

	_, err = filegroup.Compile(&filegroup.Source{
		ColumnToFunction: map[string]filegroup.FuncCall{
			"visitors": {Name: "to_bitmap", Args: []string{"uid"}},
			"VISITORS": {Name: "bitmap_hash", Args: []string{"uid"}},
		},
	}, []int64{1}, tbl)
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))
}

func TestInitColumns(t *testing.T) {
	assert := assert.New(t)
	tbl := load(t, catalogtest.DtTable())

	for i, c := range []struct {
		descs []filegroup.ColumnDesc
		funcs map[string]filegroup.FuncCall
		err   string
	}{
		{
			descs: []filegroup.ColumnDesc{{Name: "dt"}, {Name: "DT"}},
			err:   "duplicate",
		},
		{
			descs: []filegroup.ColumnDesc{{Name: "ghost", Expr: &filegroup.Expr{SQL: "1"}}},
			err:   "ghost",
		},
		{
			descs: []filegroup.ColumnDesc{{Name: "dt"}, {Name: "cnt"}},
			funcs: toBitmap(),
			err:   "uid",
		},
		{
			descs: []filegroup.ColumnDesc{{Name: "dt"}, {Name: "uid"}, {Name: "tmp_field"}},
			funcs: toBitmap(),
		},
		{
			descs: nil,
			funcs: toBitmap(),
		},
	} {
		got, err := filegroup.InitColumns(tbl, c.descs, c.funcs)
		if c.err == "" {
			assert.NoError(err, "case %d", i)
			assert.Equal("visitors", got[len(got)-1].Name, "case %d", i)
			assert.Equal("to_bitmap(uid)", got[len(got)-1].Expr.ToSQL(), "case %d", i)
			continue
		}
		assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION), "case %d", i)
		assert.True(strings.Contains(err.Error(), c.err), "case %d: %v", i, err)
	}
}

func TestExprIsIdentity(t *testing.T) {
	assert := assert.New(t)

	assert.True((&filegroup.Expr{SQL: "uid"}).IsIdentity())
	assert.True((&filegroup.Expr{SQL: " `uid` "}).IsIdentity())
	assert.False((&filegroup.Expr{SQL: "to_bitmap(uid)"}).IsIdentity())
	assert.False((&filegroup.Expr{FunctionName: "hll_hash", Args: []string{"uid"}}).IsIdentity())
}

package etljob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

func fields(m map[string]string) lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestCompileMapping(t *testing.T) {
	assert := assert.New(t)
	get := fields(map[string]string{"uid": "42", "name": "bob", "empty": `\N`})

	for i, c := range []struct {
		m    *jobspec.ColumnMapping
		want string
		code string
	}{
		{m: &jobspec.ColumnMapping{Expr: "uid"}, want: "42"},
		{m: &jobspec.ColumnMapping{Expr: "`Name`"}, want: "bob"},
		{m: &jobspec.ColumnMapping{Expr: "'fixed'"}, want: "fixed"},
		{m: &jobspec.ColumnMapping{Expr: "3.5"}, want: "3.5"},
		{m: &jobspec.ColumnMapping{FunctionName: "to_bitmap", Args: []string{"uid"}}, want: "42"},
		{m: &jobspec.ColumnMapping{Expr: "bitmap_dict(name)"}, want: "bob"},
		{m: &jobspec.ColumnMapping{Expr: "hll_hash(empty)"}, want: `\N`},
		{m: &jobspec.ColumnMapping{Expr: "bitmap_empty()"}, want: `\N`},
		{m: &jobspec.ColumnMapping{Expr: "HLL_EMPTY()"}, want: `\N`},
		{m: &jobspec.ColumnMapping{Expr: "bitmap_hash(empty)"}, want: `\N`},
		{m: &jobspec.ColumnMapping{Expr: "uid * 2"}, code: loaderror.LOAD_UNSUPPORTED},
		{m: &jobspec.ColumnMapping{Expr: "md5(uid)"}, code: loaderror.LOAD_UNSUPPORTED},
		{m: &jobspec.ColumnMapping{FunctionName: "to_bitmap", Args: []string{"uid", "name"}}, code: loaderror.LOAD_VALIDATION},
		{m: &jobspec.ColumnMapping{Expr: "ghost"}, code: loaderror.LOAD_VALIDATION},
	} {
		ev, err := compileMapping(c.m)
		if err == nil {
			var got string
			got, err = ev(get)
			if c.code == "" {
				assert.NoError(err, "case %d", i)
				assert.Equal(c.want, got, "case %d", i)
				continue
			}
		}
		assert.True(loaderror.Is(err, c.code), "case %d: %v", i, err)
	}
}

func TestBitmapHashIsStable(t *testing.T) {
	ev, err := compileMapping(&jobspec.ColumnMapping{Expr: "bitmap_hash(name)"})
	require.NoError(t, err)

	a, err := ev(fields(map[string]string{"name": "bob"}))
	require.NoError(t, err)
	b, err := ev(fields(map[string]string{"name": "bob"}))
	require.NoError(t, err)
	c, err := ev(fields(map[string]string{"name": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCompileWhere(t *testing.T) {
	assert := assert.New(t)
	get := fields(map[string]string{"hits": "10", "page": "home", "none": `\N`})

	for i, c := range []struct {
		where string
		want  bool
	}{
		{"hits > 9", true},
		{"hits > 10", false},
		{"hits >= 10", true},
		{"hits < 9.5", false},
		{"hits <= 10", true},
		{"hits = 10.0", true},
		{"hits != 10", false},
		{"hits <> 3", true},
		{"page = 'home'", true},
		{"page > 'abc'", true},
		{"none = 1", false},
		{"none != 1", false},
	} {
		pred, err := compileWhere(c.where)
		require.NoError(t, err, "case %d", i)
		got, err := pred(get)
		assert.NoError(err, "case %d", i)
		assert.Equal(c.want, got, "case %d: %s", i, c.where)
	}

	pred, err := compileWhere("  ")
	assert.NoError(err)
	assert.Nil(pred)

	_, err = compileWhere("hits in (1, 2)")
	assert.True(loaderror.Is(err, loaderror.LOAD_UNSUPPORTED))
}

func TestRowBuilder(t *testing.T) {
	assert := assert.New(t)
	zero := "0"

	base := &jobspec.Index{
		IndexID:     1,
		IsBaseIndex: true,
		Columns: []*jobspec.Column{
			{ColumnName: "k", ColumnType: "VARCHAR", IsKey: true},
			{ColumnName: "v", ColumnType: "BIGINT", AggregationType: "SUM", DefaultValue: &zero},
			{ColumnName: "n", ColumnType: "BIGINT", AggregationType: "SUM", IsAllowNull: true},
			{ColumnName: "b", ColumnType: "BITMAP", AggregationType: "BITMAP_UNION"},
		},
	}
	fg := &jobspec.FileGroup{
		IsNegative: true,
		ColumnMappings: map[string]*jobspec.ColumnMapping{
			"B": {FunctionName: "to_bitmap", Args: []string{"id"}},
		},
		Where: "v > 1",
	}
	rb, err := newRowBuilder(fg, base)
	require.NoError(t, err)

	row, ok, err := rb.build(record{"k": "a", "v": "5", "n": `\N`, "id": "9"})
	assert.NoError(err)
	assert.True(ok)
	assert.Equal([]string{"a", "-5", `\N`, "9"}, row)

	_, ok, err = rb.build(record{"k": "a", "v": "1", "n": "3", "id": "9"})
	assert.NoError(err)
	assert.False(ok)

	// missing v falls back to its default and is filtered out
	_, ok, err = rb.build(record{"k": "a", "n": "3", "id": "9"})
	assert.NoError(err)
	assert.False(ok)

	_, _, err = rb.build(record{"v": "5", "n": "3", "id": "9"})
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))

	_, _, err = rb.build(record{"k": `\N`, "v": "5", "n": "3", "id": "9"})
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))

	_, err = newRowBuilder(&jobspec.FileGroup{
		ColumnMappings: map[string]*jobspec.ColumnMapping{"ghost": {Expr: "id"}},
	}, base)
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))

	_, err = newRowBuilder(&jobspec.FileGroup{
		ColumnMappings: map[string]*jobspec.ColumnMapping{
			"b": {FunctionName: "to_bitmap", Args: []string{"id"}},
			"B": {FunctionName: "bitmap_hash", Args: []string{"id"}},
		},
	}, base)
	assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION))
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
)

func TestParseLoadDesc(t *testing.T) {
	assert := assert.New(t)

	desc, err := parseLoadDesc([]byte(`
db_id: 1
label: label1
transaction_id: 77
file_groups:
  - table_id: 10
    file_paths: ["file:///data/dt.csv"]
    file_field_names: [dt, uid, city, cnt, amount]
    partitions: [2]
    where: "cnt > 0"
    column_functions:
      visitors:
        name: to_bitmap
        args: [uid]
`))
	require.NoError(t, err)
	assert.Equal(int64(1), desc.DbID)
	assert.Equal("label1", desc.Label)
	assert.Equal(int64(77), desc.TransactionID)
	require.Len(t, desc.FileGroups, 1)
	fg := desc.FileGroups[0]
	assert.Equal(int64(10), fg.TableID)
	assert.Equal([]int64{2}, fg.PartitionIDs)
	assert.Equal("cnt > 0", fg.Where)
	assert.Equal("to_bitmap", fg.ColumnToFunction["visitors"].Name)

	for i, body := range []string{
		"label: l\n",
		"file_groups: [{table_id: 1}]\n",
		"label: l\nunknown: 1\nfile_groups: [{table_id: 1}]\n",
	} {
		_, err := parseLoadDesc([]byte(body))
		assert.True(loaderror.Is(err, loaderror.LOAD_VALIDATION), "case %d: %v", i, err)
	}
}

func TestImportCatalog(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(p, []byte(`{
  "databases": [{"id": 1, "name": "db1"}],
  "tables": [{
    "id": 20, "db_id": 1, "name": "pv", "base_index_id": 200,
    "indexes": [{"id": 200, "schema_hash": 3003, "keys_type": "DUP_KEYS",
      "columns": [{"name": "page", "type": "VARCHAR", "is_key": true, "string_length": 64}]}],
    "distribution": {"type": "HASH", "columns": ["page"], "bucket_num": 2},
    "partition_info": {"type": "UNPARTITIONED"},
    "partitions": [{"id": 20, "name": "pv"}]
  }]
}`), 0644))

	db, err := qdb.NewMemQDB("")
	require.NoError(t, err)
	require.NoError(t, db.CreateDatabase(ctx, &qdb.Database{ID: 1, Name: "old"}))
	require.NoError(t, db.PutTable(ctx, &qdb.Table{ID: 21, DbID: 1, Name: "stale"}))
	require.NoError(t, importCatalog(ctx, db, p))

	// tables left from an earlier import are gone
	_, err = db.GetTable(ctx, 1, 21)
	assert.True(t, loaderror.Is(err, loaderror.LOAD_NOT_FOUND))

	tbl, err := db.GetTable(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, "pv", tbl.Name)
	assert.Len(t, tbl.Indexes[0].Columns, 1)
}

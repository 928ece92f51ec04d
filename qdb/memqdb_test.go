package qdb_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
	"github.com/stretchr/testify/assert"
)

var mockDatabase = &qdb.Database{ID: 1, Name: "db1"}

var mockTable = &qdb.Table{
	ID:          10,
	DbID:        1,
	Name:        "t",
	BaseIndexID: 100,
	Indexes: []*qdb.Index{
		{
			ID:         100,
			SchemaHash: 7,
			KeysType:   "DUP_KEYS",
			Columns: []*qdb.Column{
				{Name: "dt", Type: qdb.ColumnTypeDate, IsKey: true},
				{Name: "uid", Type: qdb.ColumnTypeBigInt, IsKey: true},
			},
		},
	},
	Distribution: &qdb.Distribution{Type: "HASH", Columns: []string{"uid"}, BucketNum: 4},
	Partitioning: &qdb.PartitionInfo{Type: "UNPARTITIONED"},
	Partitions:   []*qdb.Partition{{ID: 1, Name: "t"}},
}

var mockLoadJob = &qdb.LoadJob{ID: 5, DbID: 1, Label: "l", State: "PENDING"}

func TestMemqdbTables(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	err = memqdb.PutTable(ctx, mockTable)
	assert.Equal(loaderror.LOAD_NOT_FOUND, loaderror.CodeOf(err))

	assert.NoError(memqdb.CreateDatabase(ctx, mockDatabase))
	assert.NoError(memqdb.PutTable(ctx, mockTable))

	got, err := memqdb.GetTable(ctx, 1, 10)
	assert.NoError(err)
	assert.Equal(mockTable, got)

	// the store keeps its own copy
	got.Name = "changed"
	again, err := memqdb.GetTable(ctx, 1, 10)
	assert.NoError(err)
	assert.Equal("t", again.Name)

	err = memqdb.ReadDatabase(ctx, 1, func(tables map[int64]*qdb.Table) error {
		assert.Len(tables, 1)
		assert.Contains(tables, int64(10))
		return nil
	})
	assert.NoError(err)

	err = memqdb.ReadDatabase(ctx, 2, func(map[int64]*qdb.Table) error { return nil })
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))

	assert.NoError(memqdb.DropTable(ctx, 1, 10))
	_, err = memqdb.GetTable(ctx, 1, 10)
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))
}

func TestMemqdbNextID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	seen := map[int64]bool{}
	for range 5 {
		id, err := memqdb.NextID(ctx)
		assert.NoError(err)
		assert.False(seen[id])
		assert.Positive(id)
		seen[id] = true
	}
}

func TestMemqdbBackupRestore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	path := filepath.Join(t.TempDir(), "memqdb.json")
	memqdb, err := qdb.RestoreQDB(path)
	assert.NoError(err)

	assert.NoError(memqdb.CreateDatabase(ctx, mockDatabase))
	assert.NoError(memqdb.PutTable(ctx, mockTable))
	assert.NoError(memqdb.PutLoadJob(ctx, mockLoadJob))
	id, err := memqdb.NextID(ctx)
	assert.NoError(err)

	restored, err := qdb.RestoreQDB(path)
	assert.NoError(err)

	tables, err := restored.ListTables(ctx, 1)
	assert.NoError(err)
	assert.Equal([]*qdb.Table{mockTable}, tables)

	jobs, err := restored.ListLoadJobs(ctx)
	assert.NoError(err)
	assert.Equal([]*qdb.LoadJob{mockLoadJob}, jobs)

	next, err := restored.NextID(ctx)
	assert.NoError(err)
	assert.Equal(id+1, next)
}

func TestMemqdbDropDatabase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	path := filepath.Join(t.TempDir(), "memqdb.json")
	memqdb, err := qdb.RestoreQDB(path)
	assert.NoError(err)

	other := &qdb.Table{ID: 11, DbID: 2, Name: "other"}
	assert.NoError(memqdb.CreateDatabase(ctx, mockDatabase))
	assert.NoError(memqdb.CreateDatabase(ctx, &qdb.Database{ID: 2, Name: "db2"}))
	assert.NoError(memqdb.PutTable(ctx, mockTable))
	assert.NoError(memqdb.PutTable(ctx, other))

	assert.NoError(memqdb.DropDatabase(ctx, 1))
	assert.NoError(memqdb.DropDatabase(ctx, 1))

	_, err = memqdb.GetDatabase(ctx, 1)
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))
	tables, err := memqdb.ListTables(ctx, 1)
	assert.NoError(err)
	assert.Empty(tables)

	restored, err := qdb.RestoreQDB(path)
	assert.NoError(err)
	tables, err = restored.ListTables(ctx, 2)
	assert.NoError(err)
	assert.Equal([]*qdb.Table{other}, tables)
	_, err = restored.GetDatabase(ctx, 1)
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))
}

func TestExecuteCommandsRollback(t *testing.T) {
	assert := assert.New(t)

	errSave := errors.New("save failed")
	m := map[string]int{"a": 1}
	err := qdb.ExecuteCommands(func() error { return errSave },
		qdb.NewUpdateCommand(m, "a", 2),
		qdb.NewUpdateCommand(m, "b", 3),
		qdb.NewDeleteCommand(m, "a"),
	)
	assert.ErrorIs(err, errSave)
	assert.Equal(map[string]int{"a": 1}, m)

	ids := map[int64]string{1: "x", 2: "y", 3: "z"}
	err = qdb.ExecuteCommands(func() error { return nil },
		qdb.NewDropWhereCommand(ids, func(k int64, _ string) bool { return k > 1 }))
	assert.NoError(err)
	assert.Equal(map[int64]string{1: "x"}, ids)
}

// must run with -race
func TestMemqdbRacing(t *testing.T) {
	assert := assert.New(t)

	memqdb, err := qdb.RestoreQDB(filepath.Join(t.TempDir(), "memqdb.json"))
	assert.NoError(err)

	var wg sync.WaitGroup
	ctx := context.TODO()

	methods := []func(){
		func() { _ = memqdb.CreateDatabase(ctx, mockDatabase) },
		func() { _ = memqdb.PutTable(ctx, mockTable) },
		func() { _ = memqdb.PutLoadJob(ctx, mockLoadJob) },
		func() { _, _ = memqdb.NextID(ctx) },
		func() { _, _ = memqdb.ListTables(ctx, 1) },
		func() { _, _ = memqdb.GetTable(ctx, 1, 10) },
		func() { _, _ = memqdb.GetLoadJob(ctx, mockLoadJob.ID) },
		func() { _, _ = memqdb.ListLoadJobs(ctx) },
		func() {
			_ = memqdb.ReadDatabase(ctx, 1, func(tables map[int64]*qdb.Table) error {
				_ = len(tables)
				return nil
			})
		},
		func() { _ = memqdb.DropTable(ctx, 1, 10) },
	}
	for range 10 {
		for _, m := range methods {
			wg.Add(1)
			go func(m func()) {
				m()
				wg.Done()
			}(m)
		}
		wg.Wait()
	}
}

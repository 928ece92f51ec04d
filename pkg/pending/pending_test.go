package pending_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pg-sharding/bulkload/pkg/engine"
	mockengine "github.com/pg-sharding/bulkload/pkg/engine/mock"
	"github.com/pg-sharding/bulkload/pkg/filegroup"
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/catalog/catalogtest"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/pending"
	"github.com/pg-sharding/bulkload/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const txnID = int64(77)

func dtSource(partitionIDs ...int64) *filegroup.Source {
	return &filegroup.Source{
		TableID:      catalogtest.DtTableID,
		FilePaths:    []string{"mem://in/dt.csv"},
		PartitionIDs: partitionIDs,
		ColumnToFunction: map[string]filegroup.FuncCall{
			"visitors": {Name: "to_bitmap", Args: []string{"uid"}},
		},
	}
}

func params(groups ...*filegroup.Source) *pending.Params {
	return &pending.Params{
		DbID:          catalogtest.DbID,
		JobID:         5,
		Label:         "label1",
		TransactionID: txnID,
		EtlRoot:       "/etl",
		StrictMode:    true,
		Timezone:      "Asia/Shanghai",
		FileGroups:    groups,
	}
}

func newStore(t *testing.T) *storage.Store {
	s, err := storage.Open(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitAssemblesConfig(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable())
	require.NoError(t, err)
	txns := pending.NewMemTxns()
	txns.Begin(txnID)

	task := pending.NewTask(params(dtSource(2), dtSource(1)), db, txns, newStore(t))
	require.NoError(t, task.Init(ctx))

	cfg := task.Config()
	assert.Equal("label1.%d.%d.%d.%d.%d.parquet", cfg.OutputFilePattern)
	assert.Equal(jobspec.JobProperty{StrictMode: true, Timezone: "Asia/Shanghai"}, cfg.Properties)
	assert.Equal(jobspec.ConfigVersion, cfg.ConfigVersion)
	assert.Empty(cfg.OutputPath)

	require.Len(t, cfg.Tables, 1)
	tbl := cfg.Tables[catalogtest.DtTableID]
	assert.Len(tbl.Indexes, 2)
	assert.Len(tbl.FileGroups, 2)
	assert.Equal([]int64{2}, tbl.FileGroups[0].PartitionIDs)
	assert.Equal([]int64{1}, tbl.FileGroups[1].PartitionIDs)

	// partition info covers the union of both file groups
	require.Len(t, tbl.PartitionInfo.Partitions, 2)
	assert.Equal(int64(1), tbl.PartitionInfo.Partitions[0].PartitionID)
	assert.Equal(int64(2), tbl.PartitionInfo.Partitions[1].PartitionID)
	assert.True(tbl.PartitionInfo.Partitions[1].IsMaxPartition)

	assert.Equal([]int64{catalogtest.DtBaseIdx, catalogtest.DtRollup}, txns.TableIndexes(txnID, catalogtest.DtTableID))
}

func TestInitFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	pvSource := &filegroup.Source{
		TableID:          catalogtest.PvTableID,
		ColumnToFunction: map[string]filegroup.FuncCall{"users": {Name: "bitmap_hash", Args: []string{"page"}}},
	}

	for i, c := range []struct {
		withBitmap bool
		groups     []*filegroup.Source
		begin      bool
		code       string
	}{
		{
			// two tables with dictionary columns
			withBitmap: true,
			groups:     []*filegroup.Source{dtSource(), pvSource},
			begin:      true,
			code:       loaderror.LOAD_VALIDATION,
		},
		{
			// dictionary table next to another table
			groups: []*filegroup.Source{dtSource(), {TableID: catalogtest.PvTableID}},
			begin:  true,
			code:   loaderror.LOAD_VALIDATION,
		},
		{
			groups: []*filegroup.Source{{TableID: catalogtest.DtTableID}},
			begin:  true,
			code:   loaderror.LOAD_VALIDATION,
		},
		{
			groups: []*filegroup.Source{dtSource()},
			begin:  false,
			code:   loaderror.LOAD_NOT_FOUND,
		},
		{
			groups: []*filegroup.Source{dtSource(9)},
			begin:  true,
			code:   loaderror.LOAD_NOT_FOUND,
		},
		{
			groups: nil,
			begin:  true,
			code:   loaderror.LOAD_VALIDATION,
		},
	} {
		db, err := catalogtest.NewDB(ctx, catalogtest.DtTable(), catalogtest.PvTable(c.withBitmap))
		require.NoError(t, err)
		txns := pending.NewMemTxns()
		if c.begin {
			txns.Begin(txnID)
		}

		task := pending.NewTask(params(c.groups...), db, txns, newStore(t))
		err = task.Init(ctx)
		assert.True(loaderror.Is(err, c.code), "test case %d: %v", i, err)
		assert.Nil(task.Config(), "test case %d", i)
	}
}

func TestInitTablesWithoutDictionary(t *testing.T) {
	ctx := context.Background()

	pv2 := catalogtest.PvTable(false)
	pv2.ID = 21
	pv2.Name = "pv2"
	db, err := catalogtest.NewDB(ctx, catalogtest.PvTable(false), pv2)
	require.NoError(t, err)

	task := pending.NewTask(params(
		&filegroup.Source{TableID: catalogtest.PvTableID},
		&filegroup.Source{TableID: 21},
	), db, nil, newStore(t))
	require.NoError(t, task.Init(ctx))
	assert.Len(t, task.Config().Tables, 2)
}

func TestExecuteWritesConfigPerAttempt(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable())
	require.NoError(t, err)
	store := newStore(t)

	task := pending.NewTask(params(dtSource()), db, nil, store)

	_, err = task.Execute(ctx, mockengine.NewMockSubmitter(ctrl))
	assert.True(loaderror.Is(err, loaderror.LOAD_INVARIANT))

	require.NoError(t, task.Init(ctx))

	var paths []string
	submitter := mockengine.NewMockSubmitter(ctrl)
	submitter.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *engine.Request) (*engine.AppHandle, error) {
			paths = append(paths, req.Config.OutputPath)
			return &engine.AppHandle{AppID: "app", ConfigPath: req.ConfigPath, OutputPath: req.Config.OutputPath}, nil
		}).Times(2)

	first, err := task.Execute(ctx, submitter)
	require.NoError(t, err)
	second, err := task.Execute(ctx, submitter)
	require.NoError(t, err)

	assert.NotEqual(first.OutputPath, second.OutputPath)
	assert.Equal(pending.OutputPath("/etl", catalogtest.DbID, "label1", first.Signature), first.OutputPath)
	assert.Equal(first.OutputPath+"/configs/jobconfig.json", first.ConfigPath)
	assert.Equal([]string{first.OutputPath, second.OutputPath}, paths)
	assert.Equal("app", first.AppID)

	// the assembled config keeps no attempt path
	assert.Empty(task.Config().OutputPath)

	data, err := store.ReadAll(ctx, second.ConfigPath)
	require.NoError(t, err)
	cfg, err := jobspec.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(second.OutputPath, cfg.OutputPath)
	assert.Equal("label1", cfg.Label)
}

func TestExecuteSubmitFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable())
	require.NoError(t, err)

	task := pending.NewTask(params(dtSource()), db, nil, newStore(t))
	require.NoError(t, task.Init(ctx))

	submitter := mockengine.NewMockSubmitter(ctrl)
	submitter.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err = task.Execute(ctx, submitter)
	assert.True(loaderror.Is(err, loaderror.LOAD_SUBMIT))
	assert.True(loaderror.IsRetryable(err))
}

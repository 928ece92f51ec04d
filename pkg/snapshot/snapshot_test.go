package snapshot_test

import (
	"context"
	"testing"

	"github.com/pg-sharding/bulkload/pkg/models/catalog/catalogtest"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPartitionIDs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable(), catalogtest.PvTable(false))
	require.NoError(t, err)

	for i, c := range []struct {
		groups [][]int64
		want   []int64
	}{
		{groups: nil, want: []int64{1, 2}},
		{groups: [][]int64{{2}}, want: []int64{2}},
		{groups: [][]int64{{2}, {1, 2}}, want: []int64{1, 2}},
		{groups: [][]int64{{1}, nil}, want: []int64{1, 2}},
	} {
		snap, err := snapshot.Build(ctx, db, catalogtest.DbID, map[int64][][]int64{catalogtest.DtTableID: c.groups})
		assert.NoError(err, "case %d", i)
		assert.Equal(c.want, snap.PartitionIDs(catalogtest.DtTableID), "case %d", i)
	}
}

func TestBuildNotFound(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable())
	require.NoError(t, err)

	for i, c := range []struct {
		dbID    int64
		targets map[int64][][]int64
	}{
		{dbID: 42, targets: map[int64][][]int64{catalogtest.DtTableID: nil}},
		{dbID: catalogtest.DbID, targets: map[int64][][]int64{77: nil}},
		{dbID: catalogtest.DbID, targets: map[int64][][]int64{catalogtest.DtTableID: {{9}}}},
	} {
		_, err := snapshot.Build(ctx, db, c.dbID, c.targets)
		assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND), "case %d: %v", i, err)
		assert.True(loaderror.IsRetryable(err), "case %d", i)
	}
}

func TestSnapshotIsolatedFromCatalog(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := catalogtest.NewDB(ctx, catalogtest.DtTable())
	require.NoError(t, err)

	snap, err := snapshot.Build(ctx, db, catalogtest.DbID, map[int64][][]int64{catalogtest.DtTableID: nil})
	require.NoError(t, err)

	assert.NoError(db.DropTable(ctx, catalogtest.DbID, catalogtest.DtTableID))

	tbl, err := snap.Table(catalogtest.DtTableID)
	assert.NoError(err)
	assert.Equal("t", tbl.Name)
	assert.Len(tbl.Partitions, 2)

	_, err = snap.Table(99)
	assert.True(loaderror.Is(err, loaderror.LOAD_NOT_FOUND))
}

// Package snapshot copies the catalog state a load needs out of the
// metadata store.
package snapshot

import (
	"context"
	"sort"

	"github.com/opentracing/opentracing-go"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
)

// DatabaseSnapshot is an immutable view of the tables a load targets.
type DatabaseSnapshot struct {
	DbID   int64
	Tables map[int64]*catalog.Table

	partitionIDs map[int64][]int64
}

// Build copies the target tables under the store's read discipline.
// targets maps a table id to the partition ids each file group of the
// table asked for; a nil or empty list means every partition.
func Build(ctx context.Context, db qdb.QDB, dbID int64, targets map[int64][][]int64) (*DatabaseSnapshot, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "snapshot.build")
	defer span.Finish()

	snap := &DatabaseSnapshot{
		DbID:         dbID,
		Tables:       map[int64]*catalog.Table{},
		partitionIDs: map[int64][]int64{},
	}

	err := db.ReadDatabase(ctx, dbID, func(tables map[int64]*qdb.Table) error {
		for tableID := range targets {
			stored, ok := tables[tableID]
			if !ok {
				return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "table %d does not exist in database %d", tableID, dbID)
			}
			t, err := catalog.TableFromDB(stored)
			if err != nil {
				return err
			}
			snap.Tables[tableID] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for tableID, groups := range targets {
		ids, err := preparePartitionIDs(snap.Tables[tableID], groups)
		if err != nil {
			return nil, err
		}
		snap.partitionIDs[tableID] = ids
	}

	loadlog.Zero.Debug().
		Int64("db", dbID).
		Int("tables", len(snap.Tables)).
		Msg("snapshot: built")
	return snap, nil
}

// preparePartitionIDs unions the partition ids asked for by the file
// groups of a table. A file group without ids selects every partition.
func preparePartitionIDs(t *catalog.Table, groups [][]int64) ([]int64, error) {
	if len(groups) == 0 {
		return t.AllPartitionIDs(), nil
	}
	set := map[int64]struct{}{}
	for _, ids := range groups {
		if len(ids) == 0 {
			return t.AllPartitionIDs(), nil
		}
		for _, id := range ids {
			if _, ok := t.Partitions[id]; !ok {
				return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "partition %d does not exist in table %s", id, t.Name)
			}
			set[id] = struct{}{}
		}
	}
	ret := make([]int64, 0, len(set))
	for id := range set {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

// PartitionIDs returns the prepared partition ids of a table, sorted.
func (s *DatabaseSnapshot) PartitionIDs(tableID int64) []int64 {
	return s.partitionIDs[tableID]
}

// Table returns a table of the snapshot.
func (s *DatabaseSnapshot) Table(tableID int64) (*catalog.Table, error) {
	t, ok := s.Tables[tableID]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "table %d is not part of the snapshot", tableID)
	}
	return t, nil
}

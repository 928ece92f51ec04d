package qdb

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"

	retry "github.com/sethvargo/go-retry"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type EtcdQDB struct {
	cli *clientv3.Client
}

var _ QDB = &EtcdQDB{}

func NewEtcdQDB(addr string) (*EtcdQDB, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{addr},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	loadlog.Zero.Debug().
		Str("address", addr).
		Uint("client", loadlog.GetPointer(cli)).
		Msg("etcdqdb: NewEtcdQDB")

	return &EtcdQDB{
		cli: cli,
	}, nil
}

const (
	databasesNamespace = "/databases/"
	tablesNamespace    = "/tables/"
	loadJobsNamespace  = "/load_jobs/"
	idSequencePath     = "/id_sequence"

	idRetries = 7
)

func databaseNodePath(dbID int64) string {
	return path.Join(databasesNamespace, idKey(dbID))
}

func databaseTablesPrefix(dbID int64) string {
	return path.Join(tablesNamespace, idKey(dbID)) + "/"
}

func tableNodePath(dbID, tableID int64) string {
	return path.Join(tablesNamespace, tableKey(dbID, tableID))
}

func loadJobNodePath(id int64) string {
	return path.Join(loadJobsNamespace, idKey(id))
}

func (q *EtcdQDB) Client() *clientv3.Client {
	return q.cli
}

func fetchOne[T any](ctx context.Context, cli *clientv3.Client, nodePath string) (*T, error) {
	resp, err := cli.Get(ctx, nodePath)
	if err != nil {
		return nil, err
	}

	switch len(resp.Kvs) {
	case 0:
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "no value found at %v", nodePath)
	case 1:
		var ret T
		if err := json.Unmarshal(resp.Kvs[0].Value, &ret); err != nil {
			return nil, err
		}
		return &ret, nil
	default:
		return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "possible data corruption: multiple key-value pairs found for %v", nodePath)
	}
}

// ==============================================================================
//                                 DATABASES
// ==============================================================================

func (q *EtcdQDB) CreateDatabase(ctx context.Context, db *Database) error {
	loadlog.Zero.Debug().Int64("db", db.ID).Str("name", db.Name).Msg("etcdqdb: create database")

	raw, err := json.Marshal(db)
	if err != nil {
		return err
	}
	resp, err := q.cli.Put(ctx, databaseNodePath(db.ID), string(raw))
	if err != nil {
		return err
	}

	loadlog.Zero.Debug().
		Interface("response", resp).
		Msg("etcdqdb: put database to qdb")
	return nil
}

func (q *EtcdQDB) GetDatabase(ctx context.Context, dbID int64) (*Database, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("etcdqdb: get database")
	return fetchOne[Database](ctx, q.cli, databaseNodePath(dbID))
}

func (q *EtcdQDB) DropDatabase(ctx context.Context, dbID int64) error {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("etcdqdb: drop database")

	resp, err := q.cli.Get(ctx, databaseTablesPrefix(dbID), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return err
	}

	keys := []string{databaseNodePath(dbID)}
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	stmts := make([]QdbStatement, 0, len(keys))
	for _, key := range keys {
		stmt, err := NewQdbStatement(CMD_DELETE, key, nil)
		if err != nil {
			return err
		}
		stmts = append(stmts, *stmt)
	}
	_, ops, err := packEtcdCommands(stmts)
	if err != nil {
		return err
	}
	_, err = q.cli.Txn(ctx).Then(ops...).Commit()
	return err
}

// ==============================================================================
//                                   TABLES
// ==============================================================================

// PutTable writes the table only while its database exists.
func (q *EtcdQDB) PutTable(ctx context.Context, table *Table) error {
	loadlog.Zero.Debug().Int64("db", table.DbID).Int64("table", table.ID).Msg("etcdqdb: put table")

	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}

	dbResp, err := q.cli.Get(ctx, databaseNodePath(table.DbID))
	if err != nil {
		return err
	}
	if len(dbResp.Kvs) == 0 {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d not found", table.DbID)
	}

	cmps, ops, err := packEtcdCommands([]QdbStatement{
		{CmdType: CMD_CMP_MOD_REVISION, Key: databaseNodePath(table.DbID), Value: dbResp.Kvs[0].ModRevision},
		{CmdType: CMD_PUT, Key: tableNodePath(table.DbID, table.ID), Value: string(raw)},
	})
	if err != nil {
		return err
	}

	resp, err := q.cli.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d changed while putting table %d", table.DbID, table.ID)
	}
	return nil
}

func (q *EtcdQDB) DropTable(ctx context.Context, dbID, tableID int64) error {
	loadlog.Zero.Debug().Int64("db", dbID).Int64("table", tableID).Msg("etcdqdb: drop table")

	resp, err := q.cli.Delete(ctx, tableNodePath(dbID, tableID))

	loadlog.Zero.Debug().
		Interface("response", resp).
		Msg("etcdqdb: drop table")
	return err
}

func (q *EtcdQDB) GetTable(ctx context.Context, dbID, tableID int64) (*Table, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Int64("table", tableID).Msg("etcdqdb: get table")
	return fetchOne[Table](ctx, q.cli, tableNodePath(dbID, tableID))
}

func (q *EtcdQDB) listTables(ctx context.Context, dbID int64, opts ...clientv3.OpOption) ([]*Table, error) {
	resp, err := q.cli.Get(ctx, databaseTablesPrefix(dbID), append(opts, clientv3.WithPrefix())...)
	if err != nil {
		return nil, err
	}

	ret := make([]*Table, 0, len(resp.Kvs))
	for _, e := range resp.Kvs {
		var t Table
		if err := json.Unmarshal(e.Value, &t); err != nil {
			return nil, err
		}
		ret = append(ret, &t)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

func (q *EtcdQDB) ListTables(ctx context.Context, dbID int64) ([]*Table, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("etcdqdb: list tables")
	return q.listTables(ctx, dbID)
}

// ReadDatabase pins the table range read to the revision the database
// record was read at, so fn observes one version of the catalog.
func (q *EtcdQDB) ReadDatabase(ctx context.Context, dbID int64, fn func(tables map[int64]*Table) error) error {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("etcdqdb: read database")

	resp, err := q.cli.Get(ctx, databaseNodePath(dbID))
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d not found", dbID)
	}
	list, err := q.listTables(ctx, dbID, clientv3.WithRev(resp.Header.Revision))
	if err != nil {
		return err
	}
	tables := make(map[int64]*Table, len(list))
	for _, t := range list {
		tables[t.ID] = t
	}
	return fn(tables)
}

// ==============================================================================
//                                 SEQUENCE
// ==============================================================================

// NextID increments the id sequence with a compare-and-swap, retrying
// when a concurrent writer wins.
func (q *EtcdQDB) NextID(ctx context.Context) (int64, error) {
	loadlog.Zero.Debug().Msg("etcdqdb: next id")

	var next int64
	err := retry.Do(ctx, retry.WithMaxRetries(idRetries, retry.NewFibonacci(50*time.Millisecond)), func(ctx context.Context) error {
		resp, err := q.cli.Get(ctx, idSequencePath)
		if err != nil {
			return retry.RetryableError(err)
		}

		var curr int64
		stmts := []QdbStatement{}
		if len(resp.Kvs) == 0 {
			stmts = append(stmts, QdbStatement{CmdType: CMD_CMP_VERSION, Key: idSequencePath, Value: 0})
		} else {
			curr, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
			if err != nil {
				return err
			}
			stmts = append(stmts, QdbStatement{CmdType: CMD_CMP_MOD_REVISION, Key: idSequencePath, Value: resp.Kvs[0].ModRevision})
		}
		stmts = append(stmts, QdbStatement{CmdType: CMD_PUT, Key: idSequencePath, Value: fmt.Sprintf("%d", curr+1)})

		cmps, ops, err := packEtcdCommands(stmts)
		if err != nil {
			return err
		}
		txn, err := q.cli.Txn(ctx).If(cmps...).Then(ops...).Commit()
		if err != nil {
			return retry.RetryableError(err)
		}
		if !txn.Succeeded {
			return retry.RetryableError(fmt.Errorf("id sequence moved concurrently"))
		}
		next = curr + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ==============================================================================
//                                 LOAD JOBS
// ==============================================================================

func (q *EtcdQDB) PutLoadJob(ctx context.Context, job *LoadJob) error {
	loadlog.Zero.Debug().Int64("job", job.ID).Str("state", job.State).Msg("etcdqdb: put load job")

	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.cli.Put(ctx, loadJobNodePath(job.ID), string(raw))
	return err
}

func (q *EtcdQDB) GetLoadJob(ctx context.Context, id int64) (*LoadJob, error) {
	loadlog.Zero.Debug().Int64("job", id).Msg("etcdqdb: get load job")
	return fetchOne[LoadJob](ctx, q.cli, loadJobNodePath(id))
}

func (q *EtcdQDB) ListLoadJobs(ctx context.Context) ([]*LoadJob, error) {
	loadlog.Zero.Debug().Msg("etcdqdb: list load jobs")

	resp, err := q.cli.Get(ctx, loadJobsNamespace, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	ret := make([]*LoadJob, 0, len(resp.Kvs))
	for _, e := range resp.Kvs {
		var job LoadJob
		if err := json.Unmarshal(e.Value, &job); err != nil {
			return nil, err
		}
		ret = append(ret, &job)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

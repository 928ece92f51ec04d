package qdb

import (
	"context"
	"fmt"
)

// QDB is the metadata store holding the table catalog and load jobs.
type QDB interface {
	CreateDatabase(ctx context.Context, db *Database) error
	GetDatabase(ctx context.Context, dbID int64) (*Database, error)
	// DropDatabase removes the database and every table in it.
	// Dropping a missing database is not an error.
	DropDatabase(ctx context.Context, dbID int64) error

	PutTable(ctx context.Context, table *Table) error
	DropTable(ctx context.Context, dbID, tableID int64) error
	GetTable(ctx context.Context, dbID, tableID int64) (*Table, error)
	ListTables(ctx context.Context, dbID int64) ([]*Table, error)

	// ReadDatabase calls fn with a consistent view of every table of the
	// database, keyed by table id. fn must not retain the map or the tables
	// after it returns and must not call back into the QDB.
	ReadDatabase(ctx context.Context, dbID int64, fn func(tables map[int64]*Table) error) error

	// NextID returns a new cluster-unique positive id.
	NextID(ctx context.Context) (int64, error)

	PutLoadJob(ctx context.Context, job *LoadJob) error
	GetLoadJob(ctx context.Context, id int64) (*LoadJob, error)
	ListLoadJobs(ctx context.Context) ([]*LoadJob, error)
}

// NewQDB creates a QDB of the given implementation.
// addr is the etcd endpoint, backupPath the memqdb dump file.
func NewQDB(qdbType, addr, backupPath string) (QDB, error) {
	switch qdbType {
	case "etcd":
		return NewEtcdQDB(addr)
	case "mem":
		return RestoreQDB(backupPath)
	default:
		return nil, fmt.Errorf("qdb implementation %s is invalid", qdbType)
	}
}

package qdb

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

type MemQDB struct {
	mu sync.RWMutex

	Databases map[int64]*Database `json:"databases"`
	Tables    map[string]*Table   `json:"tables"`
	LoadJobs  map[int64]*LoadJob  `json:"load_jobs"`
	LastID    int64               `json:"last_id"`

	backupPath string
}

var _ QDB = &MemQDB{}

func NewMemQDB(backupPath string) (*MemQDB, error) {
	return &MemQDB{
		Databases: map[int64]*Database{},
		Tables:    map[string]*Table{},
		LoadJobs:  map[int64]*LoadJob{},

		backupPath: backupPath,
	}, nil
}

// RestoreQDB creates a MemQDB and fills it from the backup file when one
// exists. An empty backupPath disables persistence.
func RestoreQDB(backupPath string) (*MemQDB, error) {
	qdb, err := NewMemQDB(backupPath)
	if err != nil {
		return nil, err
	}
	if backupPath == "" {
		return qdb, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		loadlog.Zero.Info().Err(err).Msg("memqdb backup file not exists. Creating new one.")
		f, err := os.Create(backupPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return qdb, nil
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return qdb, nil
	}
	if err := json.Unmarshal(data, qdb); err != nil {
		return nil, err
	}
	return qdb, nil
}

func (q *MemQDB) DumpState() error {
	if q.backupPath == "" {
		return nil
	}
	tmpPath := q.backupPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	state, err := json.MarshalIndent(q, "", "	")
	if err != nil {
		return err
	}

	if _, err = f.Write(state); err != nil {
		return err
	}
	f.Close()

	return os.Rename(tmpPath, q.backupPath)
}

// clone returns a deep copy of v through its JSON form.
func clone[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ret T
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// ==============================================================================
//                                 DATABASES
// ==============================================================================

func (q *MemQDB) CreateDatabase(ctx context.Context, db *Database) error {
	loadlog.Zero.Debug().Int64("db", db.ID).Str("name", db.Name).Msg("memqdb: create database")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewUpdateCommand(q.Databases, db.ID, &Database{ID: db.ID, Name: db.Name}))
}

func (q *MemQDB) GetDatabase(ctx context.Context, dbID int64) (*Database, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("memqdb: get database")
	q.mu.RLock()
	defer q.mu.RUnlock()

	db, ok := q.Databases[dbID]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d not found", dbID)
	}
	return &Database{ID: db.ID, Name: db.Name}, nil
}

func (q *MemQDB) DropDatabase(ctx context.Context, dbID int64) error {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("memqdb: drop database")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState,
		NewDeleteCommand(q.Databases, dbID),
		NewDropWhereCommand(q.Tables, func(_ string, t *Table) bool { return t.DbID == dbID }),
	)
}

// ==============================================================================
//                                   TABLES
// ==============================================================================

func (q *MemQDB) PutTable(ctx context.Context, table *Table) error {
	loadlog.Zero.Debug().Int64("db", table.DbID).Int64("table", table.ID).Msg("memqdb: put table")
	stored, err := clone(table)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.Databases[table.DbID]; !ok {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d not found", table.DbID)
	}
	return ExecuteCommands(q.DumpState, NewUpdateCommand(q.Tables, tableKey(table.DbID, table.ID), stored))
}

func (q *MemQDB) DropTable(ctx context.Context, dbID, tableID int64) error {
	loadlog.Zero.Debug().Int64("db", dbID).Int64("table", tableID).Msg("memqdb: drop table")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewDeleteCommand(q.Tables, tableKey(dbID, tableID)))
}

func (q *MemQDB) GetTable(ctx context.Context, dbID, tableID int64) (*Table, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Int64("table", tableID).Msg("memqdb: get table")
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.Tables[tableKey(dbID, tableID)]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "table %d not found in database %d", tableID, dbID)
	}
	return clone(t)
}

func (q *MemQDB) ListTables(ctx context.Context, dbID int64) ([]*Table, error) {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("memqdb: list tables")
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ret []*Table
	for _, t := range q.Tables {
		if t.DbID != dbID {
			continue
		}
		c, err := clone(t)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

func (q *MemQDB) ReadDatabase(ctx context.Context, dbID int64, fn func(tables map[int64]*Table) error) error {
	loadlog.Zero.Debug().Int64("db", dbID).Msg("memqdb: read database")
	q.mu.RLock()
	defer q.mu.RUnlock()

	if _, ok := q.Databases[dbID]; !ok {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "database %d not found", dbID)
	}
	tables := map[int64]*Table{}
	for _, t := range q.Tables {
		if t.DbID == dbID {
			tables[t.ID] = t
		}
	}
	return fn(tables)
}

// ==============================================================================
//                                 SEQUENCE
// ==============================================================================

func (q *MemQDB) NextID(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next int64
	if err := ExecuteCommands(q.DumpState, NewCustomCommand(func() error {
		q.LastID++
		next = q.LastID
		return nil
	}, func() error {
		q.LastID--
		return nil
	})); err != nil {
		return 0, err
	}

	loadlog.Zero.Debug().Int64("id", next).Msg("memqdb: next id")
	return next, nil
}

// ==============================================================================
//                                 LOAD JOBS
// ==============================================================================

func (q *MemQDB) PutLoadJob(ctx context.Context, job *LoadJob) error {
	loadlog.Zero.Debug().Int64("job", job.ID).Str("state", job.State).Msg("memqdb: put load job")
	stored, err := clone(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewUpdateCommand(q.LoadJobs, job.ID, stored))
}

func (q *MemQDB) GetLoadJob(ctx context.Context, id int64) (*LoadJob, error) {
	loadlog.Zero.Debug().Int64("job", id).Msg("memqdb: get load job")
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.LoadJobs[id]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "load job %d not found", id)
	}
	return clone(job)
}

func (q *MemQDB) ListLoadJobs(ctx context.Context) ([]*LoadJob, error) {
	loadlog.Zero.Debug().Msg("memqdb: list load jobs")
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*LoadJob, 0, len(q.LoadJobs))
	for _, job := range q.LoadJobs {
		c, err := clone(job)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

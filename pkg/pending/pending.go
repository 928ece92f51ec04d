// Package pending assembles the job config of one load attempt and
// hands it to the execution engine.
package pending

import (
	"context"
	"path"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/pg-sharding/bulkload/pkg/engine"
	"github.com/pg-sharding/bulkload/pkg/filegroup"
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/tasks"
	"github.com/pg-sharding/bulkload/pkg/snapshot"
	"github.com/pg-sharding/bulkload/pkg/statistics"
	"github.com/pg-sharding/bulkload/pkg/storage"
	"github.com/pg-sharding/bulkload/pkg/translate"
	"github.com/pg-sharding/bulkload/qdb"
)

const configDir = "configs"

type Params struct {
	DbID          int64
	JobID         int64
	Label         string
	TransactionID int64
	EtlRoot       string
	StrictMode    bool
	Timezone      string
	FileGroups    []*filegroup.Source
}

type Task struct {
	params *Params
	db     qdb.QDB
	txns   TxnRegistrar
	store  *storage.Store

	config *jobspec.JobConfig
}

func NewTask(params *Params, db qdb.QDB, txns TxnRegistrar, store *storage.Store) *Task {
	return &Task{
		params: params,
		db:     db,
		txns:   txns,
		store:  store,
	}
}

// OutputPath is the directory of one attempt.
func OutputPath(etlRoot string, dbID int64, label string, signature int64) string {
	return path.Join(etlRoot, strconv.FormatInt(dbID, 10), label, strconv.FormatInt(signature, 10))
}

// ConfigPath is where the config of an attempt is written.
func ConfigPath(outputPath string) string {
	return path.Join(outputPath, configDir, jobspec.ConfigFileName)
}

// Init snapshots the target tables and builds the job config. Calling
// it again rebuilds the config from a fresh snapshot.
func (t *Task) Init(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pending.init")
	defer span.Finish()
	defer statistics.RecordSince(statistics.StageAssemble, time.Now())

	t.config = nil
	if len(t.params.FileGroups) == 0 {
		return loaderror.Newf(loaderror.LOAD_VALIDATION, "load %s has no file groups", t.params.Label)
	}

	targets := map[int64][][]int64{}
	for _, src := range t.params.FileGroups {
		targets[src.TableID] = append(targets[src.TableID], src.PartitionIDs)
	}

	snapStart := time.Now()
	snap, err := snapshot.Build(ctx, t.db, t.params.DbID, targets)
	if err != nil {
		return err
	}
	statistics.RecordSince(statistics.StageSnapshot, snapStart)

	cfg := &jobspec.JobConfig{
		Tables:            map[int64]*jobspec.Table{},
		OutputFilePattern: jobspec.OutputFilePattern(t.params.Label),
		Label:             t.params.Label,
		Properties: jobspec.JobProperty{
			StrictMode: t.params.StrictMode,
			Timezone:   t.params.Timezone,
		},
		ConfigVersion: jobspec.ConfigVersion,
	}

	for _, src := range t.params.FileGroups {
		tbl, err := snap.Table(src.TableID)
		if err != nil {
			return err
		}
		partitionIDs := snap.PartitionIDs(src.TableID)

		jt, ok := cfg.Tables[src.TableID]
		if !ok {
			jt, err = translate.Table(tbl, partitionIDs)
			if err != nil {
				return err
			}
			if err := t.registerIndexes(ctx, src.TableID, jt); err != nil {
				return err
			}
			cfg.Tables[src.TableID] = jt
		}

		fg, err := filegroup.Compile(src, partitionIDs, tbl)
		if err != nil {
			return err
		}
		jt.FileGroups = append(jt.FileGroups, fg)
	}

	if err := jobspec.CheckConfig(cfg); err != nil {
		return err
	}

	loadlog.Zero.Debug().
		Int64("job", t.params.JobID).
		Str("label", t.params.Label).
		Int("tables", len(cfg.Tables)).
		Msg("pending: job config assembled")
	t.config = cfg
	return nil
}

func (t *Task) registerIndexes(ctx context.Context, tableID int64, jt *jobspec.Table) error {
	if t.txns == nil {
		return nil
	}
	ids := make([]int64, len(jt.Indexes))
	for i, idx := range jt.Indexes {
		ids[i] = idx.IndexID
	}
	return t.txns.AddTableIndexes(ctx, t.params.TransactionID, tableID, ids)
}

// Config returns the assembled config, nil before a successful Init.
func (t *Task) Config() *jobspec.JobConfig {
	return t.config
}

// Execute writes the config under a fresh attempt path and submits it.
// The assembled config itself is not modified.
func (t *Task) Execute(ctx context.Context, submitter engine.Submitter) (*tasks.PendingAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pending.execute")
	defer span.Finish()

	if t.config == nil {
		return nil, loaderror.New(loaderror.LOAD_INVARIANT, "pending task executed before init")
	}

	signature, err := t.db.NextID(ctx)
	if err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_SUBMIT, "allocate attempt signature: %w", err)
	}

	cfg := *t.config
	cfg.OutputPath = OutputPath(t.params.EtlRoot, t.params.DbID, t.params.Label, signature)
	data, err := cfg.Marshal()
	if err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "serialize job config: %w", err)
	}

	configPath := ConfigPath(cfg.OutputPath)
	if err := t.store.WriteAll(ctx, configPath, data); err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_SUBMIT, "write job config: %w", err)
	}

	submitStart := time.Now()
	h, err := submitter.Submit(ctx, &engine.Request{Config: &cfg, ConfigPath: configPath})
	if err != nil {
		if loaderror.CodeOf(err) == loaderror.LOAD_UNEXPECTED {
			err = loaderror.Newf(loaderror.LOAD_SUBMIT, "submit job %s: %w", t.params.Label, err)
		}
		return nil, err
	}
	statistics.RecordSince(statistics.StageSubmit, submitStart)

	loadlog.Zero.Info().
		Int64("job", t.params.JobID).
		Int64("signature", signature).
		Str("app", h.AppID).
		Str("output", cfg.OutputPath).
		Msg("pending: job submitted")

	return &tasks.PendingAttachment{
		Signature:  signature,
		OutputPath: cfg.OutputPath,
		ConfigPath: configPath,
		AppID:      h.AppID,
	}, nil
}

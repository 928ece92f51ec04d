// Package etljob is the engine-side half of a load: it reads the job
// config, builds the dictionary of the bitmap table, routes every row to
// its partition and bucket and writes one parquet file per tablet.
package etljob

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/pg-sharding/bulkload/pkg/config"
	"github.com/pg-sharding/bulkload/pkg/globaldict"
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/hashfunction"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/partition"
	"github.com/pg-sharding/bulkload/pkg/statistics"
	"github.com/pg-sharding/bulkload/pkg/storage"
	"github.com/pg-sharding/bulkload/pkg/translate"
)

// fileGroupColumn tags staged rows with the file group they came from.
const fileGroupColumn = "__file_group"

type Result struct {
	// Manifest maps output file paths to their size.
	Manifest   map[string]int64
	Rows       int64
	Abnormal   int64
	Unselected int64
	Filtered   int64
	// Dictionaries holds the number of codes per dictionary column.
	Dictionaries map[string]int
}

type Job struct {
	cfg   *jobspec.JobConfig
	store *storage.Store
	opts  config.Engine
	hf    hashfunction.HashFunctionType

	writers *tabletWriters
	result  Result
	// time spent routing and writing rows
	writeTime time.Duration
}

func New(cfg *jobspec.JobConfig, store *storage.Store, opts config.Engine) (*Job, error) {
	hf, err := hashfunction.HashFunctionByName(opts.HashFunction)
	if err != nil {
		return nil, err
	}
	return &Job{
		cfg:   cfg,
		store: store,
		opts:  opts,
		hf:    hf,
	}, nil
}

// checkConfig rejects configs the job cannot run.
func (j *Job) checkConfig() error {
	if err := jobspec.CheckConfig(j.cfg); err != nil {
		return err
	}
	if j.cfg.OutputPath == "" {
		return loaderror.New(loaderror.LOAD_VALIDATION, "job config has no output path")
	}
	for id, t := range j.cfg.Tables {
		if t.BaseIndex() == nil {
			return loaderror.Newf(loaderror.LOAD_VALIDATION, "table %d has no base index", id)
		}
		if t.PartitionInfo == nil || len(t.PartitionInfo.Partitions) == 0 {
			return loaderror.Newf(loaderror.LOAD_VALIDATION, "table %d has no partitions", id)
		}
	}
	return nil
}

// Run processes every table of the config.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "etljob.run")
	defer span.Finish()

	if err := j.checkConfig(); err != nil {
		return nil, err
	}
	j.result = Result{Dictionaries: map[string]int{}}
	j.writers = newTabletWriters(j.store, j.cfg)
	j.writeTime = 0

	if err := j.processData(ctx); err != nil {
		_ = j.writers.closeAll()
		return nil, err
	}
	start := time.Now()
	if err := j.writers.closeAll(); err != nil {
		return nil, err
	}
	statistics.RecordStage(statistics.StageWrite, j.writeTime+time.Since(start))

	manifest, err := j.manifest(ctx)
	if err != nil {
		return nil, err
	}
	j.result.Manifest = manifest

	loadlog.Zero.Info().
		Str("label", j.cfg.Label).
		Int64("rows", j.result.Rows).
		Int64("abnormal", j.result.Abnormal).
		Int64("unselected", j.result.Unselected).
		Int("files", len(manifest)).
		Msg("etljob: finished")
	ret := j.result
	return &ret, nil
}

func (j *Job) processData(ctx context.Context) error {
	ids := make([]int64, 0, len(j.cfg.Tables))
	for id := range j.cfg.Tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	// every plan is checked before any row is written
	plans := make([]*tablePlan, len(ids))
	for i, id := range ids {
		plan, err := newTablePlan(id, j.cfg.Tables[id])
		if err != nil {
			return err
		}
		if err := hashfunction.CheckColumnTypes(plan.distTypes, j.hf); err != nil {
			return err
		}
		plans[i] = plan
	}

	dictTable, hasDict := jobspec.DictionaryTable(j.cfg)
	for _, plan := range plans {
		var err error
		if hasDict && plan.id == dictTable {
			err = j.processDictionaryTable(ctx, plan)
		} else {
			err = j.processTable(ctx, plan)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) processTable(ctx context.Context, plan *tablePlan) error {
	for i, fg := range plan.table.FileGroups {
		rows, err := j.openGroup(ctx, plan, i, false)
		if err != nil {
			return err
		}
		err = drain(ctx, rows, func(row []string) error {
			return j.route(ctx, plan, fg, row)
		})
		if cerr := rows.src.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// processDictionaryTable encodes the bitmap columns of every row before
// any row is routed.
func (j *Job) processDictionaryTable(ctx context.Context, plan *tablePlan) error {
	columns := make([]string, 0, len(plan.base.Columns)+1)
	for _, c := range plan.base.Columns {
		columns = append(columns, c.ColumnName)
	}
	columns = append(columns, fileGroupColumn)

	var shardBy []string
	shardBy = append(shardBy, plan.table.PartitionInfo.PartitionColumnRefs...)
	shardBy = append(shardBy, plan.table.PartitionInfo.DistributionColumnRefs...)

	opts := globaldict.Options{
		Shards:   j.opts.Shards,
		Reducers: j.opts.Reducers,
		Workers:  j.opts.Workers,
	}
	if j.opts.SpillIntermediate {
		opts.SpillStore = j.store
		opts.SpillPrefix = j.cfg.OutputPath
	}
	taskID := globaldict.TaskID(j.cfg.OutputPath)
	builder, err := globaldict.NewBuilder(plan.id, taskID, columns, plan.table.DictionaryColumns(), shardBy, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := builder.Cleanup(ctx); err != nil {
			loadlog.Zero.Warn().Err(err).Int64("table", plan.id).Msg("etljob: intermediate cleanup failed")
		}
	}()

	src := &chainedRows{}
	for i := range plan.table.FileGroups {
		rows, err := j.openGroup(ctx, plan, i, true)
		if err != nil {
			src.close()
			return err
		}
		src.groups = append(src.groups, rows)
	}
	dict, err := builder.Run(ctx, src)
	src.close()
	if err != nil {
		return err
	}
	for _, c := range dict.Columns() {
		j.result.Dictionaries[c] = dict.Len(c)
	}
	loadlog.Zero.Info().
		Int64("table", plan.id).
		Str("dictionary", globaldict.GlobalDictTableName(plan.id)).
		Strs("columns", dict.Columns()).
		Msg("etljob: dictionary built")

	n := len(plan.base.Columns)
	return builder.Each(ctx, func(row []string) error {
		fg, err := strconv.Atoi(row[n])
		if err != nil || fg < 0 || fg >= len(plan.table.FileGroups) {
			return loaderror.Newf(loaderror.LOAD_INVARIANT, "staged row has bad file group tag %q", row[n])
		}
		return j.route(ctx, plan, plan.table.FileGroups[fg], row[:n])
	})
}

func (j *Job) openSource(ctx context.Context, fg *jobspec.FileGroup) (recordSource, error) {
	if fg.SourceType == jobspec.SourceTypeHive {
		return newTableSource(ctx, j.opts.SourceDSN, fg)
	}
	return newFileSource(j.store, fg)
}

func (j *Job) openGroup(ctx context.Context, plan *tablePlan, i int, tag bool) (*groupRows, error) {
	fg := plan.table.FileGroups[i]
	rb, err := newRowBuilder(fg, plan.base)
	if err != nil {
		return nil, err
	}
	src, err := j.openSource(ctx, fg)
	if err != nil {
		return nil, err
	}
	ret := &groupRows{job: j, src: src, rb: rb}
	if tag {
		ret.tag = strconv.Itoa(i)
	}
	return ret, nil
}

// abnormal accounts a bad row. In strict mode the first one fails the job.
func (j *Job) abnormal(cause error) error {
	j.result.Abnormal++
	if j.cfg.Properties.StrictMode {
		return loaderror.Newf(loaderror.LOAD_VALIDATION, "abnormal row in strict mode: %w", cause)
	}
	loadlog.Zero.Debug().Err(cause).Msg("etljob: abnormal row skipped")
	return nil
}

func (j *Job) route(ctx context.Context, plan *tablePlan, fg *jobspec.FileGroup, row []string) error {
	start := time.Now()
	defer func() { j.writeTime += time.Since(start) }()

	p, err := plan.partitionOf(row)
	if err != nil {
		if loaderror.Is(err, loaderror.LOAD_VALIDATION) || loaderror.Is(err, loaderror.LOAD_NOT_FOUND) {
			return j.abnormal(err)
		}
		return err
	}
	if !selected(fg, p.PartitionID) {
		j.result.Unselected++
		return nil
	}

	fields := make([][]byte, len(plan.distCols))
	for i, c := range plan.distCols {
		if row[c] != catalog.NullSentinel {
			fields[i] = []byte(row[c])
		}
	}
	bucket, err := hashfunction.BucketOf(fields, plan.distTypes, j.hf, p.BucketNum)
	if err != nil {
		if loaderror.Is(err, loaderror.LOAD_VALIDATION) {
			return j.abnormal(err)
		}
		return err
	}

	for _, idx := range plan.table.Indexes {
		w, err := j.writers.get(ctx, tabletKey{
			tableID:     plan.id,
			partitionID: p.PartitionID,
			indexID:     idx.IndexID,
			bucket:      bucket,
		}, idx)
		if err != nil {
			return err
		}
		if err := w.write(project(row, plan.projections[idx.IndexID])); err != nil {
			return err
		}
	}
	j.result.Rows++
	return nil
}

func (j *Job) manifest(ctx context.Context) (map[string]int64, error) {
	objs, err := j.store.List(ctx, strings.TrimSuffix(j.cfg.OutputPath, "/")+"/")
	if err != nil {
		return nil, err
	}
	ret := map[string]int64{}
	for _, o := range objs {
		if path.Ext(o.Key) != "."+jobspec.OutputFileFormat {
			continue
		}
		ret[o.Key] = o.Size
	}
	return ret, nil
}

func selected(fg *jobspec.FileGroup, partitionID int64) bool {
	if len(fg.PartitionIDs) == 0 {
		return true
	}
	for _, id := range fg.PartitionIDs {
		if id == partitionID {
			return true
		}
	}
	return false
}

func project(row []string, positions []int) []string {
	ret := make([]string, len(positions))
	for i, p := range positions {
		ret[i] = row[p]
	}
	return ret
}

// tablePlan resolves the column positions routing needs.
type tablePlan struct {
	id    int64
	table *jobspec.Table
	base  *jobspec.Index

	router      *partition.Router
	single      *jobspec.Partition
	partCols    []int
	partTypes   []string
	distCols    []int
	distTypes   []string
	projections map[int64][]int
}

func newTablePlan(id int64, t *jobspec.Table) (*tablePlan, error) {
	plan := &tablePlan{
		id:          id,
		table:       t,
		base:        t.BaseIndex(),
		projections: map[int64][]int{},
	}
	pos := make(map[string]int, len(plan.base.Columns))
	for i, c := range plan.base.Columns {
		pos[strings.ToLower(c.ColumnName)] = i
	}
	resolve := func(names []string) ([]int, []string, error) {
		cols := make([]int, len(names))
		types := make([]string, len(names))
		for i, n := range names {
			p, ok := pos[strings.ToLower(n)]
			if !ok {
				return nil, nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "column %s of table %d is not in the base index", n, id)
			}
			cols[i] = p
			types[i] = plan.base.Columns[p].ColumnType
		}
		return cols, types, nil
	}

	var err error
	info := t.PartitionInfo
	if plan.partCols, plan.partTypes, err = resolve(info.PartitionColumnRefs); err != nil {
		return nil, err
	}
	if plan.distCols, plan.distTypes, err = resolve(info.DistributionColumnRefs); err != nil {
		return nil, err
	}
	for _, idx := range t.Indexes {
		names := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			names[i] = c.ColumnName
		}
		if plan.projections[idx.IndexID], _, err = resolve(names); err != nil {
			return nil, err
		}
	}

	switch catalog.PartitionType(info.PartitionType) {
	case catalog.PartitionRange:
		if plan.router, err = translate.RouterFromInfo(info, plan.partTypes); err != nil {
			return nil, err
		}
	case catalog.PartitionUnpartitioned:
		if len(info.Partitions) != 1 {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "unpartitioned table %d has %d partitions", id, len(info.Partitions))
		}
		plan.single = info.Partitions[0]
	default:
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "partition type %s is not supported", info.PartitionType)
	}
	return plan, nil
}

func (p *tablePlan) partitionOf(row []string) (*jobspec.Partition, error) {
	if p.router == nil {
		return p.single, nil
	}
	raw := project(row, p.partCols)
	for i, v := range raw {
		if v == catalog.NullSentinel {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "partition column %s is null", p.table.PartitionInfo.PartitionColumnRefs[i])
		}
	}
	key, err := partition.ParseKey(raw, p.partTypes)
	if err != nil {
		return nil, err
	}
	r, err := p.router.Route(key)
	if err != nil {
		return nil, err
	}
	for _, part := range p.table.PartitionInfo.Partitions {
		if part.PartitionID == r.PartitionID {
			return part, nil
		}
	}
	return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "routed to unknown partition %d", r.PartitionID)
}

// groupRows yields the base rows of one file group, skipping filtered
// and abnormal rows.
type groupRows struct {
	job *Job
	src recordSource
	rb  *rowBuilder
	tag string
}

func (g *groupRows) Next(ctx context.Context) ([]string, error) {
	for {
		rec, err := g.src.Next(ctx)
		if err != nil {
			if rec != nil && loaderror.Is(err, loaderror.LOAD_VALIDATION) {
				if err := g.job.abnormal(err); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		row, ok, err := g.rb.build(rec)
		if err != nil {
			if loaderror.Is(err, loaderror.LOAD_VALIDATION) {
				if err := g.job.abnormal(err); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		if !ok {
			g.job.result.Filtered++
			continue
		}
		if g.tag != "" {
			row = append(row, g.tag)
		}
		return row, nil
	}
}

// chainedRows reads file groups one after another.
type chainedRows struct {
	groups []*groupRows
	pos    int
}

func (c *chainedRows) Next(ctx context.Context) ([]string, error) {
	for c.pos < len(c.groups) {
		row, err := c.groups[c.pos].Next(ctx)
		if errors.Is(err, io.EOF) {
			c.pos++
			continue
		}
		return row, err
	}
	return nil, io.EOF
}

func (c *chainedRows) close() {
	for _, g := range c.groups {
		if err := g.src.Close(); err != nil {
			loadlog.Zero.Warn().Err(err).Msg("etljob: closing source failed")
		}
	}
}

func drain(ctx context.Context, rows *groupRows, fn func(row []string) error) error {
	for {
		row, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Package globaldict builds the per-attempt dictionary of bitmap columns
// and encodes the staged rows with it.
package globaldict

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/statistics"
	"github.com/pg-sharding/bulkload/pkg/storage"
)

type Options struct {
	Shards   int
	Reducers int
	Workers  int
	// SpillStore, when set, keeps staged shards under SpillPrefix
	// instead of memory.
	SpillStore  *storage.Store
	SpillPrefix string
}

type Builder struct {
	tableID int64
	taskID  string
	opts    Options

	columns  []string
	dictCols []int
	shardBy  []int

	mu     sync.Mutex
	shards [][][]string
	staged bool

	// distinct[c][r] holds the sorted values of dictionary column c
	// owned by reducer r.
	distinct [][][]string
	dict     *Dictionary
	encoded  bool
	// set once Encode starts; shard rows may hold codes from then on
	encoding bool
}

// NewBuilder prepares a build over rows laid out as columns. Rows are
// sharded by the shardColumns values.
func NewBuilder(tableID int64, taskID string, columns, dictColumns, shardColumns []string, opts Options) (*Builder, error) {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.Reducers <= 0 {
		opts.Reducers = opts.Shards
	}
	if opts.Workers <= 0 {
		opts.Workers = opts.Shards
	}

	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[strings.ToLower(c)] = i
	}
	lookup := func(names []string) ([]int, error) {
		ret := make([]int, 0, len(names))
		for _, n := range names {
			i, ok := pos[strings.ToLower(n)]
			if !ok {
				return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s is not staged for table %d", n, tableID)
			}
			ret = append(ret, i)
		}
		return ret, nil
	}

	dictCols, err := lookup(dictColumns)
	if err != nil {
		return nil, err
	}
	if len(dictCols) == 0 {
		return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "table %d has no dictionary column", tableID)
	}
	shardBy, err := lookup(shardColumns)
	if err != nil {
		return nil, err
	}

	return &Builder{
		tableID:  tableID,
		taskID:   taskID,
		opts:     opts,
		columns:  append([]string(nil), columns...),
		dictCols: dictCols,
		shardBy:  shardBy,
		shards:   make([][][]string, opts.Shards),
	}, nil
}

func (b *Builder) shardOf(row []string) int {
	if len(b.shardBy) == 0 {
		return 0
	}
	var key strings.Builder
	for _, i := range b.shardBy {
		key.WriteString(row[i])
		key.WriteByte(0)
	}
	return int(xxh3.HashString(key.String()) % uint64(b.opts.Shards))
}

// Stage reads every source row into the intermediate table.
func (b *Builder) Stage(ctx context.Context, rows RowSource) error {
	defer statistics.RecordSince(statistics.StageStage, time.Now())

	if b.staged {
		return loaderror.Newf(loaderror.LOAD_INVARIANT, "intermediate table %s is already staged", IntermediateTableName(b.tableID, b.taskID))
	}

	var total int
	for {
		row, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(row) != len(b.columns) {
			return loaderror.Newf(loaderror.LOAD_VALIDATION, "staged row has %d fields, table %d has %d columns", len(row), b.tableID, len(b.columns))
		}
		s := b.shardOf(row)
		b.shards[s] = append(b.shards[s], row)
		total++
	}

	if b.opts.SpillStore != nil {
		for i := range b.shards {
			if err := writeShard(ctx, b.opts.SpillStore, b.spillPath(i), b.shards[i]); err != nil {
				return err
			}
			b.shards[i] = nil
		}
	}
	b.staged = true

	loadlog.Zero.Debug().
		Str("table", IntermediateTableName(b.tableID, b.taskID)).
		Int("rows", total).
		Int("shards", b.opts.Shards).
		Bool("spilled", b.opts.SpillStore != nil).
		Msg("globaldict: source rows staged")
	return nil
}

func (b *Builder) spillPath(shard int) string {
	return shardPath(b.opts.SpillPrefix+"/"+IntermediateTableName(b.tableID, b.taskID), shard)
}

func (b *Builder) loadShard(ctx context.Context, i int) ([][]string, error) {
	if b.opts.SpillStore == nil {
		return b.shards[i], nil
	}
	return readShard(ctx, b.opts.SpillStore, b.spillPath(i))
}

func (b *Builder) storeShard(ctx context.Context, i int, rows [][]string) error {
	if b.opts.SpillStore == nil {
		b.shards[i] = rows
		return nil
	}
	return writeShard(ctx, b.opts.SpillStore, b.spillPath(i), rows)
}

func (b *Builder) reducerOf(value string) int {
	return int(xxh3.HashString(value) % uint64(b.opts.Reducers))
}

// ExtractDistinct collects the distinct values of every dictionary
// column over all shards. Each shard hands its values to the reducer
// owning them; reducers start only after every shard is done.
func (b *Builder) ExtractDistinct(ctx context.Context) error {
	defer statistics.RecordSince(statistics.StageExtract, time.Now())

	if !b.staged {
		return loaderror.New(loaderror.LOAD_INVARIANT, "distinct values extracted before staging")
	}
	if b.encoding {
		return loaderror.New(loaderror.LOAD_INVARIANT, "distinct values extracted after encoding")
	}

	// partial[s][c][r]
	partial := make([][][][]string, b.opts.Shards)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for s := 0; s < b.opts.Shards; s++ {
		g.Go(func() error {
			rows, err := b.loadShard(gctx, s)
			if err != nil {
				return err
			}
			local := make([][]map[string]struct{}, len(b.dictCols))
			for c := range local {
				local[c] = make([]map[string]struct{}, b.opts.Reducers)
				for r := range local[c] {
					local[c][r] = map[string]struct{}{}
				}
			}
			for n, row := range rows {
				if n%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for c, ci := range b.dictCols {
					v := row[ci]
					if v == catalog.NullSentinel {
						continue
					}
					local[c][b.reducerOf(v)][v] = struct{}{}
				}
			}
			out := make([][][]string, len(b.dictCols))
			for c := range local {
				out[c] = make([][]string, b.opts.Reducers)
				for r, set := range local[c] {
					for v := range set {
						out[c][r] = append(out[c][r], v)
					}
				}
			}
			partial[s] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	distinct := make([][][]string, len(b.dictCols))
	for c := range distinct {
		distinct[c] = make([][]string, b.opts.Reducers)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for r := 0; r < b.opts.Reducers; r++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for c := range b.dictCols {
				set := map[string]struct{}{}
				for s := range partial {
					for _, v := range partial[s][c][r] {
						set[v] = struct{}{}
					}
				}
				vals := make([]string, 0, len(set))
				for v := range set {
					vals = append(vals, v)
				}
				sort.Strings(vals)
				distinct[c][r] = vals
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.distinct = distinct

	loadlog.Zero.Debug().
		Str("table", DistinctKeyTableName(b.tableID, b.taskID)).
		Int("reducers", b.opts.Reducers).
		Msg("globaldict: distinct values extracted")
	return nil
}

// Build assigns every distinct value the offset of its reducer plus its
// rank inside the reducer.
func (b *Builder) Build() (*Dictionary, error) {
	if b.distinct == nil {
		return nil, loaderror.New(loaderror.LOAD_INVARIANT, "dictionary built before distinct extraction")
	}
	if b.encoding {
		return nil, loaderror.New(loaderror.LOAD_INVARIANT, "dictionary rebuilt after encoding")
	}

	dict := &Dictionary{TableID: b.tableID, codes: map[string]map[string]int64{}}
	for c, ci := range b.dictCols {
		codes := map[string]int64{}
		var offset int64
		for _, vals := range b.distinct[c] {
			for rank, v := range vals {
				codes[v] = offset + int64(rank)
			}
			offset += int64(len(vals))
		}
		dict.codes[b.columns[ci]] = codes
	}
	b.dict = dict

	loadlog.Zero.Debug().
		Str("dict", GlobalDictTableName(b.tableID)).
		Strs("columns", dict.Columns()).
		Msg("globaldict: codes assigned")
	return dict, nil
}

// Encode replaces every dictionary column value with its code. NULL
// stays NULL.
func (b *Builder) Encode(ctx context.Context) error {
	defer statistics.RecordSince(statistics.StageEncode, time.Now())

	if b.dict == nil {
		return loaderror.New(loaderror.LOAD_INVARIANT, "rows encoded before the dictionary is built")
	}
	if b.encoding {
		return loaderror.New(loaderror.LOAD_INVARIANT, "rows are already encoded")
	}
	b.encoding = true

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for s := 0; s < b.opts.Shards; s++ {
		g.Go(func() error {
			rows, err := b.loadShard(gctx, s)
			if err != nil {
				return err
			}
			for n, row := range rows {
				if n%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for _, ci := range b.dictCols {
					v := row[ci]
					if v == catalog.NullSentinel {
						continue
					}
					code, ok := b.dict.Code(b.columns[ci], v)
					if !ok {
						return loaderror.Newf(loaderror.LOAD_INVARIANT, "value %q of column %s has no code", v, b.columns[ci])
					}
					row[ci] = strconv.FormatInt(code, 10)
				}
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.storeShard(gctx, s, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.encoded = true

	loadlog.Zero.Debug().
		Int64("table", b.tableID).
		Msg("globaldict: rows encoded")
	return nil
}

// Each calls fn for every encoded row, shard by shard.
func (b *Builder) Each(ctx context.Context, fn func(row []string) error) error {
	if !b.encoded {
		return loaderror.New(loaderror.LOAD_INVARIANT, "encoded rows read before encoding")
	}
	for s := 0; s < b.opts.Shards; s++ {
		rows, err := b.loadShard(ctx, s)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run stages rows and performs the whole build.
func (b *Builder) Run(ctx context.Context, rows RowSource) (*Dictionary, error) {
	if err := b.Stage(ctx, rows); err != nil {
		return nil, err
	}
	if err := b.ExtractDistinct(ctx); err != nil {
		return nil, err
	}
	dict, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := b.Encode(ctx); err != nil {
		return nil, err
	}
	return dict, nil
}

// Cleanup removes spilled shards.
func (b *Builder) Cleanup(ctx context.Context) error {
	if b.opts.SpillStore == nil {
		b.shards = make([][][]string, b.opts.Shards)
		return nil
	}
	for s := 0; s < b.opts.Shards; s++ {
		ok, err := b.opts.SpillStore.Exists(ctx, b.spillPath(s))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := b.opts.SpillStore.Delete(ctx, b.spillPath(s)); err != nil {
			return err
		}
	}
	return nil
}

package etljob

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/storage"
)

const writeBatch = 1024

type tabletKey struct {
	tableID     int64
	partitionID int64
	indexID     int64
	bucket      int
}

// indexSchema lays out every column of an index as an optional string.
// The returned slice maps index column positions to parquet columns.
func indexSchema(idx *jobspec.Index) (*parquet.Schema, []int, error) {
	group := parquet.Group{}
	for _, c := range idx.Columns {
		group[c.ColumnName] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema(fmt.Sprintf("index_%d", idx.IndexID), group)

	columns := make([]int, len(idx.Columns))
	for i, c := range idx.Columns {
		leaf, ok := schema.Lookup(c.ColumnName)
		if !ok {
			return nil, nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "column %s is missing from schema of index %d", c.ColumnName, idx.IndexID)
		}
		columns[i] = leaf.ColumnIndex
	}
	return schema, columns, nil
}

type tabletWriter struct {
	path    string
	out     io.WriteCloser
	w       *parquet.Writer
	columns []int
	buf     []parquet.Row
	rows    int64
}

func (t *tabletWriter) write(values []string) error {
	row := make(parquet.Row, len(t.columns))
	for i, v := range values {
		ci := t.columns[i]
		if v == catalog.NullSentinel {
			row[ci] = parquet.NullValue().Level(0, 0, ci)
		} else {
			row[ci] = parquet.ByteArrayValue([]byte(v)).Level(0, 1, ci)
		}
	}
	t.buf = append(t.buf, row)
	t.rows++
	if len(t.buf) >= writeBatch {
		return t.flush()
	}
	return nil
}

func (t *tabletWriter) flush() error {
	if len(t.buf) == 0 {
		return nil
	}
	if _, err := t.w.WriteRows(t.buf); err != nil {
		return loaderror.Newf(loaderror.LOAD_UNEXPECTED, "write %s: %w", t.path, err)
	}
	t.buf = t.buf[:0]
	return nil
}

func (t *tabletWriter) close() error {
	if err := t.flush(); err != nil {
		_ = t.out.Close()
		return err
	}
	if err := t.w.Close(); err != nil {
		_ = t.out.Close()
		return loaderror.Newf(loaderror.LOAD_UNEXPECTED, "finish %s: %w", t.path, err)
	}
	return t.out.Close()
}

// tabletWriters opens one output file per tablet on first use.
type tabletWriters struct {
	store   *storage.Store
	cfg     *jobspec.JobConfig
	schemas map[int64]*parquet.Schema
	columns map[int64][]int
	open    map[tabletKey]*tabletWriter
}

func newTabletWriters(store *storage.Store, cfg *jobspec.JobConfig) *tabletWriters {
	return &tabletWriters{
		store:   store,
		cfg:     cfg,
		schemas: map[int64]*parquet.Schema{},
		columns: map[int64][]int{},
		open:    map[tabletKey]*tabletWriter{},
	}
}

func (ws *tabletWriters) get(ctx context.Context, key tabletKey, idx *jobspec.Index) (*tabletWriter, error) {
	if w, ok := ws.open[key]; ok {
		return w, nil
	}

	schema, ok := ws.schemas[idx.IndexID]
	if !ok {
		var err error
		var columns []int
		if schema, columns, err = indexSchema(idx); err != nil {
			return nil, err
		}
		ws.schemas[idx.IndexID] = schema
		ws.columns[idx.IndexID] = columns
	}

	p := path.Join(ws.cfg.OutputPath, ws.cfg.OutputFileName(key.tableID, key.partitionID, key.indexID, key.bucket, idx.SchemaHash))
	out, err := ws.store.NewWriter(ctx, p)
	if err != nil {
		return nil, err
	}
	w := &tabletWriter{
		path:    p,
		out:     out,
		w:       parquet.NewWriter(out, schema),
		columns: ws.columns[idx.IndexID],
	}
	ws.open[key] = w

	loadlog.Zero.Debug().Str("path", p).Msg("etljob: tablet file opened")
	return w, nil
}

// closeAll finishes every file in a stable order and reports the first error.
func (ws *tabletWriters) closeAll() error {
	keys := make([]tabletKey, 0, len(ws.open))
	for k := range ws.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.tableID != b.tableID {
			return a.tableID < b.tableID
		}
		if a.partitionID != b.partitionID {
			return a.partitionID < b.partitionID
		}
		if a.indexID != b.indexID {
			return a.indexID < b.indexID
		}
		return a.bucket < b.bucket
	})

	var first error
	for _, k := range keys {
		w := ws.open[k]
		if err := w.close(); err != nil && first == nil {
			first = err
		}
		loadlog.Zero.Debug().Str("path", w.path).Int64("rows", w.rows).Msg("etljob: tablet file closed")
	}
	ws.open = map[tabletKey]*tabletWriter{}
	return first
}

package etljob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/storage"
)

const maxLineSize = 16 << 20

// record maps lower case source field names to their text.
type record map[string]string

type recordSource interface {
	// Next returns io.EOF once drained. A non-nil record with an error
	// is a malformed line the caller may skip.
	Next(ctx context.Context) (record, error)
	Close() error
}

func splitOn(delim []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// pathColumns extracts name=value segments of a file path.
func pathColumns(filePath string, names []string) (map[string]string, error) {
	segs := map[string]string{}
	for _, seg := range strings.Split(filePath, "/") {
		if k, v, ok := strings.Cut(seg, "="); ok {
			segs[strings.ToLower(k)] = v
		}
	}
	ret := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := segs[strings.ToLower(n)]
		if !ok {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s is not found in path %s", n, filePath)
		}
		ret[strings.ToLower(n)] = v
	}
	return ret, nil
}

// fileSource reads delimited text files one after another.
type fileSource struct {
	store *storage.Store
	fg    *jobspec.FileGroup

	pos      int
	cur      io.ReadCloser
	scanner  *bufio.Scanner
	fromPath map[string]string
}

func newFileSource(store *storage.Store, fg *jobspec.FileGroup) (*fileSource, error) {
	if fg.FileFormat != "" && !strings.EqualFold(fg.FileFormat, "csv") {
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "file format %s is not supported", fg.FileFormat)
	}
	return &fileSource{store: store, fg: fg}, nil
}

func (s *fileSource) open(ctx context.Context) error {
	p := s.fg.FilePaths[s.pos]
	fromPath, err := pathColumns(p, s.fg.ColumnsFromPath)
	if err != nil {
		return err
	}
	r, err := s.store.NewURLReader(ctx, p)
	if err != nil {
		return err
	}
	s.cur = r
	s.fromPath = fromPath
	s.scanner = bufio.NewScanner(r)
	s.scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	s.scanner.Split(splitOn([]byte(s.fg.LineDelimiter)))
	return nil
}

func (s *fileSource) Next(ctx context.Context) (record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.scanner == nil {
			if s.pos >= len(s.fg.FilePaths) {
				return nil, io.EOF
			}
			if err := s.open(ctx); err != nil {
				return nil, err
			}
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "read %s: %w", s.fg.FilePaths[s.pos], err)
			}
			if err := s.cur.Close(); err != nil {
				return nil, err
			}
			s.scanner, s.cur = nil, nil
			s.pos++
			continue
		}

		line := s.scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, s.fg.ColumnSeparator)
		rec := make(record, len(fields)+len(s.fromPath))
		for k, v := range s.fromPath {
			rec[k] = v
		}
		if len(fields) != len(s.fg.FileFieldNames) {
			return rec, loaderror.Newf(loaderror.LOAD_VALIDATION,
				"line has %d fields, %d expected: %.64q", len(fields), len(s.fg.FileFieldNames), line)
		}
		for i, name := range s.fg.FileFieldNames {
			rec[strings.ToLower(name)] = fields[i]
		}
		return rec, nil
	}
}

func (s *fileSource) Close() error {
	if s.cur != nil {
		return s.cur.Close()
	}
	return nil
}

// tableSource reads the rows of a source table through Postgres.
type tableSource struct {
	conn  *pgx.Conn
	rows  pgx.Rows
	names []string
}

func newTableSource(ctx context.Context, dsn string, fg *jobspec.FileGroup) (*tableSource, error) {
	if dsn == "" {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "source table %s needs a source dsn", fg.HiveTableName)
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "connect to source: %w", err)
	}

	cols := make([]string, len(fg.FileFieldNames))
	for i, n := range fg.FileFieldNames {
		cols[i] = pgx.Identifier{n}.Sanitize() + "::text"
	}
	query := "SELECT " + strings.Join(cols, ", ") +
		" FROM " + pgx.Identifier(strings.Split(fg.HiveTableName, ".")).Sanitize()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "read source table %s: %w", fg.HiveTableName, err)
	}
	return &tableSource{conn: conn, rows: rows, names: fg.FileFieldNames}, nil
}

func (s *tableSource) Next(ctx context.Context) (record, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "read source table: %w", err)
		}
		return nil, io.EOF
	}
	vals := make([]*string, len(s.names))
	dest := make([]any, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "scan source row: %w", err)
	}
	rec := make(record, len(vals))
	for i, v := range vals {
		if v == nil {
			rec[strings.ToLower(s.names[i])] = catalog.NullSentinel
		} else {
			rec[strings.ToLower(s.names[i])] = *v
		}
	}
	return rec, nil
}

func (s *tableSource) Close() error {
	s.rows.Close()
	return s.conn.Close(context.Background())
}

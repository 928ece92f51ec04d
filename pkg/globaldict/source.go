package globaldict

import (
	"context"
	"io"
)

// RowSource yields staged rows as text fields in base schema column
// order, NULL being `\N`. Next returns io.EOF once drained.
type RowSource interface {
	Next(ctx context.Context) ([]string, error)
}

// SliceSource serves rows from memory.
type SliceSource struct {
	rows [][]string
	pos  int
}

var _ RowSource = &SliceSource{}

func NewSliceSource(rows [][]string) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return append([]string(nil), row...), nil
}

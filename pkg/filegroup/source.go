// Package filegroup compiles the load directives of one input source
// against a table schema.
package filegroup

import (
	"regexp"
	"strings"
)

// Expr derives a destination column. Either FunctionName (with Args) or
// SQL is set.
type Expr struct {
	FunctionName string   `yaml:"function" json:"function,omitempty"`
	Args         []string `yaml:"args" json:"args,omitempty"`
	SQL          string   `yaml:"sql" json:"sql,omitempty"`
}

var bareIdent = regexp.MustCompile("^`?[A-Za-z_][A-Za-z0-9_]*`?$")

// ToSQL renders the expression.
func (e *Expr) ToSQL() string {
	if e.FunctionName == "" {
		return strings.TrimSpace(e.SQL)
	}
	return e.FunctionName + "(" + strings.Join(e.Args, ", ") + ")"
}

// IsIdentity reports whether the expression only copies one source field.
func (e *Expr) IsIdentity() bool {
	return e.FunctionName == "" && bareIdent.MatchString(strings.TrimSpace(e.SQL))
}

// ColumnDesc names a destination column. A nil Expr copies the source
// field of the same name.
type ColumnDesc struct {
	Name string `yaml:"name" json:"name"`
	Expr *Expr  `yaml:"expr" json:"expr,omitempty"`
}

func (d ColumnDesc) IsColumn() bool {
	return d.Expr == nil
}

// FuncCall is an engine-side function producing a destination column.
type FuncCall struct {
	Name string   `yaml:"name" json:"name"`
	Args []string `yaml:"args" json:"args"`
}

// Source is the load description of one group of input files of a table.
type Source struct {
	TableID         int64    `yaml:"table_id" json:"table_id"`
	FilePaths       []string `yaml:"file_paths" json:"file_paths"`
	FileFieldNames  []string `yaml:"file_field_names" json:"file_field_names"`
	ColumnsFromPath []string `yaml:"columns_from_path" json:"columns_from_path"`
	ColumnSeparator string   `yaml:"column_separator" json:"column_separator"`
	LineDelimiter   string   `yaml:"line_delimiter" json:"line_delimiter"`
	IsNegative      bool     `yaml:"negative" json:"negative"`
	FileFormat      string   `yaml:"format" json:"format"`
	PartitionIDs    []int64  `yaml:"partitions" json:"partitions"`
	// Where is a filter expression, empty for none.
	Where            string              `yaml:"where" json:"where"`
	Columns          []ColumnDesc        `yaml:"columns" json:"columns"`
	ColumnToFunction map[string]FuncCall `yaml:"column_functions" json:"column_functions"`
	// SourceTable names the table rows are read from instead of files.
	SourceTable string `yaml:"source_table" json:"source_table"`
}

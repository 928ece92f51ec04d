package filegroup

import (
	"sort"
	"strings"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

const (
	defaultColumnSeparator = "\t"
	defaultLineDelimiter   = "\n"
	defaultFileFormat      = "csv"
)

// InitColumns returns the column descriptors completed against the base
// schema of t. The descs slice is left untouched.
func InitColumns(t *catalog.Table, descs []ColumnDesc, funcs map[string]FuncCall) ([]ColumnDesc, error) {
	base := t.BaseIndex()
	if base == nil {
		return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "table %s has no base index", t.Name)
	}

	ret := make([]ColumnDesc, 0, len(descs)+len(funcs))
	if len(descs) == 0 {
		for _, c := range base.Columns {
			ret = append(ret, ColumnDesc{Name: c.Name})
		}
	} else {
		ret = append(ret, descs...)
	}

	schema := make(map[string]*catalog.Column, len(base.Columns))
	for _, c := range base.Columns {
		schema[strings.ToLower(c.Name)] = c
	}

	seen := map[string]int{}
	for i, d := range ret {
		key := strings.ToLower(d.Name)
		if key == "" {
			return nil, loaderror.New(loaderror.LOAD_VALIDATION, "column mapping without a destination name")
		}
		if _, ok := seen[key]; ok {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "duplicate column name %s", d.Name)
		}
		seen[key] = i
		if !d.IsColumn() {
			if _, ok := schema[key]; !ok {
				return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "derived column %s does not exist in table %s", d.Name, t.Name)
			}
		}
	}

	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := strings.ToLower(name)
		if _, ok := schema[key]; !ok {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "function mapped column %s does not exist in table %s", name, t.Name)
		}
		f := funcs[name]
		expr := &Expr{FunctionName: f.Name, Args: append([]string(nil), f.Args...)}
		if i, ok := seen[key]; ok {
			// a plain copy is replaced, a derived column keeps its expression
			if ret[i].IsColumn() {
				ret[i].Expr = expr
			}
			continue
		}
		ret = append(ret, ColumnDesc{Name: name, Expr: expr})
		seen[key] = len(ret) - 1
	}

	for _, c := range base.Columns {
		if _, ok := seen[strings.ToLower(c.Name)]; ok {
			continue
		}
		if c.Default.Kind == catalog.DefaultNone {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s has no source and no default value", c.Name)
		}
	}
	return ret, nil
}

// Compile validates src against t and produces its job file group.
// tablePartitionIDs are the partitions prepared for the table in this
// attempt and are used when src names none.
func Compile(src *Source, tablePartitionIDs []int64, t *catalog.Table) (*jobspec.FileGroup, error) {
	descs, err := InitColumns(t, src.Columns, src.ColumnToFunction)
	if err != nil {
		return nil, err
	}
	base := t.BaseIndex()

	funcNames := make([]string, 0, len(src.ColumnToFunction))
	for name := range src.ColumnToFunction {
		funcNames = append(funcNames, name)
	}
	sort.Strings(funcNames)
	external := make(map[string]string, len(funcNames))
	for _, name := range funcNames {
		key := strings.ToLower(name)
		if other, ok := external[key]; ok {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s has two function mappings: %s and %s", key, other, name)
		}
		external[key] = name
	}

	// the expression that ends up in the mappings, external functions first
	exprByName := map[string]*Expr{}
	for _, d := range descs {
		if !d.IsColumn() {
			exprByName[strings.ToLower(d.Name)] = d.Expr
		}
	}
	for key, name := range external {
		f := src.ColumnToFunction[name]
		exprByName[key] = &Expr{FunctionName: f.Name, Args: f.Args}
	}
	for _, c := range base.Columns {
		if !catalog.NeedsTransform(c.Type) {
			continue
		}
		e, ok := exprByName[strings.ToLower(c.Name)]
		if !ok || e.IsIdentity() {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column func is not assigned. column: %s, type: %s", c.Name, c.Type)
		}
	}

	if src.IsNegative {
		for _, c := range base.Columns {
			if !c.IsKey && c.Aggregation != catalog.AggSum {
				return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s is not SUM aggregated, negative load is impossible", c.Name)
			}
		}
	}

	fieldNames := src.FileFieldNames
	if len(fieldNames) == 0 {
		fieldNames = make([]string, len(base.Columns))
		for i, c := range base.Columns {
			fieldNames[i] = c.Name
		}
	}

	mappings := map[string]*jobspec.ColumnMapping{}
	for name, f := range src.ColumnToFunction {
		mappings[name] = &jobspec.ColumnMapping{FunctionName: f.Name, Args: append([]string(nil), f.Args...)}
	}
	for _, d := range descs {
		if d.IsColumn() {
			continue
		}
		if _, ok := external[strings.ToLower(d.Name)]; ok {
			continue
		}
		mappings[d.Name] = &jobspec.ColumnMapping{Expr: d.Expr.ToSQL()}
	}

	partitionIDs := append([]int64(nil), src.PartitionIDs...)
	if len(partitionIDs) == 0 {
		partitionIDs = append(partitionIDs, tablePartitionIDs...)
	}

	fg := &jobspec.FileGroup{
		SourceType:      jobspec.SourceTypeFile,
		FilePaths:       append([]string{}, src.FilePaths...),
		FileFieldNames:  append([]string{}, fieldNames...),
		ColumnsFromPath: append([]string{}, src.ColumnsFromPath...),
		ColumnSeparator: orDefault(src.ColumnSeparator, defaultColumnSeparator),
		LineDelimiter:   orDefault(src.LineDelimiter, defaultLineDelimiter),
		IsNegative:      src.IsNegative,
		FileFormat:      orDefault(src.FileFormat, defaultFileFormat),
		ColumnMappings:  mappings,
		Where:           strings.TrimSpace(src.Where),
		PartitionIDs:    partitionIDs,
		HiveTableName:   src.SourceTable,
	}
	if src.SourceTable != "" {
		fg.SourceType = jobspec.SourceTypeHive
	}

	loadlog.Zero.Debug().
		Int64("table", t.ID).
		Int("files", len(fg.FilePaths)).
		Int("mappings", len(mappings)).
		Msg("filegroup: compiled")
	return fg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

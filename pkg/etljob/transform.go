package etljob

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/models/catalog"
	"github.com/pg-sharding/bulkload/pkg/models/hashfunction"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// lookup resolves a lower case column or field name.
type lookup func(name string) (string, bool)

type evaluator func(get lookup) (string, error)

type predicate func(get lookup) (bool, error)

var (
	bareIdent = regexp.MustCompile("^`?([A-Za-z_][A-Za-z0-9_]*)`?$")
	funcCall  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
	condition = regexp.MustCompile(`^(.+?)\s*(>=|<=|!=|<>|=|>|<)\s*(.+)$`)
)

type operand struct {
	field   string
	literal string
	isConst bool
}

func parseOperand(s string) (operand, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return operand{literal: s[1 : len(s)-1], isConst: true}, nil
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return operand{literal: s, isConst: true}, nil
	}
	if m := bareIdent.FindStringSubmatch(s); m != nil {
		return operand{field: strings.ToLower(m[1])}, nil
	}
	return operand{}, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "operand %q is not supported", s)
}

func (o operand) eval(get lookup) (string, error) {
	if o.isConst {
		return o.literal, nil
	}
	v, ok := get(o.field)
	if !ok {
		return "", loaderror.Newf(loaderror.LOAD_VALIDATION, "field %s is missing", o.field)
	}
	return v, nil
}

type function struct {
	arity int
	apply func(args []string) string
}

var functions = map[string]function{
	"to_bitmap":     {arity: 1, apply: passThrough},
	"bitmap_dict":   {arity: 1, apply: passThrough},
	"hll_hash":      {arity: 1, apply: passThrough},
	"default_value": {arity: 1, apply: passThrough},
	"bitmap_hash": {arity: 1, apply: func(args []string) string {
		if args[0] == catalog.NullSentinel {
			return args[0]
		}
		h, _ := hashfunction.ApplyMurmurHashFunction(args[0])
		return strconv.FormatUint(uint64(h), 10)
	}},
	"bitmap_empty": {arity: 0, apply: func([]string) string { return catalog.NullSentinel }},
	"hll_empty":    {arity: 0, apply: func([]string) string { return catalog.NullSentinel }},
}

func passThrough(args []string) string {
	return args[0]
}

func compileCall(name string, rawArgs []string) (evaluator, error) {
	fn, ok := functions[strings.ToLower(name)]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "function %s is not supported", name)
	}
	if len(rawArgs) != fn.arity {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "function %s takes %d arguments, got %d", name, fn.arity, len(rawArgs))
	}
	args := make([]operand, len(rawArgs))
	for i, a := range rawArgs {
		op, err := parseOperand(a)
		if err != nil {
			return nil, err
		}
		args[i] = op
	}
	return func(get lookup) (string, error) {
		vals := make([]string, len(args))
		for i, a := range args {
			v, err := a.eval(get)
			if err != nil {
				return "", err
			}
			vals[i] = v
		}
		return fn.apply(vals), nil
	}, nil
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// compileMapping turns a column mapping into an evaluator. Expressions
// are limited to a field, a literal or a call of a known function.
func compileMapping(m *jobspec.ColumnMapping) (evaluator, error) {
	if m.FunctionName != "" {
		return compileCall(m.FunctionName, m.Args)
	}
	expr := strings.TrimSpace(m.Expr)
	if mm := funcCall.FindStringSubmatch(expr); mm != nil {
		return compileCall(mm[1], splitArgs(mm[2]))
	}
	op, err := parseOperand(expr)
	if err != nil {
		return nil, err
	}
	return op.eval, nil
}

func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// compileWhere supports a single comparison. NULL never matches.
func compileWhere(where string) (predicate, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}
	m := condition.FindStringSubmatch(where)
	if m == nil {
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "where clause %q is not supported", where)
	}
	lhs, err := parseOperand(m[1])
	if err != nil {
		return nil, err
	}
	rhs, err := parseOperand(m[3])
	if err != nil {
		return nil, err
	}
	op := m[2]

	return func(get lookup) (bool, error) {
		a, err := lhs.eval(get)
		if err != nil {
			return false, err
		}
		b, err := rhs.eval(get)
		if err != nil {
			return false, err
		}
		if a == catalog.NullSentinel || b == catalog.NullSentinel {
			return false, nil
		}
		c := compare(a, b)
		switch op {
		case "=":
			return c == 0, nil
		case "!=", "<>":
			return c != 0, nil
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		case "<":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}, nil
}

func negate(v string) string {
	if strings.HasPrefix(v, "-") {
		return v[1:]
	}
	return "-" + v
}

// rowBuilder produces base index rows of one file group.
type rowBuilder struct {
	columns []*jobspec.Column
	pos     map[string]int
	evals   []evaluator
	negated []bool
	where   predicate
}

func newRowBuilder(fg *jobspec.FileGroup, base *jobspec.Index) (*rowBuilder, error) {
	b := &rowBuilder{
		columns: base.Columns,
		pos:     make(map[string]int, len(base.Columns)),
		evals:   make([]evaluator, len(base.Columns)),
		negated: make([]bool, len(base.Columns)),
	}
	for i, c := range base.Columns {
		b.pos[strings.ToLower(c.ColumnName)] = i
		b.negated[i] = fg.IsNegative && !c.IsKey && c.AggregationType == string(catalog.AggSum)
	}

	for name, m := range fg.ColumnMappings {
		i, ok := b.pos[strings.ToLower(name)]
		if !ok {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "mapped column %s is not in the base index", name)
		}
		if b.evals[i] != nil {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s is mapped twice", base.Columns[i].ColumnName)
		}
		ev, err := compileMapping(m)
		if err != nil {
			return nil, err
		}
		b.evals[i] = ev
	}

	where, err := compileWhere(fg.Where)
	if err != nil {
		return nil, err
	}
	b.where = where
	return b, nil
}

// build returns the base row of rec and whether it passed the filter.
func (b *rowBuilder) build(rec record) ([]string, bool, error) {
	fromRecord := func(name string) (string, bool) {
		v, ok := rec[name]
		return v, ok
	}

	row := make([]string, len(b.columns))
	for i, c := range b.columns {
		var v string
		switch {
		case b.evals[i] != nil:
			var err error
			if v, err = b.evals[i](fromRecord); err != nil {
				return nil, false, err
			}
		default:
			var ok bool
			if v, ok = rec[strings.ToLower(c.ColumnName)]; !ok {
				if c.DefaultValue == nil {
					return nil, false, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s has no value", c.ColumnName)
				}
				v = *c.DefaultValue
			}
		}
		if v == catalog.NullSentinel && !c.IsAllowNull && !catalog.NeedsTransform(c.ColumnType) {
			return nil, false, loaderror.Newf(loaderror.LOAD_VALIDATION, "column %s is not nullable", c.ColumnName)
		}
		row[i] = v
	}

	if b.where != nil {
		ok, err := b.where(func(name string) (string, bool) {
			if i, ok := b.pos[name]; ok {
				return row[i], true
			}
			return fromRecord(name)
		})
		if err != nil || !ok {
			return nil, false, err
		}
	}

	// the filter sees loaded values, negation applies to stored ones
	for i, v := range row {
		if b.negated[i] && v != catalog.NullSentinel {
			row[i] = negate(v)
		}
	}
	return row, true, nil
}

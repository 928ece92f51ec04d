package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// Key is a partition key tuple, one value per partition column in
// declaration order. Values are int64, float64, bool or string;
// LARGEINT values outside the int64 range are *big.Int.
// An empty Key is the lowest possible key.
type Key []any

type maxValue struct{}

var (
	largeIntMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	largeIntMin = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func (maxValue) String() string {
	return "MAXVALUE"
}

// MaxValue is the reserved element greater than every other value.
var MaxValue any = maxValue{}

// MaxKey returns a key of n MaxValue elements.
func MaxKey(n int) Key {
	if n < 1 {
		n = 1
	}
	k := make(Key, n)
	for i := range k {
		k[i] = MaxValue
	}
	return k
}

// IsMax reports whether every element of the key is MaxValue.
func (k Key) IsMax() bool {
	if len(k) == 0 {
		return false
	}
	for _, v := range k {
		if _, ok := v.(maxValue); !ok {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseKey converts string bound values into a typed key using the
// partition column types.
func ParseKey(raw []string, types []string) (Key, error) {
	if len(raw) > len(types) {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "key %v has more values than %d partition columns", raw, len(types))
	}
	k := make(Key, len(raw))
	for i, s := range raw {
		v, err := parseValue(s, types[i])
		if err != nil {
			return nil, err
		}
		k[i] = v
	}
	return k, nil
}

func parseValue(s string, ctype string) (any, error) {
	switch ctype {
	case "TINYINT", "SMALLINT", "INT", "BIGINT", "LARGEINT":
		n, err := strconv.ParseInt(s, 10, 64)
		if ctype == "LARGEINT" && errors.Is(err, strconv.ErrRange) {
			return parseLargeInt(s)
		}
		if err != nil {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid %s partition value %q: %w", ctype, s, err)
		}
		return n, nil
	case "FLOAT", "DOUBLE":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid %s partition value %q: %w", ctype, s, err)
		}
		return f, nil
	case "BOOLEAN":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid %s partition value %q: %w", ctype, s, err)
		}
		return b, nil
	case "DATE", "DATETIME", "CHAR", "VARCHAR", "STRING":
		return s, nil
	default:
		return nil, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "column type %s can not be a partition column", ctype)
	}
}

func parseLargeInt(s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Cmp(largeIntMin) < 0 || n.Cmp(largeIntMax) > 0 {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid LARGEINT partition value %q", s)
	}
	return n, nil
}

// NormalizeKey converts decoded JSON values (json.Number, float64,
// string, bool) into the typed form ParseKey produces.
func NormalizeKey(values []any, types []string) (Key, error) {
	if len(values) > len(types) {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "key %v has more values than %d partition columns", values, len(types))
	}
	k := make(Key, len(values))
	for i, v := range values {
		switch tv := v.(type) {
		case json.Number:
			pv, err := parseValue(tv.String(), types[i])
			if err != nil {
				return nil, err
			}
			k[i] = pv
		case string:
			pv, err := parseValue(tv, types[i])
			if err != nil {
				return nil, err
			}
			k[i] = pv
		case float64:
			pv, err := parseValue(strconv.FormatFloat(tv, 'f', -1, 64), types[i])
			if err != nil {
				return nil, err
			}
			k[i] = pv
		case int64, bool, *big.Int:
			k[i] = tv
		case int:
			k[i] = int64(tv)
		default:
			return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "unexpected partition value %v of type %T", v, v)
		}
	}
	return k, nil
}

func compareValues(a, b any) int {
	_, aMax := a.(maxValue)
	_, bMax := b.(maxValue)
	switch {
	case aMax && bMax:
		return 0
	case aMax:
		return 1
	case bMax:
		return -1
	}

	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmp3(av < bv, av > bv)
		case float64:
			return cmp3(float64(av) < bv, float64(av) > bv)
		case *big.Int:
			return big.NewInt(av).Cmp(bv)
		}
	case *big.Int:
		switch bv := b.(type) {
		case *big.Int:
			return av.Cmp(bv)
		case int64:
			return av.Cmp(big.NewInt(bv))
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return cmp3(av < bv, av > bv)
		case int64:
			return cmp3(av < float64(bv), av > float64(bv))
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmp3(!av && bv, av && !bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	// mismatched types order by their printed form
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

// Compare orders keys lexicographically over their elements.
// A key that is a strict prefix of another sorts first.
func Compare(a, b Key) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp3(len(a) < len(b), len(a) > len(b))
}

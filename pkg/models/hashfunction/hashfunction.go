package hashfunction

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/go-faster/city"
	"github.com/spaolacci/murmur3"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
)

type HashFunctionType int

/* Pre-defined hash functions */
const (
	HashFunctionIdent  = HashFunctionType(0)
	HashFunctionMurmur = HashFunctionType(1)
	HashFunctionCity   = HashFunctionType(2)
)

var (
	errUnknownValueType = func(v any, hf HashFunctionType) error {
		return loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "unknown type of value that the hash will be calculated from: %T for %d hash type", v, hf)
	}
)

func EncodeUInt64(input uint64) []byte {
	const ENCODING_BYTES_BIG = binary.MaxVarintLen64
	const ENCODING_BYTES = 8
	const BOUND = 1 << 56 /* 72057594037927936 */

	sz := ENCODING_BYTES
	if input >= BOUND {
		sz = ENCODING_BYTES_BIG
	}

	buf := make([]byte, sz)
	binary.PutUvarint(buf, input)
	return buf
}

func encode(input any, hf HashFunctionType) ([]byte, error) {
	switch v := input.(type) {
	case int64:
		return EncodeUInt64(uint64(v)), nil
	case uint64:
		return EncodeUInt64(v), nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, errUnknownValueType(input, hf)
	}
}

func ApplyMurmurHashFunction(input any) (uint32, error) {
	buf, err := encode(input, HashFunctionMurmur)
	if err != nil {
		return 0, err
	}
	return murmur3.Sum32(buf), nil
}

func ApplyCityHashFunction(input any) (uint32, error) {
	buf, err := encode(input, HashFunctionCity)
	if err != nil {
		return 0, err
	}
	return city.Hash32(buf), nil
}

// ApplyHashFunction hashes a typed value. The identity function only
// accepts integers, which are used as the hash as is.
func ApplyHashFunction(input any, hf HashFunctionType) (uint64, error) {
	switch hf {
	case HashFunctionIdent:
		switch v := input.(type) {
		case int64:
			return uint64(v), nil
		case uint64:
			return v, nil
		default:
			return 0, errUnknownValueType(input, hf)
		}
	case HashFunctionMurmur:
		v, err := ApplyMurmurHashFunction(input)
		return uint64(v), err
	case HashFunctionCity:
		v, err := ApplyCityHashFunction(input)
		return uint64(v), err
	default:
		return 0, fmt.Errorf("unknown hash function type: %d", hf)
	}
}

/*
* Apply hash function on a field received in its text representation
* (from a source file). Integer columns are hashed by value so that
* "007" and "7" land in the same bucket.
 */
func ApplyHashFunctionOnStringRepr(input []byte, ctype string, hf HashFunctionType) (uint64, error) {
	var parsedInput any

	switch ctype {
	case qdb.ColumnTypeTinyInt, qdb.ColumnTypeSmallInt, qdb.ColumnTypeInt, qdb.ColumnTypeBigInt:
		n, err := strconv.ParseInt(string(input), 10, 64)
		if err != nil {
			return 0, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid %s value %q: %w", ctype, input, err)
		}
		parsedInput = n
	default:
		parsedInput = input
	}

	return ApplyHashFunction(parsedInput, hf)
}

// CheckColumnTypes reports whether columns of the given types can be
// hashed with hf. The identity function takes integer columns only.
func CheckColumnTypes(types []string, hf HashFunctionType) error {
	if hf != HashFunctionIdent {
		return nil
	}
	for _, t := range types {
		switch t {
		case qdb.ColumnTypeTinyInt, qdb.ColumnTypeSmallInt, qdb.ColumnTypeInt, qdb.ColumnTypeBigInt:
		default:
			return loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "identity hash can not be applied to %s distribution column", t)
		}
	}
	return nil
}

// BucketOf returns the bucket of a row given the text of its
// distribution columns. A nil field is a NULL and hashes to zero.
func BucketOf(fields [][]byte, types []string, hf HashFunctionType, bucketNum int32) (int, error) {
	if bucketNum <= 0 {
		return 0, loaderror.Newf(loaderror.LOAD_INVARIANT, "bucket number must be positive, got %d", bucketNum)
	}
	if len(fields) != len(types) {
		return 0, loaderror.Newf(loaderror.LOAD_INVARIANT, "got %d distribution fields for %d columns", len(fields), len(types))
	}

	var acc uint64
	for i, f := range fields {
		var h uint64
		if f != nil {
			var err error
			h, err = ApplyHashFunctionOnStringRepr(f, types[i], hf)
			if err != nil {
				return 0, err
			}
		}
		acc = acc*31 + h
	}
	return int(acc % uint64(bucketNum)), nil
}

// HashFunctionByName returns the corresponding HashFunctionType based on the given hash function name.
func HashFunctionByName(hfn string) (HashFunctionType, error) {
	switch hfn {
	case "identity", "ident":
		return HashFunctionIdent, nil
	case "murmur", "":
		return HashFunctionMurmur, nil
	case "city":
		return HashFunctionCity, nil
	default:
		return 0, loaderror.Newf(loaderror.LOAD_UNSUPPORTED, "unknown hash function type: %s", hfn)
	}
}

// ToString converts a HashFunctionType to its corresponding string representation.
// If the input HashFunctionType is not recognized, an empty string is returned.
func ToString(hf HashFunctionType) string {
	switch hf {
	case HashFunctionIdent:
		return "identity"
	case HashFunctionMurmur:
		return "murmur"
	case HashFunctionCity:
		return "city"
	}
	return ""
}

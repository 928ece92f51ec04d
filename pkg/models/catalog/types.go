package catalog

import "github.com/pg-sharding/bulkload/qdb"

func IsStringType(t string) bool {
	switch t {
	case qdb.ColumnTypeChar, qdb.ColumnTypeVarchar, qdb.ColumnTypeString:
		return true
	}
	return false
}

func IsDecimalType(t string) bool {
	switch t {
	case qdb.ColumnTypeDecimal, qdb.ColumnTypeDecimalV2, qdb.ColumnTypeDecimal32,
		qdb.ColumnTypeDecimal64, qdb.ColumnTypeDecimal128:
		return true
	}
	return false
}

// NeedsTransform reports whether loading the type requires a derived
// expression instead of a plain copy of a source field.
func NeedsTransform(t string) bool {
	return t == qdb.ColumnTypeBitmap || t == qdb.ColumnTypeHLL
}

// NeedsDictionary reports whether values of the type are dictionary
// encoded before loading.
func NeedsDictionary(t string) bool {
	return t == qdb.ColumnTypeBitmap
}

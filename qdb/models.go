package qdb

import (
	"encoding/json"
	"fmt"
)

// Column types stored in the catalog.
const (
	ColumnTypeBoolean    = "BOOLEAN"
	ColumnTypeTinyInt    = "TINYINT"
	ColumnTypeSmallInt   = "SMALLINT"
	ColumnTypeInt        = "INT"
	ColumnTypeBigInt     = "BIGINT"
	ColumnTypeLargeInt   = "LARGEINT"
	ColumnTypeFloat      = "FLOAT"
	ColumnTypeDouble     = "DOUBLE"
	ColumnTypeDate       = "DATE"
	ColumnTypeDatetime   = "DATETIME"
	ColumnTypeChar       = "CHAR"
	ColumnTypeVarchar    = "VARCHAR"
	ColumnTypeString     = "STRING"
	ColumnTypeDecimal    = "DECIMAL"
	ColumnTypeDecimalV2  = "DECIMALV2"
	ColumnTypeDecimal32  = "DECIMAL32"
	ColumnTypeDecimal64  = "DECIMAL64"
	ColumnTypeDecimal128 = "DECIMAL128"
	ColumnTypeHLL        = "HLL"
	ColumnTypeBitmap     = "BITMAP"
)

type Column struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Nullable        bool   `json:"nullable"`
	IsKey           bool   `json:"is_key"`
	AggregationType string `json:"aggregation_type,omitempty"`
	// DefaultValue is nil when the column has no explicit default.
	DefaultValue *string `json:"default_value,omitempty"`
	StringLength int32   `json:"string_length,omitempty"`
	Precision    int32   `json:"precision,omitempty"`
	Scale        int32   `json:"scale,omitempty"`
}

type Index struct {
	ID         int64     `json:"id"`
	SchemaHash int32     `json:"schema_hash"`
	KeysType   string    `json:"keys_type"`
	Columns    []*Column `json:"columns"`
}

type Distribution struct {
	Type      string   `json:"type"`
	Columns   []string `json:"columns"`
	BucketNum int32    `json:"bucket_num"`
}

// PartitionKey is a range bound in its string form, one value per
// partition column. IsMax marks the reserved maximum key.
type PartitionKey struct {
	Values []string `json:"values"`
	IsMax  bool     `json:"is_max,omitempty"`
}

type RangePartition struct {
	PartitionID int64        `json:"partition_id"`
	Lower       PartitionKey `json:"lower"`
	Upper       PartitionKey `json:"upper"`
}

type PartitionInfo struct {
	Type    string            `json:"type"`
	Columns []string          `json:"columns"`
	Ranges  []*RangePartition `json:"ranges,omitempty"`
}

type Partition struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// BucketNum of zero falls back to the table distribution.
	BucketNum int32 `json:"bucket_num,omitempty"`
}

type Table struct {
	ID           int64          `json:"id"`
	DbID         int64          `json:"db_id"`
	Name         string         `json:"name"`
	BaseIndexID  int64          `json:"base_index_id"`
	Indexes      []*Index       `json:"indexes"`
	Distribution *Distribution  `json:"distribution"`
	Partitioning *PartitionInfo `json:"partition_info"`
	Partitions   []*Partition   `json:"partitions"`
}

type Database struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type LoadJob struct {
	ID            int64           `json:"id"`
	DbID          int64           `json:"db_id"`
	Label         string          `json:"label"`
	TransactionID int64           `json:"transaction_id"`
	State         string          `json:"state"`
	Attempts      int             `json:"attempts"`
	CancelType    string          `json:"cancel_type,omitempty"`
	FailMsg       string          `json:"fail_msg,omitempty"`
	Attachment    json.RawMessage `json:"attachment,omitempty"`
	CreateTimeMs  int64           `json:"create_time_ms"`
	FinishTimeMs  int64           `json:"finish_time_ms,omitempty"`
}

func tableKey(dbID, tableID int64) string {
	return fmt.Sprintf("%d/%d", dbID, tableID)
}

func idKey(id int64) string {
	return fmt.Sprintf("%d", id)
}

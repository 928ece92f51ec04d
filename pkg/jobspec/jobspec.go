// Package jobspec holds the job configuration handed to the execution
// engine. Every value is serialized with lower_case_with_underscores
// field names and must not be mutated once written.
package jobspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

const (
	ConfigVersion = "V1"

	IndexTypeDuplicate = "DUPLICATE"
	IndexTypeAggregate = "AGGREGATE"
	IndexTypeUnique    = "UNIQUE"

	SourceTypeFile = "FILE"
	SourceTypeHive = "HIVE"

	// OutputFileFormat is the format of files written by the engine.
	OutputFileFormat = "parquet"
	// NoLabelSuffixFormat holds table id, partition id, index id, bucket
	// and schema hash.
	NoLabelSuffixFormat = "%d.%d.%d.%d.%d"

	ConfigFileName = "jobconfig.json"
)

// OutputFilePattern returns the file name pattern of a load label.
func OutputFilePattern(label string) string {
	return label + "." + NoLabelSuffixFormat + "." + OutputFileFormat
}

type Column struct {
	ColumnName      string `json:"column_name"`
	ColumnType      string `json:"column_type"`
	IsAllowNull     bool   `json:"is_allow_null"`
	IsKey           bool   `json:"is_key"`
	AggregationType string `json:"aggregation_type,omitempty"`
	// DefaultValue is nil when there is no default, `\N` for nullable
	// columns without an explicit default.
	DefaultValue *string `json:"default_value"`
	StringLength int32   `json:"string_length"`
	Precision    int32   `json:"precision"`
	Scale        int32   `json:"scale"`
}

type Index struct {
	IndexID     int64     `json:"index_id"`
	Columns     []*Column `json:"columns"`
	SchemaHash  int32     `json:"schema_hash"`
	IndexType   string    `json:"index_type"`
	IsBaseIndex bool      `json:"is_base_index"`
}

type Partition struct {
	PartitionID    int64 `json:"partition_id"`
	StartKeys      []any `json:"start_keys"`
	EndKeys        []any `json:"end_keys"`
	IsMaxPartition bool  `json:"is_max_partition"`
	BucketNum      int32 `json:"bucket_num"`
}

type PartitionInfo struct {
	PartitionType          string       `json:"partition_type"`
	PartitionColumnRefs    []string     `json:"partition_column_refs"`
	DistributionColumnRefs []string     `json:"distribution_column_refs"`
	Partitions             []*Partition `json:"partitions"`
}

// ColumnMapping derives a destination column either from a function
// call or from an expression.
type ColumnMapping struct {
	FunctionName string   `json:"function_name,omitempty"`
	Args         []string `json:"args,omitempty"`
	Expr         string   `json:"expr,omitempty"`
}

func (m *ColumnMapping) String() string {
	if m.FunctionName == "" {
		return m.Expr
	}
	var b bytes.Buffer
	b.WriteString(m.FunctionName)
	b.WriteByte('(')
	for i, a := range m.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a)
	}
	b.WriteByte(')')
	return b.String()
}

type FileGroup struct {
	SourceType      string                    `json:"source_type"`
	FilePaths       []string                  `json:"file_paths"`
	FileFieldNames  []string                  `json:"file_field_names"`
	ColumnsFromPath []string                  `json:"columns_from_path"`
	ColumnSeparator string                    `json:"column_separator"`
	LineDelimiter   string                    `json:"line_delimiter"`
	IsNegative      bool                      `json:"is_negative"`
	FileFormat      string                    `json:"file_format"`
	ColumnMappings  map[string]*ColumnMapping `json:"column_mappings"`
	Where           string                    `json:"where"`
	PartitionIDs    []int64                   `json:"partitions"`
	HiveTableName   string                    `json:"hive_table_name,omitempty"`
}

type Table struct {
	Indexes       []*Index       `json:"indexes"`
	PartitionInfo *PartitionInfo `json:"partition_info"`
	FileGroups    []*FileGroup   `json:"file_groups"`
}

// BaseIndex returns the index flagged as base.
func (t *Table) BaseIndex() *Index {
	for _, idx := range t.Indexes {
		if idx.IsBaseIndex {
			return idx
		}
	}
	return nil
}

type JobProperty struct {
	StrictMode bool   `json:"strict_mode"`
	Timezone   string `json:"time_zone"`
}

type JobConfig struct {
	Tables            map[int64]*Table `json:"tables"`
	OutputPath        string           `json:"output_path"`
	OutputFilePattern string           `json:"output_file_pattern"`
	Label             string           `json:"label"`
	Properties        JobProperty      `json:"properties"`
	ConfigVersion     string           `json:"config_version"`
}

// Marshal serializes the config in its on-disk form.
func (c *JobConfig) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Unmarshal decodes a config keeping numbers as json.Number so partition
// keys are re-typed against the column types.
func Unmarshal(data []byte) (*JobConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg JobConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid job config: %w", err)
	}
	return &cfg, nil
}

// DictionaryColumns returns the bitmap columns of the table base index.
func (t *Table) DictionaryColumns() []string {
	base := t.BaseIndex()
	if base == nil {
		return nil
	}
	var cols []string
	for _, c := range base.Columns {
		if c.ColumnType == "BITMAP" {
			cols = append(cols, c.ColumnName)
		}
	}
	return cols
}

// CheckConfig verifies that at most one table carries dictionary
// columns, the only shape the dictionary build supports.
func CheckConfig(cfg *JobConfig) error {
	var withDict []int64
	for id, t := range cfg.Tables {
		if len(t.DictionaryColumns()) > 0 {
			withDict = append(withDict, id)
		}
	}
	sort.Slice(withDict, func(i, j int) bool { return withDict[i] < withDict[j] })
	if len(withDict) > 1 {
		return loaderror.Newf(loaderror.LOAD_VALIDATION,
			"bitmap dictionary columns are supported in one table per load, found tables %v", withDict)
	}
	if len(withDict) == 1 && len(cfg.Tables) != 1 {
		return loaderror.Newf(loaderror.LOAD_VALIDATION,
			"table %d with bitmap dictionary columns must be the only table of the load", withDict[0])
	}
	return nil
}

// DictionaryTable returns the id of the table needing a dictionary.
func DictionaryTable(cfg *JobConfig) (int64, bool) {
	for id, t := range cfg.Tables {
		if len(t.DictionaryColumns()) > 0 {
			return id, true
		}
	}
	return 0, false
}

// OutputFileName renders the output file name of one tablet.
func (c *JobConfig) OutputFileName(tableID, partitionID, indexID int64, bucket int, schemaHash int32) string {
	return fmt.Sprintf(c.OutputFilePattern, tableID, partitionID, indexID, bucket, schemaHash)
}

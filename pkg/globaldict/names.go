package globaldict

import (
	"fmt"
	"path"
	"strings"
)

func GlobalDictTableName(tableID int64) string {
	return fmt.Sprintf("global_dict_table_%d", tableID)
}

func DistinctKeyTableName(tableID int64, taskID string) string {
	return fmt.Sprintf("distinct_key_table_%d_%s", tableID, taskID)
}

func IntermediateTableName(tableID int64, taskID string) string {
	return fmt.Sprintf("intermediate_table_%d_%s", tableID, taskID)
}

// TaskID is the last component of an attempt output path.
func TaskID(outputPath string) string {
	return path.Base(strings.TrimRight(outputPath, "/"))
}

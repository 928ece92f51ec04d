package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pg-sharding/bulkload/pkg"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the bulkload version",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bulkload " + pkg.BulkloadVersionRevision)
	},
}

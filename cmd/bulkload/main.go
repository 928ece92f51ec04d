package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pg-sharding/bulkload/pkg/config"
	"github.com/pg-sharding/bulkload/pkg/engine/local"
	"github.com/pg-sharding/bulkload/pkg/etljob"
	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadjob"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/pending"
	"github.com/pg-sharding/bulkload/pkg/statistics"
	"github.com/pg-sharding/bulkload/pkg/storage"
	"github.com/pg-sharding/bulkload/qdb"
)

var (
	cfgPath     string
	catalogPath string
	loadPath    string
)

var rootCmd = &cobra.Command{
	Use:   "bulkload [command] --config `path-to-config`",
	Short: "bulkload",
	Long:  "Bulk load job compiler and standalone engine",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var dump string
		if cfgPath == "" {
			*config.BulkloadConfig() = config.Default()
		} else {
			var err error
			if dump, err = config.LoadBulkloadCfg(cfgPath); err != nil {
				return err
			}
		}
		cfg := config.BulkloadConfig()
		loadlog.ReloadLogger(cfg.LogFile, cfg.LogLevel, cfg.PrettyLogging)
		if dump != "" {
			loadlog.Zero.Debug().Str("config", dump).Msg("bulkload: config loaded")
		}
		return nil
	},
}

// setup opens the catalog and the storage named by the config and
// imports the catalog file when one is given.
func setup(ctx context.Context) (qdb.QDB, *storage.Store, error) {
	cfg := config.BulkloadConfig()
	db, err := qdb.NewQDB(cfg.QdbType, cfg.QdbAddr, cfg.QdbBackupPath)
	if err != nil {
		return nil, nil, err
	}
	if catalogPath != "" {
		if err := importCatalog(ctx, db, catalogPath); err != nil {
			return nil, nil, err
		}
	}
	store, err := storage.Open(ctx, cfg.StorageURL)
	if err != nil {
		return nil, nil, err
	}
	return db, store, nil
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "run a load through the standalone engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		desc, err := readLoadDesc(loadPath)
		if err != nil {
			return err
		}
		db, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		cfg := config.BulkloadConfig()
		eng := local.New(store, cfg.Engine)
		defer eng.Close()

		txns := pending.NewMemTxns()
		txns.Begin(desc.TransactionID)

		c := loadjob.NewController(db, eng, store, txns, cfg)
		job, err := c.Create(ctx, desc.DbID, desc.Label, desc.TransactionID)
		if err != nil {
			return err
		}
		runErr := c.Run(ctx, job, desc.FileGroups)
		statistics.LogStages()

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return runErr
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "print the job config of a load without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		desc, err := readLoadDesc(loadPath)
		if err != nil {
			return err
		}
		db, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		cfg := config.BulkloadConfig()
		task := pending.NewTask(&pending.Params{
			DbID:          desc.DbID,
			Label:         desc.Label,
			TransactionID: desc.TransactionID,
			EtlRoot:       cfg.EtlRoot,
			StrictMode:    cfg.StrictMode,
			Timezone:      cfg.Timezone,
			FileGroups:    desc.FileGroups,
		}, db, nil, store)
		if err := task.Init(ctx); err != nil {
			return err
		}
		out, err := task.Config().Marshal()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var etlCmd = &cobra.Command{
	Use:   "etl [jobconfig.json]",
	Short: "run one job config, the engine side of a load",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file := jobspec.ConfigFileName
		if len(args) == 1 {
			file = args[0]
		}
		cfg := config.BulkloadConfig()
		store, err := storage.Open(ctx, cfg.StorageURL)
		if err != nil {
			return err
		}
		defer store.Close()

		jobCfg, err := etljob.LoadConfig(ctx, store, etljob.ResolveConfigPath(os.Getenv, file))
		if err != nil {
			return err
		}
		job, err := etljob.New(jobCfg, store, cfg.Engine)
		if err != nil {
			return err
		}
		res, err := job.Run(ctx)
		if err != nil {
			return err
		}
		statistics.LogStages()

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	for _, cmd := range []*cobra.Command{loadCmd, compileCmd} {
		cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file imported before the load")
		cmd.Flags().StringVarP(&loadPath, "load", "l", "load.yaml", "load description file")
	}
	rootCmd.AddCommand(loadCmd, compileCmd, etlCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		loadlog.Zero.Error().Err(err).Msg("bulkload: failed")
		cancel()
		os.Exit(1)
	}
}

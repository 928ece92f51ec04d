package etljob

import (
	"context"
	"io"
	"strings"

	"github.com/pg-sharding/bulkload/pkg/jobspec"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/storage"
)

// StagingDirEnv is set when the job runs inside a managed cluster.
const StagingDirEnv = "SPARK_YARN_STAGING_DIR"

// ResolveConfigPath returns where the job config is read from: the
// staging directory when the environment names one, the locally
// distributed file otherwise.
func ResolveConfigPath(getenv func(string) string, localFile string) string {
	if dir := getenv(StagingDirEnv); dir != "" {
		return strings.TrimRight(dir, "/") + "/" + jobspec.ConfigFileName
	}
	if strings.Contains(localFile, "://") {
		return localFile
	}
	return "file://" + localFile
}

// LoadConfig reads and decodes the job config at configPath.
func LoadConfig(ctx context.Context, store *storage.Store, configPath string) (*jobspec.JobConfig, error) {
	r, err := store.NewURLReader(ctx, configPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_UNEXPECTED, "read job config %s: %w", configPath, err)
	}
	cfg, err := jobspec.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	loadlog.Zero.Info().
		Str("path", configPath).
		Str("label", cfg.Label).
		Msg("etl: job config loaded")
	return cfg, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

const (
	DefaultSubmitRetries = 3
	DefaultRetryBackoff  = time.Second
	DefaultPollInterval  = 5 * time.Second
	DefaultEtlRoot       = "/bulkload/etl"
	DefaultStorageURL    = "mem://"
	DefaultTimezone      = "Asia/Shanghai"
)

var cfgBulkload Bulkload

type Engine struct {
	// Shards is the number of intermediate table shards staged rows are spread over.
	Shards int `json:"shards" toml:"shards" yaml:"shards"`
	// Reducers is the number of buckets distinct values are merged in.
	Reducers          int    `json:"reducers" toml:"reducers" yaml:"reducers"`
	Workers           int    `json:"workers" toml:"workers" yaml:"workers"`
	HashFunction      string `json:"hash_function" toml:"hash_function" yaml:"hash_function"`
	SpillIntermediate bool   `json:"spill_intermediate" toml:"spill_intermediate" yaml:"spill_intermediate"`
	SourceDSN         string `json:"source_dsn" toml:"source_dsn" yaml:"source_dsn"`
}

type Bulkload struct {
	LogLevel      string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFile       string `json:"log_file" toml:"log_file" yaml:"log_file"`
	PrettyLogging bool   `json:"pretty_logging" toml:"pretty_logging" yaml:"pretty_logging"`

	QdbType       string `json:"qdb_type" toml:"qdb_type" yaml:"qdb_type"`
	QdbAddr       string `json:"qdb_addr" toml:"qdb_addr" yaml:"qdb_addr"`
	QdbBackupPath string `json:"qdb_backup_path" toml:"qdb_backup_path" yaml:"qdb_backup_path"`

	EtlRoot    string `json:"etl_root" toml:"etl_root" yaml:"etl_root"`
	StorageURL string `json:"storage_url" toml:"storage_url" yaml:"storage_url"`

	SubmitRetries int           `json:"submit_retries" toml:"submit_retries" yaml:"submit_retries"`
	RetryBackoff  time.Duration `json:"retry_backoff" toml:"retry_backoff" yaml:"retry_backoff"`
	PollInterval  time.Duration `json:"poll_interval" toml:"poll_interval" yaml:"poll_interval"`

	StrictMode bool   `json:"strict_mode" toml:"strict_mode" yaml:"strict_mode"`
	Timezone   string `json:"timezone" toml:"timezone" yaml:"timezone"`

	Engine Engine `json:"engine" toml:"engine" yaml:"engine"`
}

// LoadBulkloadCfg loads the configuration from the specified file path.
//
// Parameters:
//   - cfgPath (string): The path of the configuration file.
//
// Returns:
//   - string: JSON-formatted config
//   - error: An error if any occurred during the loading process.
func LoadBulkloadCfg(cfgPath string) (string, error) {
	var cfg Bulkload
	file, err := os.Open(cfgPath)
	if err != nil {
		cfgBulkload = cfg
		return "", err
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			log.Fatalf("failed to close config file: %v", err)
		}
	}(file)

	if err := initConfig(file, &cfg); err != nil {
		cfgBulkload = Bulkload{}
		return "", err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		cfgBulkload = Bulkload{}
		return "", err
	}
	cfgBulkload = cfg

	configBytes, err := json.MarshalIndent(&cfgBulkload, "", "  ")
	if err != nil {
		return "", err
	}

	return string(configBytes), nil
}

// BulkloadConfig returns a pointer to the loaded configuration.
func BulkloadConfig() *Bulkload {
	return &cfgBulkload
}

// Default returns a configuration with every default applied,
// used when no config file is given.
func Default() Bulkload {
	var cfg Bulkload
	cfg.applyDefaults()
	return cfg
}

func (c *Bulkload) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.QdbType == "" {
		c.QdbType = "mem"
	}
	if c.EtlRoot == "" {
		c.EtlRoot = DefaultEtlRoot
	}
	if c.StorageURL == "" {
		c.StorageURL = DefaultStorageURL
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = DefaultSubmitRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Engine.Shards <= 0 {
		c.Engine.Shards = 4
	}
	if c.Engine.Reducers <= 0 {
		c.Engine.Reducers = c.Engine.Shards
	}
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = c.Engine.Shards
	}
	if c.Engine.HashFunction == "" {
		c.Engine.HashFunction = "murmur"
	}
}

func (c *Bulkload) validate() error {
	switch c.QdbType {
	case "mem", "etcd":
	default:
		return fmt.Errorf("qdb implementation %s is invalid", c.QdbType)
	}
	if c.QdbType == "etcd" && c.QdbAddr == "" {
		return fmt.Errorf("qdb_addr is required for etcd qdb")
	}
	return nil
}

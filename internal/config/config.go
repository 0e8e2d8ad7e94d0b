// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for ledgersync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Remote document store backends.
const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Local   LocalConfig   `toml:"local" json:"local"`
	Remote  RemoteConfig  `toml:"remote" json:"remote"`
	Sync    SyncConfig    `toml:"sync" json:"sync"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// LocalConfig locates the on-device ledger database.
type LocalConfig struct {
	DBPath string `toml:"db_path" json:"db_path"`
}

// RemoteConfig selects and addresses the remote document store. Endpoint
// and token_file apply to the http backend, postgres_dsn to postgres.
type RemoteConfig struct {
	Backend        string `toml:"backend" json:"backend"`
	Endpoint       string `toml:"endpoint" json:"endpoint"`
	TokenFile      string `toml:"token_file" json:"token_file"`
	RequestTimeout string `toml:"request_timeout" json:"request_timeout"`
	PostgresDSN    string `toml:"postgres_dsn" json:"postgres_dsn"`
}

// SyncConfig controls the sync coordinator: which tenants to sync, how
// often in watch mode, and how wide each commit and fan-out may be.
type SyncConfig struct {
	Tenants           []string `toml:"tenants" json:"tenants"`
	PollInterval      string   `toml:"poll_interval" json:"poll_interval"`
	BatchSize         int      `toml:"batch_size" json:"batch_size"`
	ParallelTenants   int      `toml:"parallel_tenants" json:"parallel_tenants"`
	WatchLocalChanges bool     `toml:"watch_local_changes" json:"watch_local_changes"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level" json:"log_level"`
	LogFile          string `toml:"log_file" json:"log_file"`
	LogFormat        string `toml:"log_format" json:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days" json:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string   // --config flag (empty = use default)
	Tenants    []string // --tenant flags (empty = use config)
	DBPath     *string  // --db flag
}

// PollIntervalDuration returns the parsed poll interval. Validate has
// already rejected unparsable values; the default applies if it was not run.
func (s *SyncConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		d, _ = time.ParseDuration(defaultPollInterval)
	}

	return d
}

// RequestTimeoutDuration returns the parsed per-request HTTP timeout.
func (r *RemoteConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.RequestTimeout)
	if err != nil {
		d, _ = time.ParseDuration(defaultRequestTimeout)
	}

	return d
}

package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultBackend          = BackendHTTP
	defaultRequestTimeout   = "30s"
	defaultPollInterval     = "5m"
	defaultBatchSize        = 500
	defaultParallelTenants  = 4
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	dbFileName              = "ledger.db"
	tokenFileName           = "token.json"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Local:   defaultLocalConfig(),
		Remote:  defaultRemoteConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultLocalConfig() LocalConfig {
	return LocalConfig{DBPath: DefaultDBPath()}
}

func defaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Backend:        defaultBackend,
		TokenFile:      DefaultTokenPath(),
		RequestTimeout: defaultRequestTimeout,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollInterval:      defaultPollInterval,
		BatchSize:         defaultBatchSize,
		ParallelTenants:   defaultParallelTenants,
		WatchLocalChanges: true,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minBatchSize       = 1
	maxBatchSize       = 500
	minParallelTenants = 1
	maxParallelTenants = 64
	minLogRetention    = 1
	minPollInterval    = 10 * time.Second
	minRequestTimeout  = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after every
// override layer has been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.Local.DBPath == "" {
		errs = append(errs, errors.New("db_path: must not be empty"))
	} else if !filepath.IsAbs(r.Local.DBPath) {
		errs = append(errs, fmt.Errorf("db_path: must be absolute after expansion, got %q", r.Local.DBPath))
	}

	if r.Logging.LogFile != "" && !filepath.IsAbs(r.Logging.LogFile) {
		errs = append(errs, fmt.Errorf("log_file: must be absolute after expansion, got %q", r.Logging.LogFile))
	}

	return errors.Join(errs...)
}

// ValidateRemoteAccess checks that the selected backend can be reached
// with the resolved settings. Only commands that talk to the remote store
// call it.
func ValidateRemoteAccess(r *Resolved) error {
	switch r.Remote.Backend {
	case BackendHTTP:
		if r.Remote.Endpoint == "" {
			return errors.New("endpoint: required for the http backend")
		}

		if r.Token == "" && r.Remote.TokenFile == "" {
			return fmt.Errorf("token_file: required for the http backend unless %s is set", EnvToken)
		}
	case BackendPostgres:
		if r.Remote.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn: required for the postgres backend (or set %s)", EnvPostgresDSN)
		}
	}

	return nil
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.Backend != BackendHTTP && r.Backend != BackendPostgres {
		errs = append(errs, fmt.Errorf("backend: must be one of %s, %s; got %q", BackendHTTP, BackendPostgres, r.Backend))
	}

	if r.Endpoint != "" {
		u, err := url.Parse(r.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint: must be an http(s) URL, got %q", r.Endpoint))
		}
	}

	errs = append(errs, validateDurationMin("request_timeout", r.RequestTimeout, minRequestTimeout)...)

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	for _, t := range s.Tenants {
		if strings.TrimSpace(t) == "" || strings.Contains(t, "/") {
			errs = append(errs, fmt.Errorf("tenants: invalid tenant id %q", t))
		}
	}

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if s.ParallelTenants < minParallelTenants || s.ParallelTenants > maxParallelTenants {
		errs = append(errs, fmt.Errorf("parallel_tenants: must be between %d and %d, got %d",
			minParallelTenants, maxParallelTenants, s.ParallelTenants))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

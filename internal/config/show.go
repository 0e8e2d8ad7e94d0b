package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. Secrets
// are never printed, only whether they are set.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	renderLocalSection(ew, &r.Local)
	renderRemoteSection(ew, &r.Remote, r.Token != "")
	renderSyncSection(ew, &r.Sync)
	renderLoggingSection(ew, &r.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderLocalSection(ew *errWriter, l *LocalConfig) {
	ew.printf("[local]\n")
	ew.printf("  db_path = %q\n", l.DBPath)
	ew.printf("\n")
}

func renderRemoteSection(ew *errWriter, r *RemoteConfig, envToken bool) {
	ew.printf("[remote]\n")
	ew.printf("  backend         = %q\n", r.Backend)

	switch r.Backend {
	case BackendPostgres:
		ew.printf("  postgres_dsn    = %s\n", setOrUnset(r.PostgresDSN != ""))
	default:
		ew.printf("  endpoint        = %q\n", r.Endpoint)
		ew.printf("  token_file      = %q\n", r.TokenFile)
		ew.printf("  request_timeout = %q\n", r.RequestTimeout)

		if envToken {
			ew.printf("  # token taken from %s\n", EnvToken)
		}
	}

	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  tenants             = [%s]\n", joinQuoted(s.Tenants))
	ew.printf("  poll_interval       = %q\n", s.PollInterval)
	ew.printf("  batch_size          = %d\n", s.BatchSize)
	ew.printf("  parallel_tenants    = %d\n", s.ParallelTenants)
	ew.printf("  watch_local_changes = %t\n", s.WatchLocalChanges)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
}

func setOrUnset(set bool) string {
	if set {
		return "(set)"
	}

	return "(unset)"
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}

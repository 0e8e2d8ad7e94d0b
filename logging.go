package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/ledgersync/internal/config"
)

// logFileMaxSizeMB is the size at which the log file is rotated.
const logFileMaxSizeMB = 50

// bootstrapLogger is used while the configuration itself is being loaded.
// It only knows the CLI flags: warn by default, debug with --verbose.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the logger for the rest of the command. The config
// log level is the baseline; --verbose and --quiet override it because CLI
// flags always win. When log_file is set, output goes to a rotating file
// and the returned closer must be closed on exit.
func buildLogger(cfg *config.LoggingConfig, flags CLIFlags, stderr *os.File) (*slog.Logger, io.Closer) {
	level := logLevel(cfg.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		w        io.Writer = stderr
		closer   io.Closer
		terminal = isTerminal(stderr)
	)

	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.LogRetentionDays,
			Compress: true,
		}

		w, closer, terminal = lj, lj, false
	}

	return slog.New(newLogHandler(cfg.LogFormat, w, terminal, level)), closer
}

// newLogHandler picks the handler for format. "auto" means text on a
// terminal and JSON everywhere else.
func newLogHandler(format string, w io.Writer, terminal bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		if terminal {
			return slog.NewTextHandler(w, opts)
		}

		return slog.NewJSONHandler(w, opts)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

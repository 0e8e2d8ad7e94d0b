package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "ledgersync"

// Config file name.
const configFileName = "config.toml"

// Suffix of the lock file kept beside each database.
const lockFileSuffix = ".lock"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/ledgersync).
// On macOS, uses ~/Library/Application Support/ledgersync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (the ledger database, the token, the PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/ledgersync).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return joinDir(DefaultConfigDir(), configFileName)
}

// DefaultDBPath returns the default local ledger database path.
func DefaultDBPath() string {
	return joinDir(DefaultDataDir(), dbFileName)
}

// DefaultTokenPath returns the default bearer token file path.
func DefaultTokenPath() string {
	return joinDir(DefaultDataDir(), tokenFileName)
}

// LockFilePath returns the lock file that serializes sync runs against
// dbPath. Each database has its own lock, even when several share a
// directory.
func LockFilePath(dbPath string) string {
	if dbPath == "" {
		return ""
	}

	return dbPath + lockFileSuffix
}

func joinDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

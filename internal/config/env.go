package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig      = "LEDGERSYNC_CONFIG"
	EnvTenants     = "LEDGERSYNC_TENANTS"
	EnvDBPath      = "LEDGERSYNC_DB_PATH"
	EnvToken       = "LEDGERSYNC_TOKEN"
	EnvPostgresDSN = "LEDGERSYNC_POSTGRES_DSN"
)

// DotEnvFile is loaded from the working directory before the environment
// is read. Variables already set in the real environment win.
const DotEnvFile = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string   // LEDGERSYNC_CONFIG: override config file path
	Tenants     []string // LEDGERSYNC_TENANTS: comma-separated tenant ids
	DBPath      string   // LEDGERSYNC_DB_PATH: local database path
	Token       string   // LEDGERSYNC_TOKEN: bearer token, bypasses token_file
	PostgresDSN string   // LEDGERSYNC_POSTGRES_DSN: postgres backend DSN
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string, logger *slog.Logger) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	logger.Debug("loaded environment file", slog.String("path", path))

	return nil
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		Tenants:     splitList(os.Getenv(EnvTenants)),
		DBPath:      os.Getenv(EnvDBPath),
		Token:       os.Getenv(EnvToken),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
	}

	logger.Debug("environment overrides",
		slog.String("config_path", env.ConfigPath),
		slog.Int("tenants", len(env.Tenants)),
		slog.String("db_path", env.DBPath),
		slog.Bool("token_set", env.Token != ""),
		slog.Bool("postgres_dsn_set", env.PostgresDSN != ""),
	)

	return env
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

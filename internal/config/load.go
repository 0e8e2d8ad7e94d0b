package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after every override layer.
type Resolved struct {
	Config

	Path  string // config file consulted; it may not exist
	Token string // bearer token from the environment, if any
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config loaded",
		slog.String("path", path),
		slog.Int("tenants", len(cfg.Sync.Tenants)),
		slog.String("backend", cfg.Remote.Backend),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values, so a first run works with
// environment variables and flags alone.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	if len(env.Tenants) > 0 {
		cfg.Sync.Tenants = env.Tenants
	}

	if env.DBPath != "" {
		cfg.Local.DBPath = env.DBPath
	}

	if env.PostgresDSN != "" {
		cfg.Remote.PostgresDSN = env.PostgresDSN
	}

	if len(cli.Tenants) > 0 {
		cfg.Sync.Tenants = cli.Tenants
	}

	if cli.DBPath != nil {
		cfg.Local.DBPath = *cli.DBPath
	}

	cfg.Sync.Tenants = dedupeTenants(cfg.Sync.Tenants)
	cfg.Local.DBPath = expandTilde(cfg.Local.DBPath)
	cfg.Remote.TokenFile = expandTilde(cfg.Remote.TokenFile)
	cfg.Logging.LogFile = expandTilde(cfg.Logging.LogFile)

	resolved := &Resolved{Config: *cfg, Path: cfgPath, Token: strings.TrimSpace(env.Token)}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// dedupeTenants trims tenant ids and drops blanks and repeats, keeping the
// first occurrence order.
func dedupeTenants(tenants []string) []string {
	seen := make(map[string]bool, len(tenants))

	var out []string

	for _, t := range tenants {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}

		seen[t] = true
		out = append(out, t)
	}

	return out
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

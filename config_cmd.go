package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return showConfig(os.Stdout, cc.Cfg, cc.Flags.JSON)
		},
	}
}

// redactedConfig is the JSON form of the effective configuration with
// secrets replaced by whether they are set.
type redactedConfig struct {
	Path           string               `json:"path"`
	Local          config.LocalConfig   `json:"local"`
	Backend        string               `json:"backend"`
	Endpoint       string               `json:"endpoint,omitempty"`
	TokenFile      string               `json:"token_file,omitempty"`
	RequestTimeout string               `json:"request_timeout"`
	TokenFromEnv   bool                 `json:"token_from_env"`
	PostgresDSNSet bool                 `json:"postgres_dsn_set"`
	Sync           config.SyncConfig    `json:"sync"`
	Logging        config.LoggingConfig `json:"logging"`
}

func showConfig(w io.Writer, cfg *config.Resolved, asJSON bool) error {
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if !asJSON {
		return config.RenderEffective(cfg, w)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(redactedConfig{
		Path:           cfg.Path,
		Local:          cfg.Local,
		Backend:        cfg.Remote.Backend,
		Endpoint:       cfg.Remote.Endpoint,
		TokenFile:      cfg.Remote.TokenFile,
		RequestTimeout: cfg.Remote.RequestTimeout,
		TokenFromEnv:   cfg.Token != "",
		PostgresDSNSet: cfg.Remote.PostgresDSN != "",
		Sync:           cfg.Sync,
		Logging:        cfg.Logging,
	})
}

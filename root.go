package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagTenants    []string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags taken when a command runs.
type CLIFlags struct {
	ConfigPath string
	Tenants    []string
	DBPath     string
	DBPathSet  bool
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs: the flags, the final
// logger, and the resolved configuration.
type CLIContext struct {
	Flags  CLIFlags
	Logger *slog.Logger
	Cfg    *config.Resolved

	logCloser io.Closer
}

type cliContextKey struct{}

// withCLIContext stores cc in ctx.
func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. It panics
// when called outside a command, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("main: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ledgersync",
		Short:   "Offline-first ledger sync client",
		Long:    "Synchronize a local expense and income ledger with a remote document store.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringArrayVar(&flagTenants, "tenant", nil, "tenant to sync (repeatable; overrides config)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "local ledger database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// snapshotFlags copies the persistent flags into a CLIFlags value.
func snapshotFlags(cmd *cobra.Command) CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		Tenants:    flagTenants,
		DBPath:     flagDBPath,
		DBPathSet:  cmd.Flags().Changed("db"),
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the final logger from it.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := snapshotFlags(cmd)
	boot := bootstrapLogger(flags)

	if err := config.LoadDotEnv(config.DotEnvFile, boot); err != nil {
		return nil, fmt.Errorf("loading %s: %w", config.DotEnvFile, err)
	}

	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		Tenants:    flags.Tenants,
	}

	// Only pass --db to the resolver if the user explicitly set it.
	if flags.DBPathSet {
		cli.DBPath = &flags.DBPath
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(boot), cli, boot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer := buildLogger(&resolved.Logging, flags, os.Stderr)

	return &CLIContext{Flags: flags, Logger: logger, Cfg: resolved, logCloser: closer}, nil
}

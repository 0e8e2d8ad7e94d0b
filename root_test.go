package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must
// either set globals AFTER newRootCmd() returns or let Cobra parse flags via
// cmd.SetArgs() + cmd.Execute().

// testLogger returns a debug-level logger for test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"sync", "status", "config"} {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "tenant", "db", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--verbose", "--quiet", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_SyncDirectionExclusive(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"sync", "--upload-only", "--download-only"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestLoadCLIContext_Overrides(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeCLIConfig(t, dir, `
[sync]
tenants = ["from-file"]
batch_size = 100
`)
	dbPath := filepath.Join(dir, "cli.db")

	var captured *CLIContext

	cmd := newRootCmd()
	probe := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			captured = mustCLIContext(cmd.Context())
			return nil
		},
	}
	cmd.AddCommand(probe)
	cmd.SetArgs([]string{"--config", cfgPath, "--db", dbPath, "--tenant", "a", "--tenant", "b", "--verbose", "probe"})

	require.NoError(t, cmd.Execute())
	require.NotNil(t, captured)

	assert.Equal(t, cfgPath, captured.Cfg.Path)
	assert.Equal(t, dbPath, captured.Cfg.Local.DBPath)
	assert.Equal(t, []string{"a", "b"}, captured.Cfg.Sync.Tenants)
	assert.Equal(t, 100, captured.Cfg.Sync.BatchSize)
	assert.True(t, captured.Flags.Verbose)
	assert.True(t, captured.Flags.DBPathSet)
	assert.True(t, captured.Logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestLoadCLIContext_EnvTenants(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeCLIConfig(t, dir, "")
	t.Setenv("LEDGERSYNC_TENANTS", "x,y")

	var captured *CLIContext

	cmd := newRootCmd()
	cmd.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			captured = mustCLIContext(cmd.Context())
			return nil
		},
	})
	cmd.SetArgs([]string{"--config", cfgPath, "probe"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []string{"x", "y"}, captured.Cfg.Sync.Tenants)
	assert.False(t, captured.Flags.DBPathSet)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/localstore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and watermarks per tenant",
		Long: `Display the local sync state of every tenant: how many rows of each kind
exist, how many still need uploading, how many were never uploaded, and the
download watermark. Reads the local database only; the remote store is not
contacted.

Tenants come from --tenant or the config; when neither names any, every
tenant found in the database is shown.`,
		RunE: runStatus,
	}
}

// statusKind is the status of one kind for one tenant.
type statusKind struct {
	Kind          string `json:"kind"`
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	WithoutRemote int    `json:"without_remote"`
	Watermark     int64  `json:"watermark"`
}

// statusTenant groups the kinds of one tenant.
type statusTenant struct {
	Tenant string       `json:"tenant"`
	Kinds  []statusKind `json:"kinds"`
}

// statusReport is the full output of the status command.
type statusReport struct {
	DBPath  string         `json:"db_path"`
	Syncing *lockHolder    `json:"syncing,omitempty"`
	Tenants []statusTenant `json:"tenants"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	db, err := localstore.Open(ctx, cc.Cfg.Local.DBPath, cc.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := buildStatusReport(ctx, db, cc.Cfg.Sync.Tenants)
	if err != nil {
		return err
	}

	holder, err := currentLockHolder(config.LockFilePath(cc.Cfg.Local.DBPath))
	if err != nil {
		cc.Logger.Warn("checking for a running sync", slog.String("error", err.Error()))
	}

	report.Syncing = holder

	if cc.Flags.JSON {
		return printStatusJSON(os.Stdout, report)
	}

	printStatusText(os.Stdout, report)

	return nil
}

// buildStatusReport collects per-kind counts for tenants, or for every
// tenant in the database when tenants is empty.
func buildStatusReport(ctx context.Context, db *localstore.DB, tenants []string) (*statusReport, error) {
	if len(tenants) == 0 {
		found, err := db.Tenants(ctx)
		if err != nil {
			return nil, err
		}

		tenants = found
	}

	report := &statusReport{DBPath: db.Path(), Tenants: make([]statusTenant, 0, len(tenants))}

	for _, tenant := range tenants {
		kinds, err := db.Status(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("status for tenant %s: %w", tenant, err)
		}

		st := statusTenant{Tenant: tenant, Kinds: make([]statusKind, 0, len(kinds))}
		for _, k := range kinds {
			st.Kinds = append(st.Kinds, statusKind{
				Kind:          k.Kind.String(),
				Total:         k.Total,
				Pending:       k.Pending,
				WithoutRemote: k.WithoutRemote,
				Watermark:     k.Watermark,
			})
		}

		report.Tenants = append(report.Tenants, st)
	}

	return report, nil
}

func printStatusJSON(w io.Writer, report *statusReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, report *statusReport) {
	fmt.Fprintf(w, "Database: %s\n", report.DBPath)

	if report.Syncing != nil {
		fmt.Fprintf(w, "Sync: running (%s)\n", report.Syncing)
	} else {
		fmt.Fprintln(w, "Sync: idle")
	}

	if len(report.Tenants) == 0 {
		fmt.Fprintln(w, "\nNo tenants yet. Run 'ledgersync sync --tenant <id>' to get started.")
		return
	}

	for _, t := range report.Tenants {
		fmt.Fprintf(w, "\nTenant %s\n", t.Tenant)

		rows := make([][]string, 0, len(t.Kinds))
		for _, k := range t.Kinds {
			rows = append(rows, []string{
				k.Kind,
				formatCount(k.Total),
				formatCount(k.Pending),
				formatCount(k.WithoutRemote),
				formatWatermark(k.Watermark),
			})
		}

		printTable(w, []string{"KIND", "TOTAL", "PENDING", "NEVER UPLOADED", "WATERMARK"}, rows)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/docstore/pgstore"
	"github.com/tonimelisma/ledgersync/internal/localstore"
	"github.com/tonimelisma/ledgersync/internal/sync"
	"github.com/tonimelisma/ledgersync/internal/tokenfile"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local ledger with the remote store",
		Long: `Run a sync pass for every configured tenant: upload local changes,
then download remote changes, categories and persons before transactions.

By default, sync is bidirectional. Use --download-only or --upload-only for
one-way sync. Use --full to ignore saved watermarks and download everything.
Use --watch to keep syncing until interrupted.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("download-only", false, "only download remote changes")
	cmd.Flags().Bool("upload-only", false, "only upload local changes")
	cmd.Flags().Bool("full", false, "ignore saved watermarks and download every document")
	cmd.Flags().Bool("watch", false, "keep syncing on an interval and after local changes")

	cmd.MarkFlagsMutuallyExclusive("download-only", "upload-only")

	return cmd
}

// syncOptsFromFlags maps the sync command's flags onto coordinator options.
func syncOptsFromFlags(cmd *cobra.Command) sync.RunOpts {
	opts := sync.RunOpts{Mode: sync.SyncBidirectional}

	if downloadOnly, _ := cmd.Flags().GetBool("download-only"); downloadOnly {
		opts.Mode = sync.SyncDownloadOnly
	}

	if uploadOnly, _ := cmd.Flags().GetBool("upload-only"); uploadOnly {
		opts.Mode = sync.SyncUploadOnly
	}

	opts.Initial, _ = cmd.Flags().GetBool("full")

	return opts
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	tenants := cfg.Sync.Tenants
	if len(tenants) == 0 {
		return fmt.Errorf("no tenants configured: pass --tenant or set [sync] tenants in %s", cfg.Path)
	}

	ctx := shutdownContext(cmd.Context(), logger)
	opts := syncOptsFromFlags(cmd)
	watch, _ := cmd.Flags().GetBool("watch")

	mode := lockModeOnce
	if watch {
		mode = lockModeWatch
	}

	lock, err := lockDatabase(config.LockFilePath(cfg.Local.DBPath), mode)
	if err != nil {
		return err
	}
	defer lock.Release()

	remote, closeRemote, err := openRemote(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRemote()

	db, err := localstore.Open(ctx, cfg.Local.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	engines, err := sync.NewLedgerEngines(db, remote, cfg.Sync.BatchSize, logger)
	if err != nil {
		return err
	}

	coord := sync.NewCoordinator(&sync.CoordinatorConfig{
		Engines:         engines,
		ParallelTenants: cfg.Sync.ParallelTenants,
		Logger:          logger,
	})

	if watch {
		watchOpts := sync.WatchOpts{
			RunOpts:      opts,
			PollInterval: cfg.Sync.PollIntervalDuration(),
		}

		if cfg.Sync.WatchLocalChanges {
			watchOpts.WatchDir = filepath.Dir(cfg.Local.DBPath)
		}

		cc.Statusf("Watching %d tenant(s) every %s (Ctrl-C to stop)\n", len(tenants), watchOpts.PollInterval)

		return coord.RunWatch(ctx, tenants, watchOpts)
	}

	reports := coord.RunOnce(ctx, tenants, opts)

	if cc.Flags.JSON {
		if err := printTenantReportsJSON(os.Stdout, reports); err != nil {
			return err
		}
	} else {
		printTenantReports(os.Stderr, reports, cc)
	}

	return tenantReportsError(reports)
}

// openRemote connects to the configured remote document store. The
// returned close function is always safe to call.
func openRemote(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (docstore.Store, func(), error) {
	if err := config.ValidateRemoteAccess(cfg); err != nil {
		return nil, nil, fmt.Errorf("remote store: %w", err)
	}

	switch cfg.Remote.Backend {
	case config.BackendPostgres:
		store, err := pgstore.Open(ctx, cfg.Remote.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { store.Close() }, nil
	default:
		ts, err := tokenfile.Source(cfg.Remote.TokenFile, cfg.Token, cfg.Remote.Endpoint)
		if err != nil {
			return nil, nil, err
		}

		httpClient := &http.Client{Timeout: cfg.Remote.RequestTimeoutDuration()}

		return docstore.NewClient(cfg.Remote.Endpoint, httpClient, ts, logger), func() {}, nil
	}
}

// tenantReportsError summarizes failed tenants into one error. A single
// tenant's error is returned as-is.
func tenantReportsError(reports []*sync.TenantReport) error {
	var errs []error

	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", r.Tenant, r.Err))
		}
	}

	switch {
	case len(errs) == 0:
		return nil
	case len(reports) == 1:
		return reports[0].Err
	default:
		return fmt.Errorf("%d of %d tenants failed: %w", len(errs), len(reports), errors.Join(errs...))
	}
}

// printTenantReports writes a per-tenant, per-kind summary. The tenant
// header is only printed when more than one tenant ran.
func printTenantReports(w io.Writer, reports []*sync.TenantReport, cc *CLIContext) {
	if cc.Flags.Quiet {
		return
	}

	for _, r := range reports {
		if len(reports) > 1 {
			fmt.Fprintf(w, "== %s (%s)\n", r.Tenant, r.Duration.Round(msRound))
		}

		rows := make([][]string, 0, len(r.Kinds))
		for _, k := range r.Kinds {
			rows = append(rows, kindReportRow(k))
		}

		printTable(w, []string{"KIND", "UPLOADED", "DOWNLOADED", "SKIPPED", "FAILED", "STATUS"}, rows)

		if r.Err != nil {
			fmt.Fprintf(w, "error: %v\n", r.Err)
		}
	}
}

func kindReportRow(k *sync.KindReport) []string {
	var uploaded, downloaded, skippedN, failedN int

	if k.Upload != nil {
		uploaded = k.Upload.Uploaded
		skippedN += k.Upload.Skipped
		failedN += k.Upload.Failed
	}

	if k.Download != nil {
		downloaded = k.Download.Applied()
		skippedN += k.Download.Skipped
		failedN += k.Download.Failed
	}

	status := "ok"
	if k.Err != nil {
		status = "error"
	}

	return []string{
		k.Kind.String(),
		formatCount(uploaded),
		formatCount(downloaded),
		formatCount(skippedN),
		formatCount(failedN),
		status,
	}
}

// jsonKindReport is the JSON shape of one kind's result.
type jsonKindReport struct {
	Kind       string `json:"kind"`
	Uploaded   int    `json:"uploaded"`
	Batches    int    `json:"batches"`
	Downloaded int    `json:"downloaded"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Watermark  int64  `json:"watermark,omitempty"`
	Error      string `json:"error,omitempty"`
}

// jsonTenantReport is the JSON shape of one tenant's result.
type jsonTenantReport struct {
	Tenant     string           `json:"tenant"`
	DurationMS int64            `json:"duration_ms"`
	Kinds      []jsonKindReport `json:"kinds"`
	Error      string           `json:"error,omitempty"`
}

func toJSONTenantReport(r *sync.TenantReport) jsonTenantReport {
	out := jsonTenantReport{
		Tenant:     r.Tenant,
		DurationMS: r.Duration.Milliseconds(),
		Kinds:      make([]jsonKindReport, 0, len(r.Kinds)),
	}

	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	for _, k := range r.Kinds {
		jk := jsonKindReport{Kind: k.Kind.String()}

		if k.Upload != nil {
			jk.Uploaded = k.Upload.Uploaded
			jk.Batches = k.Upload.Batches
			jk.Skipped += k.Upload.Skipped
			jk.Failed += k.Upload.Failed
		}

		if k.Download != nil {
			jk.Downloaded = k.Download.Applied()
			jk.Skipped += k.Download.Skipped
			jk.Failed += k.Download.Failed
			jk.Watermark = k.Download.NewWatermark
		}

		if k.Err != nil {
			jk.Error = k.Err.Error()
		}

		out.Kinds = append(out.Kinds, jk)
	}

	return out
}

func printTenantReportsJSON(w io.Writer, reports []*sync.TenantReport) error {
	out := make([]jsonTenantReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, toJSONTenantReport(r))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding sync report: %w", err)
	}

	return nil
}

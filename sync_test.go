package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/docstore/memstore"
	"github.com/tonimelisma/ledgersync/internal/ledger"
	"github.com/tonimelisma/ledgersync/internal/localstore"
	"github.com/tonimelisma/ledgersync/internal/sync"
)

// --- syncOptsFromFlags ---

func TestSyncOptsFromFlags(t *testing.T) {
	tests := []struct {
		args    []string
		mode    sync.SyncMode
		initial bool
	}{
		{nil, sync.SyncBidirectional, false},
		{[]string{"--download-only"}, sync.SyncDownloadOnly, false},
		{[]string{"--upload-only", "--full"}, sync.SyncUploadOnly, true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd := newSyncCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			opts := syncOptsFromFlags(cmd)
			assert.Equal(t, tt.mode, opts.Mode)
			assert.Equal(t, tt.initial, opts.Initial)
		})
	}
}

// --- tenantReportsError ---

func TestTenantReportsError(t *testing.T) {
	t.Parallel()

	errCommit := errors.New("commit failed")
	errAuth := errors.New("unauthorized")

	tests := []struct {
		name    string
		reports []*sync.TenantReport
		wantNil bool
		wantMsg string
	}{
		{name: "zero reports", wantNil: true},
		{name: "one success", reports: []*sync.TenantReport{{Tenant: "a"}}, wantNil: true},
		{name: "one failure", reports: []*sync.TenantReport{{Tenant: "a", Err: errCommit}}, wantMsg: "commit failed"},
		{
			name:    "mixed",
			reports: []*sync.TenantReport{{Tenant: "a"}, {Tenant: "b", Err: errCommit}},
			wantMsg: "1 of 2 tenants failed: tenant b: commit failed",
		},
		{
			name:    "all failures",
			reports: []*sync.TenantReport{{Tenant: "a", Err: errAuth}, {Tenant: "b", Err: errCommit}},
			wantMsg: "2 of 2 tenants failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tenantReportsError(tt.reports)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

// --- report printing ---

func sampleReports() []*sync.TenantReport {
	return []*sync.TenantReport{
		{
			Tenant:   "household-1",
			Duration: 1500 * time.Millisecond,
			Kinds: []*sync.KindReport{
				{
					Kind:     ledger.KindCategory,
					Upload:   &sync.UploadReport{Uploaded: 2, Batches: 1},
					Download: &sync.DownloadReport{Inserted: 1, Updated: 1, NewWatermark: 4000},
				},
				{
					Kind:   ledger.KindExpense,
					Upload: &sync.UploadReport{Uploaded: 1200, Skipped: 3, Batches: 3},
					Err:    errors.New("offline"),
				},
			},
			Err: errors.New("offline"),
		},
		{Tenant: "household-2"},
	}
}

func TestPrintTenantReports(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	printTenantReports(&buf, sampleReports(), &CLIContext{})

	out := buf.String()
	assert.Contains(t, out, "== household-1 (1.5s)")
	assert.Contains(t, out, "== household-2")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "error: offline")
}

func TestPrintTenantReports_Quiet(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	printTenantReports(&buf, sampleReports(), &CLIContext{Flags: CLIFlags{Quiet: true}})
	assert.Empty(t, buf.String())
}

func TestPrintTenantReportsJSON(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	require.NoError(t, printTenantReportsJSON(&buf, sampleReports()))

	var got []jsonTenantReport
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "household-1", got[0].Tenant)
	assert.Equal(t, int64(1500), got[0].DurationMS)
	assert.Equal(t, "offline", got[0].Error)
	require.Len(t, got[0].Kinds, 2)
	assert.Equal(t, jsonKindReport{Kind: "category", Uploaded: 2, Batches: 1, Downloaded: 2, Watermark: 4000}, got[0].Kinds[0])
	assert.Equal(t, 3, got[0].Kinds[1].Skipped)
	assert.Empty(t, got[1].Error)
}

// --- end to end ---

// newDocServer serves the document store HTTP API from an in-memory store.
func newDocServer(t *testing.T, token string) (*httptest.Server, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	mux := http.NewServeMux()

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return false
		}

		return true
	}

	mux.HandleFunc("POST /v1/commit", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}

		var req struct {
			Writes []struct {
				Tenant     string          `json:"tenant"`
				Collection string          `json:"collection"`
				ID         string          `json:"id"`
				UpdatedAt  int64           `json:"updatedAt"`
				Fields     json.RawMessage `json:"fields"`
			} `json:"writes"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		batch := &docstore.Batch{}
		for _, wr := range req.Writes {
			path := docstore.CollectionPath{Tenant: wr.Tenant, Collection: wr.Collection}
			if err := batch.Set(path, wr.ID, time.UnixMilli(wr.UpdatedAt), wr.Fields); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if err := store.Commit(r.Context(), batch); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "{}")
	})

	mux.HandleFunc("GET /v1/tenants/{tenant}/{collection}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}

		since, err := strconv.ParseInt(r.URL.Query().Get("updatedAfter"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		path := docstore.CollectionPath{Tenant: r.PathValue("tenant"), Collection: r.PathValue("collection")}

		docs, err := store.QuerySince(r.Context(), path, time.UnixMilli(since))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type wireDoc struct {
			ID        string          `json:"id"`
			UpdatedAt int64           `json:"updatedAt"`
			Fields    json.RawMessage `json:"fields"`
		}

		out := struct {
			Documents []wireDoc `json:"documents"`
		}{Documents: make([]wireDoc, 0, len(docs))}

		for _, d := range docs {
			out.Documents = append(out.Documents, wireDoc{ID: d.ID, UpdatedAt: d.UpdatedAt.UnixMilli(), Fields: d.Fields})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, store
}

// isolateEnv clears every override variable and points XDG directories at
// a temp dir so tests never see the developer's configuration.
func isolateEnv(t *testing.T) string {
	t.Helper()

	for _, k := range []string{config.EnvConfig, config.EnvTenants, config.EnvDBPath, config.EnvToken, config.EnvPostgresDSN} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	return dir
}

func writeCLIConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func executeRoot(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())

	return cmd.Execute()
}

func seedLedger(t *testing.T, dbPath, tenant string) {
	t.Helper()

	ctx := context.Background()

	db, err := localstore.Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	catID, err := db.Categories().Insert(ctx, ledger.NewCategory(tenant, "Groceries", true, 1000))
	require.NoError(t, err)

	expenses, err := db.Transactions(ledger.KindExpense)
	require.NoError(t, err)

	_, err = expenses.Insert(ctx, ledger.NewTransaction(ledger.KindExpense, tenant, catID, decimal.RequireFromString("42.50"), 2000))
	require.NoError(t, err)
}

func TestRunSync_NoTenants(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeCLIConfig(t, dir, "")

	err := executeRoot(t, "--config", cfgPath, "--db", filepath.Join(dir, "ledger.db"), "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tenants configured")
}

func TestRunSync_MissingEndpoint(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeCLIConfig(t, dir, "")

	err := executeRoot(t, "--config", cfgPath, "--db", filepath.Join(dir, "ledger.db"), "--tenant", "t1", "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint: required")
}

func TestRunSync_UnknownConfigKey(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeCLIConfig(t, dir, "[sync]\ntenant = [\"t1\"]\n")

	err := executeRoot(t, "--config", cfgPath, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "tenants"?`)
}

func TestRunSync_EndToEnd(t *testing.T) {
	const (
		token  = "t0ken"
		tenant = "household-1"
	)

	dir := isolateEnv(t)
	srv, remote := newDocServer(t, token)

	dbA := filepath.Join(dir, "a", "ledger.db")
	dbB := filepath.Join(dir, "b", "ledger.db")
	seedLedger(t, dbA, tenant)

	cfgPath := writeCLIConfig(t, dir, fmt.Sprintf(`
[remote]
endpoint = %q

[sync]
tenants = [%q]
`, srv.URL, tenant))

	t.Setenv(config.EnvToken, token)

	// Device A uploads.
	require.NoError(t, executeRoot(t, "--config", cfgPath, "--db", dbA, "--quiet", "sync", "--upload-only"))

	assert.Equal(t, 1, remote.Count(docstore.PathFor(tenant, ledger.KindCategory)))
	assert.Equal(t, 1, remote.Count(docstore.PathFor(tenant, ledger.KindExpense)))

	// Device B downloads everything.
	require.NoError(t, executeRoot(t, "--config", cfgPath, "--db", dbB, "--quiet", "sync"))

	ctx := context.Background()

	db, err := localstore.Open(ctx, dbB, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	report, err := buildStatusReport(ctx, db, nil)
	require.NoError(t, err)
	require.Len(t, report.Tenants, 1)

	byKind := map[string]statusKind{}
	for _, k := range report.Tenants[0].Kinds {
		byKind[k.Kind] = k
	}

	assert.Equal(t, 1, byKind["category"].Total)
	assert.Equal(t, 1, byKind["expense"].Total)
	assert.Zero(t, byKind["expense"].Pending)
	assert.Positive(t, byKind["expense"].Watermark)
}

func TestRunSync_WrongTokenFails(t *testing.T) {
	dir := isolateEnv(t)
	srv, _ := newDocServer(t, "right")

	dbPath := filepath.Join(dir, "ledger.db")
	seedLedger(t, dbPath, "t1")

	cfgPath := writeCLIConfig(t, dir, fmt.Sprintf("[remote]\nendpoint = %q\n", srv.URL))
	t.Setenv(config.EnvToken, "wrong")

	err := executeRoot(t, "--config", cfgPath, "--db", dbPath, "--tenant", "t1", "--quiet", "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrUnauthorized)
}

func TestRunSync_RefusesWhileAnotherSyncHoldsTheDatabase(t *testing.T) {
	const tenant = "household-1"

	dir := isolateEnv(t)
	srv, remote := newDocServer(t, "t0ken")

	dbPath := filepath.Join(dir, "ledger.db")
	seedLedger(t, dbPath, tenant)

	cfgPath := writeCLIConfig(t, dir, fmt.Sprintf("[remote]\nendpoint = %q\n", srv.URL))
	t.Setenv(config.EnvToken, "t0ken")

	// A running daemon holds the database.
	daemon, err := lockDatabase(config.LockFilePath(dbPath), lockModeWatch)
	require.NoError(t, err)

	err = executeRoot(t, "--config", cfgPath, "--db", dbPath, "--tenant", tenant, "--quiet", "sync")
	require.ErrorIs(t, err, errDatabaseBusy)
	assert.Contains(t, err.Error(), "PID "+strconv.Itoa(os.Getpid()))
	assert.Empty(t, remote.Commits(), "nothing was synced")

	daemon.Release()

	require.NoError(t, executeRoot(t, "--config", cfgPath, "--db", dbPath, "--tenant", tenant, "--quiet", "sync"))
	assert.Equal(t, 1, remote.Count(docstore.PathFor(tenant, ledger.KindExpense)))

	_, statErr := os.Stat(config.LockFilePath(dbPath))
	assert.True(t, os.IsNotExist(statErr), "the lock is released when sync returns")
}

func TestNewSyncCmd_Flags(t *testing.T) {
	cmd := newSyncCmd()

	for _, name := range []string{"download-only", "upload-only", "full", "watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

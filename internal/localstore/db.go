// Package localstore persists the local ledger (categories, persons,
// expenses, incomes) and per-tenant download watermarks in SQLite.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// dbDirPerms is used when creating the database directory.
const dbDirPerms = 0o700

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("localstore: not found")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the SQLite connection and hands out per-table stores.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. WAL mode with synchronous=FULL keeps commits crash-safe.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dbDirPerms); err != nil {
		return nil, fmt.Errorf("localstore: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: opening database %s: %w", path, err)
	}

	// Single writer: SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("local store opened", slog.String("db_path", path))

	return &DB{db: db, path: path, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("localstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("localstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("localstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Categories returns the category table store.
func (d *DB) Categories() *CategoryStore {
	return &CategoryStore{db: d.db}
}

// Persons returns the person table store.
func (d *DB) Persons() *PersonStore {
	return &PersonStore{db: d.db}
}

// Transactions returns the store for expenses or incomes.
func (d *DB) Transactions(kind ledger.Kind) (*TransactionStore, error) {
	if !kind.IsTransaction() {
		return nil, fmt.Errorf("localstore: %s is not a transaction kind", kind)
	}

	return &TransactionStore{db: d.db, kind: kind}, nil
}

// Watermarks returns the download watermark store.
func (d *DB) Watermarks() *WatermarkStore {
	return &WatermarkStore{db: d.db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// markSynced applies sync marks to table in one transaction. A row edited
// after the uploaded version (updated_at moved past mark.UpdatedAt) keeps
// needs_sync so the newer edit is uploaded next pass.
func markSynced(ctx context.Context, db *sql.DB, table string, marks []ledger.SyncMark) error {
	if len(marks) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: beginning mark transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	//nolint:gosec // table is one of our constant table names
	stmt := `UPDATE ` + table + ` SET
		remote_id = ?,
		last_synced_at = ?,
		is_synced = CASE WHEN updated_at <= ? THEN 1 ELSE 0 END,
		needs_sync = CASE WHEN updated_at <= ? THEN 0 ELSE 1 END
		WHERE id = ?`

	for _, m := range marks {
		if _, err := tx.ExecContext(ctx, stmt, m.RemoteID, m.SyncedAt, m.UpdatedAt, m.UpdatedAt, m.ID); err != nil {
			return fmt.Errorf("localstore: marking %s row %d synced: %w", table, m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: committing sync marks: %w", err)
	}

	return nil
}

// updateSyncStatus sets the sync columns of a single row.
func updateSyncStatus(
	ctx context.Context, db *sql.DB, table string, id int64, remoteID string, isSynced bool, lastSyncedAt int64,
) error {
	//nolint:gosec // table is one of our constant table names
	stmt := `UPDATE ` + table + ` SET remote_id = ?, is_synced = ?, needs_sync = ?, last_synced_at = ? WHERE id = ?`

	res, err := db.ExecContext(ctx, stmt, nullString(remoteID), isSynced, !isSynced, nullInt64(lastSyncedAt), id)
	if err != nil {
		return fmt.Errorf("localstore: updating sync status of %s row %d: %w", table, id, err)
	}

	return requireOneRow(res, table, id)
}

func requireOneRow(res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("localstore: checking %s row %d: %w", table, id, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s row %d", ErrNotFound, table, id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: n, Valid: true}
}

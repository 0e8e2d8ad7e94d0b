// Package pgstore implements docstore.Store on PostgreSQL. All tenants share
// one documents table keyed by (tenant_id, collection, id); each batch
// commits in a single transaction.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tonimelisma/ledgersync/internal/docstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlNewID = `SELECT gen_random_uuid()::text`

	sqlUpsertDocument = `INSERT INTO documents (tenant_id, collection, id, updated_at, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, collection, id) DO UPDATE SET
		 updated_at = EXCLUDED.updated_at,
		 fields = EXCLUDED.fields`

	sqlQuerySince = `SELECT id, updated_at, fields FROM documents
		WHERE tenant_id = $1 AND collection = $2 AND updated_at > $3
		ORDER BY updated_at, id`
)

// Store is a PostgreSQL-backed document store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// Open connects to dsn, applies pending migrations, and returns a Store.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: connecting: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, logger), nil
}

// New wraps an already-migrated database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{db: db, logger: logger}
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, subFS)
	if err != nil {
		return fmt.Errorf("pgstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// NewDocumentID asks the server for a random UUID.
func (s *Store) NewDocumentID(ctx context.Context, path docstore.CollectionPath) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}

	var id string
	if err := s.db.QueryRowContext(ctx, sqlNewID).Scan(&id); err != nil {
		return "", fmt.Errorf("pgstore: generating document id: %w", err)
	}

	return id, nil
}

// Commit upserts every write in one transaction.
func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if err := docstore.CheckBatch(batch); err != nil {
		return err
	}

	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, w := range batch.Writes() {
		if _, err := tx.ExecContext(ctx, sqlUpsertDocument,
			w.Path.Tenant, w.Path.Collection, w.ID, w.UpdatedAt.UTC(), []byte(w.Fields),
		); err != nil {
			return fmt.Errorf("pgstore: writing %s/%s: %w", w.Path, w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: committing %d writes: %w", batch.Len(), err)
	}

	s.logger.Debug("batch committed", slog.Int("writes", batch.Len()))

	return nil
}

// QuerySince returns documents of path updated after since, oldest first.
func (s *Store) QuerySince(ctx context.Context, path docstore.CollectionPath, since time.Time) ([]docstore.Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuerySince, path.Tenant, path.Collection, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("pgstore: querying %s: %w", path, err)
	}
	defer rows.Close()

	var docs []docstore.Document

	for rows.Next() {
		var (
			d      docstore.Document
			fields []byte
		)

		if err := rows.Scan(&d.ID, &d.UpdatedAt, &fields); err != nil {
			return nil, fmt.Errorf("pgstore: scanning %s: %w", path, err)
		}

		d.Fields = fields
		docs = append(docs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterating %s: %w", path, err)
	}

	return docs, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

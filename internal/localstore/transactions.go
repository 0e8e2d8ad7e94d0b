package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

const transactionColumns = `id, kind, local_id, remote_id, tenant_id, category_id, person_id,
	amount, amount_paid, date, description, transaction_type, updated_at, is_synced,
	needs_sync, last_synced_at, is_deleted`

const (
	sqlTransactionUnsynced = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tenant_id = ? AND kind = ?
		 AND (needs_sync = 1 OR remote_id IS NULL OR trim(remote_id) = '')
		ORDER BY updated_at, id`

	sqlTransactionByLocalID = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tenant_id = ? AND kind = ? AND local_id = ?`

	sqlTransactionByID = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND kind = ?`

	sqlInsertTransaction = `INSERT INTO transactions
		(kind, local_id, remote_id, tenant_id, category_id, person_id, amount, amount_paid,
		 date, description, transaction_type, updated_at, is_synced, needs_sync,
		 last_synced_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateTransaction = `UPDATE transactions SET
		local_id = ?, remote_id = ?, tenant_id = ?, category_id = ?, person_id = ?,
		amount = ?, amount_paid = ?, date = ?, description = ?, transaction_type = ?,
		updated_at = ?, is_synced = ?, needs_sync = ?, last_synced_at = ?, is_deleted = ?
		WHERE id = ? AND kind = ?`
)

// TransactionStore reads and writes the expense or income rows of the
// transactions table.
type TransactionStore struct {
	db   *sql.DB
	kind ledger.Kind
}

// Kind returns the transaction kind this store serves.
func (s *TransactionStore) Kind() ledger.Kind {
	return s.kind
}

// Unsynced returns the tenant's records that need uploading.
func (s *TransactionStore) Unsynced(ctx context.Context, tenant string) ([]*ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, sqlTransactionUnsynced, tenant, s.kind.String())
	if err != nil {
		return nil, fmt.Errorf("localstore: querying unsynced %s records: %w", s.kind, err)
	}
	defer rows.Close()

	var out []*ledger.Transaction

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterating %s records: %w", s.kind, err)
	}

	return out, nil
}

// ByLocalID finds the tenant's record with the given natural key.
func (s *TransactionStore) ByLocalID(ctx context.Context, tenant, localID string) (*ledger.Transaction, bool, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, sqlTransactionByLocalID, tenant, s.kind.String(), localID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return t, true, nil
}

// GetByID returns the record with surrogate id.
func (s *TransactionStore) GetByID(ctx context.Context, id int64) (*ledger.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, sqlTransactionByID, id, s.kind.String()))
}

// Insert adds a record and returns its surrogate id.
func (s *TransactionStore) Insert(ctx context.Context, t *ledger.Transaction) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlInsertTransaction,
		s.kind.String(), t.LocalID, nullString(t.RemoteID), t.TenantID, t.CategoryID, nullInt64(t.PersonID),
		t.Amount, t.AmountPaid, t.Date, t.Description, t.TransactionType, t.UpdatedAt,
		t.IsSynced, t.NeedsSync, nullInt64(t.LastSyncedAt), t.IsDeleted,
	)
	if err != nil {
		return 0, fmt.Errorf("localstore: inserting %s %s: %w", s.kind, t.LocalID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("localstore: reading %s id: %w", s.kind, err)
	}

	return id, nil
}

// Update overwrites every column of the record t.ID.
func (s *TransactionStore) Update(ctx context.Context, t *ledger.Transaction) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateTransaction,
		t.LocalID, nullString(t.RemoteID), t.TenantID, t.CategoryID, nullInt64(t.PersonID),
		t.Amount, t.AmountPaid, t.Date, t.Description, t.TransactionType, t.UpdatedAt,
		t.IsSynced, t.NeedsSync, nullInt64(t.LastSyncedAt), t.IsDeleted, t.ID, s.kind.String(),
	)
	if err != nil {
		return fmt.Errorf("localstore: updating %s %d: %w", s.kind, t.ID, err)
	}

	return requireOneRow(res, "transactions", t.ID)
}

// UpdateSyncStatus sets the sync columns of one record.
func (s *TransactionStore) UpdateSyncStatus(ctx context.Context, id int64, remoteID string, isSynced bool, lastSyncedAt int64) error {
	return updateSyncStatus(ctx, s.db, "transactions", id, remoteID, isSynced, lastSyncedAt)
}

// MarkSynced applies upload results in one transaction.
func (s *TransactionStore) MarkSynced(ctx context.Context, marks []ledger.SyncMark) error {
	return markSynced(ctx, s.db, "transactions", marks)
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var (
		t            ledger.Transaction
		kind         string
		remoteID     sql.NullString
		personID     sql.NullInt64
		lastSyncedAt sql.NullInt64
	)

	err := row.Scan(
		&t.ID, &kind, &t.LocalID, &remoteID, &t.TenantID, &t.CategoryID, &personID,
		&t.Amount, &t.AmountPaid, &t.Date, &t.Description, &t.TransactionType, &t.UpdatedAt,
		&t.IsSynced, &t.NeedsSync, &lastSyncedAt, &t.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("localstore: scanning transaction: %w", err)
	}

	k, err := ledger.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("localstore: scanning transaction %d: %w", t.ID, err)
	}

	t.Kind = k
	t.RemoteID = remoteID.String
	t.PersonID = personID.Int64
	t.LastSyncedAt = lastSyncedAt.Int64

	return &t, nil
}

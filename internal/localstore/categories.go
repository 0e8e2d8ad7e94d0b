package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

const categoryColumns = `id, local_id, remote_id, tenant_id, name, color, is_expense_category,
	icon, description, expected_person_type, updated_at, is_synced, needs_sync,
	last_synced_at, is_deleted`

const (
	sqlCategoryUnsynced = `SELECT ` + categoryColumns + ` FROM categories
		WHERE tenant_id = ? AND (needs_sync = 1 OR remote_id IS NULL OR trim(remote_id) = '')
		ORDER BY updated_at, id`

	sqlCategoryByLocalID = `SELECT ` + categoryColumns + ` FROM categories
		WHERE tenant_id = ? AND local_id = ?`

	sqlCategoryByID = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`

	sqlCategoryByIDLive = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ? AND is_deleted = 0`

	sqlCategoryByRemoteID = `SELECT ` + categoryColumns + ` FROM categories
		WHERE remote_id = ? ORDER BY id LIMIT 1`

	sqlInsertCategory = `INSERT INTO categories
		(local_id, remote_id, tenant_id, name, color, is_expense_category, icon,
		 description, expected_person_type, updated_at, is_synced, needs_sync,
		 last_synced_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateCategory = `UPDATE categories SET
		local_id = ?, remote_id = ?, tenant_id = ?, name = ?, color = ?,
		is_expense_category = ?, icon = ?, description = ?, expected_person_type = ?,
		updated_at = ?, is_synced = ?, needs_sync = ?, last_synced_at = ?, is_deleted = ?
		WHERE id = ?`
)

// CategoryStore reads and writes the categories table.
type CategoryStore struct {
	db *sql.DB
}

// Unsynced returns the tenant's categories that need uploading, oldest
// edit first.
func (s *CategoryStore) Unsynced(ctx context.Context, tenant string) ([]*ledger.Category, error) {
	rows, err := s.db.QueryContext(ctx, sqlCategoryUnsynced, tenant)
	if err != nil {
		return nil, fmt.Errorf("localstore: querying unsynced categories: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Category

	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterating categories: %w", err)
	}

	return out, nil
}

// ByLocalID finds the tenant's category with the given natural key.
func (s *CategoryStore) ByLocalID(ctx context.Context, tenant, localID string) (*ledger.Category, bool, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, sqlCategoryByLocalID, tenant, localID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return c, true, nil
}

// GetByID returns a live (not soft-deleted) category.
func (s *CategoryStore) GetByID(ctx context.Context, id int64) (*ledger.Category, error) {
	return scanCategory(s.db.QueryRowContext(ctx, sqlCategoryByIDLive, id))
}

// GetByIDIncludeDeleted returns a category whether or not it is soft-deleted.
func (s *CategoryStore) GetByIDIncludeDeleted(ctx context.Context, id int64) (*ledger.Category, error) {
	return scanCategory(s.db.QueryRowContext(ctx, sqlCategoryByID, id))
}

// GetByRemoteID returns the category holding the remote document id.
func (s *CategoryStore) GetByRemoteID(ctx context.Context, remoteID string) (*ledger.Category, error) {
	return scanCategory(s.db.QueryRowContext(ctx, sqlCategoryByRemoteID, remoteID))
}

// Insert adds a category and returns its surrogate id.
func (s *CategoryStore) Insert(ctx context.Context, c *ledger.Category) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlInsertCategory,
		c.LocalID, nullString(c.RemoteID), c.TenantID, c.Name, c.Color, c.IsExpenseCategory,
		c.Icon, c.Description, c.ExpectedPersonType, c.UpdatedAt, c.IsSynced, c.NeedsSync,
		nullInt64(c.LastSyncedAt), c.IsDeleted,
	)
	if err != nil {
		return 0, fmt.Errorf("localstore: inserting category %s: %w", c.LocalID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("localstore: reading category id: %w", err)
	}

	return id, nil
}

// Update overwrites every column of the category row c.ID.
func (s *CategoryStore) Update(ctx context.Context, c *ledger.Category) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateCategory,
		c.LocalID, nullString(c.RemoteID), c.TenantID, c.Name, c.Color, c.IsExpenseCategory,
		c.Icon, c.Description, c.ExpectedPersonType, c.UpdatedAt, c.IsSynced, c.NeedsSync,
		nullInt64(c.LastSyncedAt), c.IsDeleted, c.ID,
	)
	if err != nil {
		return fmt.Errorf("localstore: updating category %d: %w", c.ID, err)
	}

	return requireOneRow(res, "categories", c.ID)
}

// UpdateSyncStatus sets the sync columns of one category.
func (s *CategoryStore) UpdateSyncStatus(ctx context.Context, id int64, remoteID string, isSynced bool, lastSyncedAt int64) error {
	return updateSyncStatus(ctx, s.db, "categories", id, remoteID, isSynced, lastSyncedAt)
}

// MarkSynced applies upload results in one transaction.
func (s *CategoryStore) MarkSynced(ctx context.Context, marks []ledger.SyncMark) error {
	return markSynced(ctx, s.db, "categories", marks)
}

// RemoteIDOf maps a category surrogate id to its remote id. Soft-deleted
// categories still resolve so records referencing them keep syncing.
func (s *CategoryStore) RemoteIDOf(ctx context.Context, id int64) (string, bool, error) {
	c, err := s.GetByIDIncludeDeleted(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	if !c.HasRemoteID() {
		return "", false, nil
	}

	return c.RemoteID, true, nil
}

// LocalIDOf maps a remote document id to a category surrogate id.
func (s *CategoryStore) LocalIDOf(ctx context.Context, remoteID string) (int64, bool, error) {
	c, err := s.GetByRemoteID(ctx, remoteID)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return c.ID, true, nil
}

func scanCategory(row rowScanner) (*ledger.Category, error) {
	var (
		c            ledger.Category
		remoteID     sql.NullString
		lastSyncedAt sql.NullInt64
	)

	err := row.Scan(
		&c.ID, &c.LocalID, &remoteID, &c.TenantID, &c.Name, &c.Color, &c.IsExpenseCategory,
		&c.Icon, &c.Description, &c.ExpectedPersonType, &c.UpdatedAt, &c.IsSynced, &c.NeedsSync,
		&lastSyncedAt, &c.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("localstore: scanning category: %w", err)
	}

	c.RemoteID = remoteID.String
	c.LastSyncedAt = lastSyncedAt.Int64

	return &c, nil
}

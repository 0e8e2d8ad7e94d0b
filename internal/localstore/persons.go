package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

const personColumns = `id, local_id, remote_id, tenant_id, name, person_type, contact,
	updated_at, is_synced, needs_sync, last_synced_at, is_deleted`

const (
	sqlPersonUnsynced = `SELECT ` + personColumns + ` FROM persons
		WHERE tenant_id = ? AND (needs_sync = 1 OR remote_id IS NULL OR trim(remote_id) = '')
		ORDER BY updated_at, id`

	sqlPersonByLocalID = `SELECT ` + personColumns + ` FROM persons WHERE tenant_id = ? AND local_id = ?`

	sqlPersonByID = `SELECT ` + personColumns + ` FROM persons WHERE id = ?`

	sqlPersonByIDLive = `SELECT ` + personColumns + ` FROM persons WHERE id = ? AND is_deleted = 0`

	sqlPersonByRemoteID = `SELECT ` + personColumns + ` FROM persons WHERE remote_id = ? ORDER BY id LIMIT 1`

	sqlInsertPerson = `INSERT INTO persons
		(local_id, remote_id, tenant_id, name, person_type, contact, updated_at,
		 is_synced, needs_sync, last_synced_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdatePerson = `UPDATE persons SET
		local_id = ?, remote_id = ?, tenant_id = ?, name = ?, person_type = ?, contact = ?,
		updated_at = ?, is_synced = ?, needs_sync = ?, last_synced_at = ?, is_deleted = ?
		WHERE id = ?`
)

// PersonStore reads and writes the persons table.
type PersonStore struct {
	db *sql.DB
}

// Unsynced returns the tenant's persons that need uploading.
func (s *PersonStore) Unsynced(ctx context.Context, tenant string) ([]*ledger.Person, error) {
	rows, err := s.db.QueryContext(ctx, sqlPersonUnsynced, tenant)
	if err != nil {
		return nil, fmt.Errorf("localstore: querying unsynced persons: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Person

	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterating persons: %w", err)
	}

	return out, nil
}

// ByLocalID finds the tenant's person with the given natural key.
func (s *PersonStore) ByLocalID(ctx context.Context, tenant, localID string) (*ledger.Person, bool, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx, sqlPersonByLocalID, tenant, localID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return p, true, nil
}

// GetByID returns a live (not soft-deleted) person.
func (s *PersonStore) GetByID(ctx context.Context, id int64) (*ledger.Person, error) {
	return scanPerson(s.db.QueryRowContext(ctx, sqlPersonByIDLive, id))
}

// GetByRemoteID returns the person holding the remote document id.
func (s *PersonStore) GetByRemoteID(ctx context.Context, remoteID string) (*ledger.Person, error) {
	return scanPerson(s.db.QueryRowContext(ctx, sqlPersonByRemoteID, remoteID))
}

// Insert adds a person and returns its surrogate id.
func (s *PersonStore) Insert(ctx context.Context, p *ledger.Person) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlInsertPerson,
		p.LocalID, nullString(p.RemoteID), p.TenantID, p.Name, p.PersonType, p.Contact,
		p.UpdatedAt, p.IsSynced, p.NeedsSync, nullInt64(p.LastSyncedAt), p.IsDeleted,
	)
	if err != nil {
		return 0, fmt.Errorf("localstore: inserting person %s: %w", p.LocalID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("localstore: reading person id: %w", err)
	}

	return id, nil
}

// Update overwrites every column of the person row p.ID.
func (s *PersonStore) Update(ctx context.Context, p *ledger.Person) error {
	res, err := s.db.ExecContext(ctx, sqlUpdatePerson,
		p.LocalID, nullString(p.RemoteID), p.TenantID, p.Name, p.PersonType, p.Contact,
		p.UpdatedAt, p.IsSynced, p.NeedsSync, nullInt64(p.LastSyncedAt), p.IsDeleted, p.ID,
	)
	if err != nil {
		return fmt.Errorf("localstore: updating person %d: %w", p.ID, err)
	}

	return requireOneRow(res, "persons", p.ID)
}

// UpdateSyncStatus sets the sync columns of one person.
func (s *PersonStore) UpdateSyncStatus(ctx context.Context, id int64, remoteID string, isSynced bool, lastSyncedAt int64) error {
	return updateSyncStatus(ctx, s.db, "persons", id, remoteID, isSynced, lastSyncedAt)
}

// MarkSynced applies upload results in one transaction.
func (s *PersonStore) MarkSynced(ctx context.Context, marks []ledger.SyncMark) error {
	return markSynced(ctx, s.db, "persons", marks)
}

// RemoteIDOf maps a person surrogate id to its remote id, including
// soft-deleted persons.
func (s *PersonStore) RemoteIDOf(ctx context.Context, id int64) (string, bool, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx, sqlPersonByID, id))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	if !p.HasRemoteID() {
		return "", false, nil
	}

	return p.RemoteID, true, nil
}

// LocalIDOf maps a remote document id to a person surrogate id.
func (s *PersonStore) LocalIDOf(ctx context.Context, remoteID string) (int64, bool, error) {
	p, err := s.GetByRemoteID(ctx, remoteID)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return p.ID, true, nil
}

func scanPerson(row rowScanner) (*ledger.Person, error) {
	var (
		p            ledger.Person
		remoteID     sql.NullString
		lastSyncedAt sql.NullInt64
	)

	err := row.Scan(
		&p.ID, &p.LocalID, &remoteID, &p.TenantID, &p.Name, &p.PersonType, &p.Contact,
		&p.UpdatedAt, &p.IsSynced, &p.NeedsSync, &lastSyncedAt, &p.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("localstore: scanning person: %w", err)
	}

	p.RemoteID = remoteID.String
	p.LastSyncedAt = lastSyncedAt.Int64

	return &p, nil
}

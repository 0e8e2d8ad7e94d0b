package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// RefLookup resolves one referenced kind between local surrogate ids and
// remote document ids. Implemented by the category and person stores.
type RefLookup interface {
	RemoteIDOf(ctx context.Context, localID int64) (string, bool, error)
	LocalIDOf(ctx context.Context, remoteID string) (int64, bool, error)
}

// IdentityMapper translates references between local and remote identity
// for the kinds other records point at (categories and persons). A missing
// row, or one whose remote id is blank, is unresolved: ok is false and err
// is nil.
type IdentityMapper struct {
	refs map[ledger.Kind]RefLookup
}

// NewIdentityMapper builds a mapper over the category and person lookups.
func NewIdentityMapper(categories, persons RefLookup) *IdentityMapper {
	return &IdentityMapper{refs: map[ledger.Kind]RefLookup{
		ledger.KindCategory: categories,
		ledger.KindPerson:   persons,
	}}
}

// LocalToRemote returns the remote document id of the local record id.
func (m *IdentityMapper) LocalToRemote(ctx context.Context, kind ledger.Kind, localID int64) (string, bool, error) {
	ref, err := m.lookup(kind)
	if err != nil {
		return "", false, err
	}

	if localID == 0 {
		return "", false, nil
	}

	remoteID, ok, err := ref.RemoteIDOf(ctx, localID)
	if err != nil {
		return "", false, fmt.Errorf("sync: mapping %s %d to remote: %w", kind, localID, err)
	}

	remoteID = strings.TrimSpace(remoteID)
	if !ok || remoteID == "" {
		return "", false, nil
	}

	return remoteID, true, nil
}

// RemoteToLocal returns the local surrogate id of the remote document id.
func (m *IdentityMapper) RemoteToLocal(ctx context.Context, kind ledger.Kind, remoteID string) (int64, bool, error) {
	ref, err := m.lookup(kind)
	if err != nil {
		return 0, false, err
	}

	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return 0, false, nil
	}

	localID, ok, err := ref.LocalIDOf(ctx, remoteID)
	if err != nil {
		return 0, false, fmt.Errorf("sync: mapping %s %s to local: %w", kind, remoteID, err)
	}

	return localID, ok, nil
}

func (m *IdentityMapper) lookup(kind ledger.Kind) (RefLookup, error) {
	ref, ok := m.refs[kind]
	if !ok || ref == nil {
		return nil, fmt.Errorf("sync: no identity mapping for %s", kind)
	}

	return ref, nil
}

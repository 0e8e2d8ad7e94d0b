package localstore

import (
	"context"
	"fmt"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

const statusAggregates = `SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN needs_sync = 1 OR remote_id IS NULL OR trim(remote_id) = '' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN remote_id IS NULL OR trim(remote_id) = '' THEN 1 ELSE 0 END), 0)`

const sqlTenants = `SELECT tenant_id FROM categories
	UNION SELECT tenant_id FROM persons
	UNION SELECT tenant_id FROM transactions
	UNION SELECT tenant_id FROM sync_watermarks
	ORDER BY tenant_id`

// KindStatus summarizes the sync state of one kind for one tenant.
type KindStatus struct {
	Kind          ledger.Kind
	Total         int
	Pending       int // rows that need uploading
	WithoutRemote int // rows never uploaded
	Watermark     int64
}

// Status reports per-kind counts and watermarks for tenant, in dependency
// order.
func (d *DB) Status(ctx context.Context, tenant string) ([]KindStatus, error) {
	out := make([]KindStatus, 0, len(ledger.AllKinds))
	wms := d.Watermarks()

	for _, kind := range ledger.AllKinds {
		st := KindStatus{Kind: kind}

		var (
			query string
			args  []any
		)

		switch kind {
		case ledger.KindCategory:
			query = statusAggregates + ` FROM categories WHERE tenant_id = ?`
			args = []any{tenant}
		case ledger.KindPerson:
			query = statusAggregates + ` FROM persons WHERE tenant_id = ?`
			args = []any{tenant}
		default:
			query = statusAggregates + ` FROM transactions WHERE tenant_id = ? AND kind = ?`
			args = []any{tenant, kind.String()}
		}

		if err := d.db.QueryRowContext(ctx, query, args...).Scan(&st.Total, &st.Pending, &st.WithoutRemote); err != nil {
			return nil, fmt.Errorf("localstore: counting %s rows: %w", kind, err)
		}

		wm, err := wms.Get(ctx, kind, tenant)
		if err != nil {
			return nil, err
		}

		st.Watermark = wm
		out = append(out, st)
	}

	return out, nil
}

// Tenants lists every tenant with local data or a saved watermark.
func (d *DB) Tenants(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, sqlTenants)
	if err != nil {
		return nil, fmt.Errorf("localstore: listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string

	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("localstore: scanning tenant: %w", err)
		}

		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterating tenants: %w", err)
	}

	return tenants, nil
}

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

const (
	sqlGetWatermark = `SELECT watermark FROM sync_watermarks WHERE kind = ? AND tenant_id = ?`

	// max() keeps the watermark monotonic even if a caller passes a lower value.
	sqlUpsertWatermark = `INSERT INTO sync_watermarks (kind, tenant_id, watermark, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, tenant_id) DO UPDATE SET
		 watermark = max(sync_watermarks.watermark, excluded.watermark),
		 updated_at = excluded.updated_at`
)

// WatermarkStore persists, per (kind, tenant), the updatedAt (ms) of the
// newest remote change applied locally.
type WatermarkStore struct {
	db *sql.DB
}

// Get returns the watermark, or 0 when none has been saved.
func (s *WatermarkStore) Get(ctx context.Context, kind ledger.Kind, tenant string) (int64, error) {
	var wm int64

	err := s.db.QueryRowContext(ctx, sqlGetWatermark, kind.String(), tenant).Scan(&wm)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("localstore: getting %s watermark for %s: %w", kind, tenant, err)
	}

	return wm, nil
}

// Set advances the watermark to ts. Lower values are ignored.
func (s *WatermarkStore) Set(ctx context.Context, kind ledger.Kind, tenant string, ts int64) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertWatermark, kind.String(), tenant, ts, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("localstore: saving %s watermark for %s: %w", kind, tenant, err)
	}

	return nil
}

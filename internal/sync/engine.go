package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// LocalStore is the per-kind local persistence the engine reads and writes.
// Implemented by the localstore category, person, and transaction stores.
type LocalStore[E any] interface {
	Unsynced(ctx context.Context, tenant string) ([]E, error)
	ByLocalID(ctx context.Context, tenant, localID string) (E, bool, error)
	Insert(ctx context.Context, e E) (int64, error)
	Update(ctx context.Context, e E) error
	UpdateSyncStatus(ctx context.Context, id int64, remoteID string, isSynced bool, lastSyncedAt int64) error
	MarkSynced(ctx context.Context, marks []ledger.SyncMark) error
}

// WatermarkStore persists the download watermark per (kind, tenant).
// Set must never move a watermark backwards.
type WatermarkStore interface {
	Get(ctx context.Context, kind ledger.Kind, tenant string) (int64, error)
	Set(ctx context.Context, kind ledger.Kind, tenant string, ts int64) error
}

// KindSyncer runs one upload-then-download pass for a single entity kind.
// Implemented by *Engine; the coordinator and its tests depend on this.
type KindSyncer interface {
	Kind() ledger.Kind
	Sync(ctx context.Context, tenant string, opts RunOpts) *KindReport
}

// EngineConfig holds the options for NewEngine.
type EngineConfig[E any] struct {
	Kind       ledger.Kind
	Local      LocalStore[E]
	Remote     docstore.Store
	Codec      Codec[E]
	Watermarks WatermarkStore
	BatchSize  int // writes per atomic commit; 0 or >500 means 500
	Logger     *slog.Logger
}

// Engine synchronizes one entity kind between the local store and the
// remote document store.
type Engine[E ledger.Entity[E]] struct {
	kind       ledger.Kind
	local      LocalStore[E]
	remote     docstore.Store
	codec      Codec[E]
	watermarks WatermarkStore
	batchSize  int
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewEngine returns an engine for cfg.Kind. Every store and the codec are
// required.
func NewEngine[E ledger.Entity[E]](cfg *EngineConfig[E]) (*Engine[E], error) {
	if cfg.Local == nil || cfg.Remote == nil || cfg.Codec == nil || cfg.Watermarks == nil {
		return nil, fmt.Errorf("sync: creating %s engine: local, remote, codec, and watermark stores are required", cfg.Kind)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > docstore.MaxBatchWrites {
		batchSize = docstore.MaxBatchWrites
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine[E]{
		kind:       cfg.Kind,
		local:      cfg.Local,
		remote:     cfg.Remote,
		codec:      cfg.Codec,
		watermarks: cfg.Watermarks,
		batchSize:  batchSize,
		logger:     logger,
		nowFunc:    time.Now,
	}, nil
}

// Kind returns the entity kind this engine synchronizes.
func (e *Engine[E]) Kind() ledger.Kind {
	return e.kind
}

// Sync runs the upload side, then the download side, as selected by
// opts.Mode. The download side runs even when the upload side failed: a
// download can heal records whose local mark was lost after a commit.
func (e *Engine[E]) Sync(ctx context.Context, tenant string, opts RunOpts) *KindReport {
	start := e.nowFunc()
	report := &KindReport{Kind: e.kind}

	var errs []error

	if opts.Mode != SyncDownloadOnly {
		up, err := e.UploadLocal(ctx, tenant)
		report.Upload = up

		if err != nil {
			errs = append(errs, err)
		}
	}

	if opts.Mode != SyncUploadOnly && ctx.Err() == nil {
		down, err := e.DownloadRemote(ctx, tenant, opts.Initial)
		report.Download = down

		if err != nil {
			errs = append(errs, err)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !slices.ContainsFunc(errs, func(err error) bool {
		return errors.Is(err, ctxErr)
	}) {
		errs = append(errs, ctxErr)
	}

	report.Err = errors.Join(errs...)
	report.Duration = e.nowFunc().Sub(start)

	return report
}

// pendingBatch accumulates staged writes and the local marks that become
// valid once the writes commit. reserved holds the marks whose remote id
// was newly reserved and is not stored locally yet.
type pendingBatch struct {
	batch    docstore.Batch
	marks    []ledger.SyncMark
	localIDs []string
	reserved []ledger.SyncMark
}

func (p *pendingBatch) reset() {
	*p = pendingBatch{}
}

// UploadLocal pushes every unsynced record of the tenant in atomic batches.
// Records whose category or person has no remote id yet are skipped and stay
// pending. Records are marked synced only after their batch commits; a
// commit failure stops the pass and leaves that batch's records pending.
func (e *Engine[E]) UploadLocal(ctx context.Context, tenant string) (*UploadReport, error) {
	report := &UploadReport{Kind: e.kind, Tenant: tenant}
	path := docstore.PathFor(tenant, e.kind)

	records, err := e.local.Unsynced(ctx, tenant)
	if err != nil {
		return report, fmt.Errorf("sync: listing unsynced %s records: %w", e.kind, err)
	}

	report.Pending = len(records)
	if len(records) == 0 {
		return report, nil
	}

	syncTime := e.nowFunc().UnixMilli()
	serverTime := time.UnixMilli(syncTime)

	e.logger.Debug("upload starting",
		slog.String("tenant", tenant),
		slog.String("kind", e.kind.String()),
		slog.Int("pending", len(records)),
	)

	var pending pendingBatch

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		st := rec.State()

		fields, reason, err := e.codec.Encode(ctx, rec)
		if err != nil {
			report.record(failed(st.LocalID, st.RemoteID, err))
			return report, fmt.Errorf("sync: encoding %s %s: %w", e.kind, st.LocalID, err)
		}

		if reason != "" {
			e.logger.Debug("upload skipped",
				slog.String("kind", e.kind.String()),
				slog.String("local_id", st.LocalID),
				slog.String("reason", string(reason)),
			)
			report.record(skipped(st.LocalID, st.RemoteID, reason))

			continue
		}

		remoteID := strings.TrimSpace(st.RemoteID)
		reserved := remoteID == ""

		if reserved {
			remoteID, err = e.remote.NewDocumentID(ctx, path)
			if err != nil {
				report.record(failed(st.LocalID, "", err))
				return report, fmt.Errorf("sync: reserving document id for %s %s: %w", e.kind, st.LocalID, err)
			}
		}

		if err := pending.batch.Set(path, remoteID, serverTime, fields); err != nil {
			return report, fmt.Errorf("sync: staging %s %s: %w", e.kind, st.LocalID, err)
		}

		mark := ledger.SyncMark{
			ID:        st.ID,
			RemoteID:  remoteID,
			UpdatedAt: st.UpdatedAt,
			SyncedAt:  syncTime,
		}

		pending.marks = append(pending.marks, mark)
		pending.localIDs = append(pending.localIDs, st.LocalID)

		if reserved {
			pending.reserved = append(pending.reserved, mark)
		}

		if pending.batch.Len() >= e.batchSize {
			if err := e.flush(ctx, tenant, &pending, report); err != nil {
				return report, err
			}
		}
	}

	if err := e.flush(ctx, tenant, &pending, report); err != nil {
		return report, err
	}

	e.logger.Info("upload complete",
		slog.String("tenant", tenant),
		slog.String("kind", e.kind.String()),
		slog.Int("uploaded", report.Uploaded),
		slog.Int("skipped", report.Skipped),
		slog.Int("batches", report.Batches),
	)

	return report, nil
}

// flush stores newly reserved remote ids, commits the staged batch and then
// marks its records synced. A record whose commit landed but whose mark was
// lost keeps its remote id, so the retry overwrites the same document. The
// commit and the marks run to completion even if ctx is canceled meanwhile.
func (e *Engine[E]) flush(ctx context.Context, tenant string, p *pendingBatch, report *UploadReport) error {
	defer p.reset()

	if p.batch.Len() == 0 {
		return nil
	}

	for _, m := range p.reserved {
		if err := e.local.UpdateSyncStatus(ctx, m.ID, m.RemoteID, false, 0); err != nil {
			for i, pm := range p.marks {
				report.record(failed(p.localIDs[i], pm.RemoteID, err))
			}

			return fmt.Errorf("sync: storing reserved %s id %s: %w", e.kind, m.RemoteID, err)
		}
	}

	atomicCtx := context.WithoutCancel(ctx)

	if err := e.remote.Commit(atomicCtx, &p.batch); err != nil {
		for i, m := range p.marks {
			report.record(failed(p.localIDs[i], m.RemoteID, err))
		}

		e.logger.Warn("batch commit failed",
			slog.String("tenant", tenant),
			slog.String("kind", e.kind.String()),
			slog.Int("writes", p.batch.Len()),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("sync: committing %s batch of %d: %w", e.kind, p.batch.Len(), err)
	}

	report.Batches++

	if err := e.local.MarkSynced(atomicCtx, p.marks); err != nil {
		for i, m := range p.marks {
			report.record(failed(p.localIDs[i], m.RemoteID, err))
		}

		return fmt.Errorf("sync: marking %s batch synced: %w", e.kind, err)
	}

	for i, m := range p.marks {
		report.record(applied(p.localIDs[i], m.RemoteID))
	}

	return nil
}

// watermarkTracker computes the watermark a download pass may persist: the
// highest applied updatedAt strictly below the lowest updatedAt that was
// skipped or failed, so nothing left behind falls under the watermark.
type watermarkTracker struct {
	applied   []int64
	blocked   int64
	isBlocked bool
}

func (w *watermarkTracker) apply(ts int64) {
	w.applied = append(w.applied, ts)
}

func (w *watermarkTracker) block(ts int64) {
	if !w.isBlocked || ts < w.blocked {
		w.blocked = ts
		w.isBlocked = true
	}
}

// next returns the advanced watermark and whether it moved past from.
func (w *watermarkTracker) next(from int64) (int64, bool) {
	best := from

	for _, ts := range w.applied {
		if w.isBlocked && ts >= w.blocked {
			continue
		}

		if ts > best {
			best = ts
		}
	}

	return best, best > from
}

// DownloadRemote pulls every remote document of the tenant newer than the
// persisted watermark (or all of them when initial is set) and applies each
// one to the local store, deduplicating by local id. Documents whose
// references cannot be resolved locally are skipped and retried next pass.
// The first failure to apply a document stops the pass; progress made
// before it is kept, and the watermark advances only over applied documents.
func (e *Engine[E]) DownloadRemote(ctx context.Context, tenant string, initial bool) (*DownloadReport, error) {
	report := &DownloadReport{Kind: e.kind, Tenant: tenant}
	path := docstore.PathFor(tenant, e.kind)

	stored, err := e.watermarks.Get(ctx, e.kind, tenant)
	if err != nil {
		return report, fmt.Errorf("sync: reading %s watermark: %w", e.kind, err)
	}

	watermark := stored
	if initial {
		watermark = 0
	}

	report.Watermark = watermark
	report.NewWatermark = stored

	docs, err := e.remote.QuerySince(ctx, path, time.UnixMilli(watermark))
	if err != nil {
		return report, fmt.Errorf("sync: querying %s documents: %w", e.kind, err)
	}

	report.Fetched = len(docs)
	if len(docs) == 0 {
		return report, nil
	}

	slices.SortStableFunc(docs, func(a, b docstore.Document) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	now := e.nowFunc().UnixMilli()

	var (
		tracker  watermarkTracker
		applyErr error
	)

	for _, doc := range docs {
		if applyErr = ctx.Err(); applyErr != nil {
			tracker.block(doc.UpdatedAt.UnixMilli())
			break
		}

		o, change, err := e.applyDocument(ctx, tenant, doc, now)
		report.record(o, change)

		switch o.Status {
		case OutcomeApplied:
			tracker.apply(doc.UpdatedAt.UnixMilli())
		case OutcomeSkipped:
			tracker.block(doc.UpdatedAt.UnixMilli())
			e.logger.Debug("download skipped",
				slog.String("kind", e.kind.String()),
				slog.String("document", doc.ID),
				slog.String("reason", string(o.Reason)),
			)
		case OutcomeFailed:
			tracker.block(doc.UpdatedAt.UnixMilli())
			applyErr = fmt.Errorf("sync: applying %s document %s: %w", e.kind, doc.ID, err)
		}

		if applyErr != nil {
			break
		}
	}

	if next, moved := tracker.next(watermark); moved {
		if err := e.watermarks.Set(context.WithoutCancel(ctx), e.kind, tenant, next); err != nil {
			return report, errors.Join(applyErr, fmt.Errorf("sync: saving %s watermark: %w", e.kind, err))
		}

		// Set keeps the higher of the two.
		report.NewWatermark = max(stored, next)
	}

	e.logger.Info("download complete",
		slog.String("tenant", tenant),
		slog.String("kind", e.kind.String()),
		slog.Int("fetched", report.Fetched),
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("skipped", report.Skipped),
		slog.Int64("watermark", report.NewWatermark),
	)

	return report, applyErr
}

// applyDocument decodes doc and inserts it, or merges it into the local
// record with the same local id. A merge that changes nothing is not
// written.
func (e *Engine[E]) applyDocument(ctx context.Context, tenant string, doc docstore.Document, now int64) (Outcome, docChange, error) {
	candidate, reason, err := e.codec.Decode(ctx, tenant, doc)
	if err != nil {
		return failed("", doc.ID, err), changeNone, err
	}

	if reason != "" {
		return skipped("", doc.ID, reason), changeNone, nil
	}

	cs := candidate.State()

	existing, found, err := e.local.ByLocalID(ctx, tenant, cs.LocalID)
	if err != nil {
		return failed(cs.LocalID, doc.ID, err), changeNone, err
	}

	if !found {
		cs.MarkSynced(doc.ID, now)

		id, err := e.local.Insert(ctx, candidate)
		if err != nil {
			return failed(cs.LocalID, doc.ID, err), changeNone, err
		}

		cs.ID = id

		return applied(cs.LocalID, doc.ID), changeInserted, nil
	}

	merged := Resolve(existing, candidate, now)
	if merged.Equivalent(existing) {
		return applied(cs.LocalID, merged.State().RemoteID), changeNone, nil
	}

	if err := e.local.Update(ctx, merged); err != nil {
		return failed(cs.LocalID, doc.ID, err), changeNone, err
	}

	return applied(cs.LocalID, merged.State().RemoteID), changeUpdated, nil
}

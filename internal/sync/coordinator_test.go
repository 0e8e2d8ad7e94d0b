package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/docstore/memstore"
	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// callLog records engine invocations across goroutines.
type callLog struct {
	mu    stdsync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.calls...)
}

// fakeSyncer implements KindSyncer.
type fakeSyncer struct {
	kind ledger.Kind
	log  *callLog
	fn   func(ctx context.Context, tenant string) error
}

func (f *fakeSyncer) Kind() ledger.Kind { return f.kind }

func (f *fakeSyncer) Sync(ctx context.Context, tenant string, _ RunOpts) *KindReport {
	if f.log != nil {
		f.log.add(tenant + "/" + f.kind.String())
	}

	var err error
	if f.fn != nil {
		err = f.fn(ctx, tenant)
	}

	return &KindReport{Kind: f.kind, Err: err}
}

func fakeEngines(log *callLog, fn func(ctx context.Context, tenant string) error) []KindSyncer {
	out := make([]KindSyncer, 0, len(ledger.AllKinds))

	// Registered out of order: the coordinator imposes its own order.
	for _, k := range []ledger.Kind{ledger.KindIncome, ledger.KindExpense, ledger.KindPerson, ledger.KindCategory} {
		out = append(out, &fakeSyncer{kind: k, log: log, fn: fn})
	}

	return out
}

func TestCoordinator_RunTenant_DependencyOrder(t *testing.T) {
	log := &callLog{}
	c := NewCoordinator(&CoordinatorConfig{Engines: fakeEngines(log, nil), Logger: testLogger(t)})

	report := c.RunTenant(context.Background(), "t1", RunOpts{})
	require.NoError(t, report.Err)
	assert.Equal(t, "t1", report.Tenant)

	assert.Equal(t, []string{"t1/category", "t1/person", "t1/expense", "t1/income"}, log.snapshot())
	require.Len(t, report.Kinds, 4)
	assert.Equal(t, ledger.KindCategory, report.Kinds[0].Kind)
	assert.Equal(t, ledger.KindIncome, report.Kinds[3].Kind)
}

func TestCoordinator_RunTenant_ContinuesAfterKindError(t *testing.T) {
	log := &callLog{}
	errCat := errors.New("category download failed")

	engines := fakeEngines(log, func(_ context.Context, _ string) error { return nil })
	engines[3] = &fakeSyncer{kind: ledger.KindCategory, log: log, fn: func(context.Context, string) error { return errCat }}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})

	report := c.RunTenant(context.Background(), "t1", RunOpts{})
	require.ErrorIs(t, report.Err, errCat)
	assert.Len(t, log.snapshot(), 4, "later kinds still run and skip what they cannot resolve")
}

func TestCoordinator_RunTenant_PanicIsolated(t *testing.T) {
	engines := []KindSyncer{&fakeSyncer{kind: ledger.KindCategory, fn: func(context.Context, string) error {
		panic("boom")
	}}}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})

	report := c.RunTenant(context.Background(), "t1", RunOpts{})
	require.Error(t, report.Err)
	assert.Contains(t, report.Err.Error(), "panic in tenant t1")
}

func TestCoordinator_RunTenant_CanceledStopsBetweenKinds(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())

	engines := fakeEngines(log, func(_ context.Context, _ string) error {
		cancel()
		return nil
	})

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})

	report := c.RunTenant(ctx, "t1", RunOpts{})
	require.ErrorIs(t, report.Err, context.Canceled)
	assert.Equal(t, []string{"t1/category"}, log.snapshot())
}

func TestCoordinator_SameTenantIsSerialized(t *testing.T) {
	var running, maxRunning atomic.Int32

	engines := []KindSyncer{&fakeSyncer{kind: ledger.KindCategory, fn: func(context.Context, string) error {
		n := running.Add(1)
		defer running.Add(-1)

		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return nil
	}}}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, ParallelTenants: 8, Logger: testLogger(t)})

	reports := c.RunOnce(context.Background(), []string{"t1", "t1", "t1", "t1"}, RunOpts{})
	require.Len(t, reports, 4)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestCoordinator_TenantsRunInParallel(t *testing.T) {
	const tenants = 3

	var arrived stdsync.WaitGroup
	arrived.Add(tenants)

	release := make(chan struct{})

	engines := []KindSyncer{&fakeSyncer{kind: ledger.KindCategory, fn: func(context.Context, string) error {
		arrived.Done()
		<-release

		return nil
	}}}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, ParallelTenants: tenants, Logger: testLogger(t)})

	done := make(chan []*TenantReport)

	go func() {
		done <- c.RunOnce(context.Background(), []string{"a", "b", "c"}, RunOpts{})
	}()

	// Every tenant must be inside its engine at the same time.
	waitCh := make(chan struct{})

	go func() {
		arrived.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tenants did not run concurrently")
	}

	close(release)

	reports := <-done
	require.Len(t, reports, tenants)
	assert.Equal(t, "a", reports[0].Tenant)
	assert.Equal(t, "c", reports[2].Tenant)
}

func TestCoordinator_RunOnce_NoTenants(t *testing.T) {
	c := NewCoordinator(&CoordinatorConfig{Logger: testLogger(t)})
	assert.Nil(t, c.RunOnce(context.Background(), nil, RunOpts{}))
}

// --- RunWatch ---

// mockFsWatcher implements FsWatcher with injectable channels.
type mockFsWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	added  []string
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(name string) error         { m.added = append(m.added, name); return nil }
func (m *mockFsWatcher) Close() error                  { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func TestCoordinator_RunWatch_RequiresTenants(t *testing.T) {
	c := NewCoordinator(&CoordinatorConfig{Logger: testLogger(t)})
	require.Error(t, c.RunWatch(context.Background(), nil, WatchOpts{}))
}

func TestCoordinator_RunWatch_LocalChangeTriggersPass(t *testing.T) {
	passes := make(chan RunOpts, 10)
	engines := []KindSyncer{&optsRecorder{kind: ledger.KindCategory, opts: passes}}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})
	w := newMockFsWatcher()
	c.newWatcher = func() (FsWatcher, error) { return w, nil }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.RunWatch(ctx, []string{"t1"}, WatchOpts{
			RunOpts:      RunOpts{Initial: true},
			PollInterval: time.Hour,
			WatchDir:     "/data",
			Debounce:     10 * time.Millisecond,
		})
	}()

	first := receivePass(t, passes)
	assert.True(t, first.Initial, "startup pass honors Initial")

	// Let the quiet period after the startup pass expire.
	time.Sleep(100 * time.Millisecond)

	w.events <- fsnotify.Event{Name: "/data/ledger.db-wal", Op: fsnotify.Chmod}
	w.events <- fsnotify.Event{Name: "/data/ledger.db-wal", Op: fsnotify.Write}
	w.events <- fsnotify.Event{Name: "/data/ledger.db-wal", Op: fsnotify.Write}

	second := receivePass(t, passes)
	assert.False(t, second.Initial, "later passes use watermarks")

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"/data"}, w.added)

	select {
	case <-passes:
		t.Fatal("debounced writes should trigger a single pass")
	default:
	}
}

func TestCoordinator_RunWatch_IgnoresWritesOfItsOwnPass(t *testing.T) {
	const debounce = 20 * time.Millisecond

	w := newMockFsWatcher()
	passes := make(chan struct{}, 10)

	engines := []KindSyncer{&fakeSyncer{kind: ledger.KindCategory, fn: func(context.Context, string) error {
		// The pass writes the database.
		w.events <- fsnotify.Event{Name: "/data/ledger.db-wal", Op: fsnotify.Write}
		passes <- struct{}{}

		return nil
	}}}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})
	c.newWatcher = func() (FsWatcher, error) { return w, nil }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.RunWatch(ctx, []string{"t1"}, WatchOpts{
			PollInterval: time.Hour,
			WatchDir:     "/data",
			Debounce:     debounce,
		})
	}()

	receiveSignal(t, passes)

	select {
	case <-passes:
		t.Fatal("a pass was triggered by its own writes")
	case <-time.After(20 * debounce):
	}

	// A write from another process still triggers a pass.
	w.events <- fsnotify.Event{Name: "/data/ledger.db", Op: fsnotify.Write}
	receiveSignal(t, passes)

	cancel()
	require.NoError(t, <-errCh)
}

func receiveSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pass")
	}
}

// countingSyncer counts the passes of the engine it wraps.
type countingSyncer struct {
	KindSyncer
	passes *atomic.Int32
}

func (c *countingSyncer) Sync(ctx context.Context, tenant string, opts RunOpts) *KindReport {
	c.passes.Add(1)
	return c.KindSyncer.Sync(ctx, tenant, opts)
}

func TestCoordinator_RunWatch_StuckDocumentDoesNotLoop(t *testing.T) {
	db := newTestDB(t)
	remote := memstore.New()
	path := docstore.PathFor(testTenant, ledger.KindCategory)

	// The malformed document holds the watermark, so the good one is
	// fetched on every pass.
	require.NoError(t, remote.Put(path, "cat-bad", time.UnixMilli(100), ledger.CategoryDoc{Name: "no local id"}))
	require.NoError(t, remote.Put(path, "cat-good", time.UnixMilli(200), ledger.CategoryDoc{LocalID: "c1", Name: "Food"}))

	engines, err := NewLedgerEngines(db, remote, 0, testLogger(t))
	require.NoError(t, err)

	var passes atomic.Int32
	engines[0] = &countingSyncer{KindSyncer: engines[0], passes: &passes}

	c := NewCoordinator(&CoordinatorConfig{Engines: engines, Logger: testLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.RunWatch(ctx, []string{testTenant}, WatchOpts{
			PollInterval: time.Hour,
			WatchDir:     filepath.Dir(db.Path()),
			Debounce:     50 * time.Millisecond,
		})
	}()

	time.Sleep(1500 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, passes.Load(), int32(1))
	assert.LessOrEqual(t, passes.Load(), int32(2), "passes must not chain off their own writes")

	_, ok, err := db.Categories().ByLocalID(context.Background(), testTenant, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// optsRecorder is a KindSyncer that reports each pass's options.
type optsRecorder struct {
	kind ledger.Kind
	opts chan RunOpts
}

func (o *optsRecorder) Kind() ledger.Kind { return o.kind }

func (o *optsRecorder) Sync(_ context.Context, _ string, opts RunOpts) *KindReport {
	o.opts <- opts
	return &KindReport{Kind: o.kind}
}

func receivePass(t *testing.T, ch <-chan RunOpts) RunOpts {
	t.Helper()

	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pass")
	}

	return RunOpts{}
}

func TestTenantBackoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTenantBackoff(func() time.Time { return now })
	errSync := errors.New("offline")

	assert.Zero(t, b.record("t1", errSync))
	assert.Zero(t, b.record("t1", errSync))
	assert.Equal(t, time.Minute, b.record("t1", errSync))
	assert.Equal(t, []string{"t2"}, b.eligible([]string{"t1", "t2"}))

	now = now.Add(time.Minute)
	assert.Equal(t, []string{"t1", "t2"}, b.eligible([]string{"t1", "t2"}))

	assert.Equal(t, 5*time.Minute, b.record("t1", errSync))
	assert.Zero(t, b.record("t1", nil), "success clears the backoff")
	assert.Equal(t, []string{"t1"}, b.eligible([]string{"t1"}))
	assert.Zero(t, b.record("t1", errSync))
}

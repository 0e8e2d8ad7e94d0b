package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// Watch-mode defaults.
const (
	defaultPollInterval    = 5 * time.Minute
	defaultDebounce        = 2 * time.Second
	defaultParallelTenants = 4
)

// kindPhases is the per-tenant execution order. Every kind of a phase
// completes both sides before the next phase starts, so references to
// categories and persons resolve as fully as possible for transactions.
var kindPhases = [][]ledger.Kind{
	{ledger.KindCategory, ledger.KindPerson},
	{ledger.KindExpense, ledger.KindIncome},
}

// FsWatcher is the subset of *fsnotify.Watcher used by RunWatch.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher exposes the channel fields of *fsnotify.Watcher as methods.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// CoordinatorConfig holds the inputs for NewCoordinator.
type CoordinatorConfig struct {
	Engines         []KindSyncer
	ParallelTenants int // tenants synced concurrently; 0 means 4
	Logger          *slog.Logger
}

// Coordinator runs the per-kind engines for each tenant in dependency
// order. Passes for the same tenant never overlap; different tenants run
// in parallel up to the configured limit.
type Coordinator struct {
	engines    map[ledger.Kind]KindSyncer
	parallel   int
	logger     *slog.Logger
	newWatcher func() (FsWatcher, error) // injectable for tests
	nowFunc    func() time.Time

	locksMu stdsync.Mutex
	locks   map[string]*stdsync.Mutex
}

// NewCoordinator creates a Coordinator over the given engines. Kinds with
// no engine are left out of every pass.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	engines := make(map[ledger.Kind]KindSyncer, len(cfg.Engines))
	for _, e := range cfg.Engines {
		engines[e.Kind()] = e
	}

	parallel := cfg.ParallelTenants
	if parallel <= 0 {
		parallel = defaultParallelTenants
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		engines:    engines,
		parallel:   parallel,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		nowFunc:    time.Now,
		locks:      make(map[string]*stdsync.Mutex),
	}
}

func (c *Coordinator) tenantLock(tenant string) *stdsync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	mu, ok := c.locks[tenant]
	if !ok {
		mu = &stdsync.Mutex{}
		c.locks[tenant] = mu
	}

	return mu
}

// RunTenant runs one full pass for tenant, waiting for any pass already
// running for the same tenant to finish first.
func (c *Coordinator) RunTenant(ctx context.Context, tenant string, opts RunOpts) *TenantReport {
	mu := c.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	runner := &TenantRunner{tenant: tenant}

	report := runner.run(ctx, func(ctx context.Context) (*TenantReport, error) {
		return c.runPhases(ctx, tenant, opts)
	})

	attrs := []any{
		slog.String("tenant", tenant),
		slog.Int("kinds", len(report.Kinds)),
		slog.Duration("duration", report.Duration),
	}

	if report.Err != nil {
		c.logger.Warn("tenant pass failed", append(attrs, slog.String("error", report.Err.Error()))...)
	} else {
		c.logger.Info("tenant pass complete", attrs...)
	}

	return report
}

func (c *Coordinator) runPhases(ctx context.Context, tenant string, opts RunOpts) (*TenantReport, error) {
	report := &TenantReport{Tenant: tenant}

	for _, phase := range kindPhases {
		for _, kind := range phase {
			engine, ok := c.engines[kind]
			if !ok {
				continue
			}

			if err := ctx.Err(); err != nil {
				return report, err
			}

			report.Kinds = append(report.Kinds, engine.Sync(ctx, tenant, opts))
		}
	}

	return report, joinKindErrors(report.Kinds)
}

// RunOnce runs one pass for every tenant. It never returns an error;
// failures are captured in each TenantReport, in the order of tenants.
func (c *Coordinator) RunOnce(ctx context.Context, tenants []string, opts RunOpts) []*TenantReport {
	if len(tenants) == 0 {
		return nil
	}

	c.logger.Info("coordinator starting pass",
		slog.Int("tenants", len(tenants)),
		slog.String("mode", opts.Mode.String()),
		slog.Bool("initial", opts.Initial),
	)

	reports := make([]*TenantReport, len(tenants))

	var g errgroup.Group
	g.SetLimit(c.parallel)

	for i, tenant := range tenants {
		g.Go(func() error {
			reports[i] = c.RunTenant(ctx, tenant, opts)
			return nil
		})
	}

	_ = g.Wait()

	return reports
}

// RunWatch runs a pass for every tenant immediately and then every
// PollInterval until ctx is canceled. When WatchDir is set, writes in that
// directory trigger an extra pass after Debounce. Events seen while a pass
// runs, and for one Debounce after it, are the pass's own database writes
// and are ignored. A tenant that keeps failing is skipped for
// backoffDuration(failures). Returns nil on context cancel.
func (c *Coordinator) RunWatch(ctx context.Context, tenants []string, opts WatchOpts) error {
	if len(tenants) == 0 {
		return fmt.Errorf("sync: no tenants configured")
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		watcher FsWatcher
	)

	if opts.WatchDir != "" {
		w, err := c.newWatcher()
		if err != nil {
			return fmt.Errorf("sync: creating watcher: %w", err)
		}
		defer w.Close()

		if err := w.Add(opts.WatchDir); err != nil {
			return fmt.Errorf("sync: watching %s: %w", opts.WatchDir, err)
		}

		watcher = w
		events, errs = w.Events(), w.Errors()
	}

	c.logger.Info("coordinator starting watch",
		slog.Int("tenants", len(tenants)),
		slog.Duration("poll_interval", poll),
		slog.Bool("watch_local_changes", watcher != nil),
	)

	bo := newTenantBackoff(c.nowFunc)
	runOpts := opts.RunOpts

	var (
		debounceTimer *time.Timer
		debounced     <-chan time.Time
		quietUntil    time.Time
	)

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	pass := func(reason string) {
		// Local changes queued before this pass are covered by it.
		if debounceTimer != nil {
			debounceTimer.Stop()
		}

		debounced = nil

		defer func() {
			quietUntil = c.nowFunc().Add(debounce)
		}()

		eligible := bo.eligible(tenants)
		if len(eligible) == 0 {
			return
		}

		c.logger.Debug("watch pass", slog.String("trigger", reason), slog.Int("tenants", len(eligible)))

		for _, r := range c.RunOnce(ctx, eligible, runOpts) {
			if d := bo.record(r.Tenant, r.Err); d > 0 {
				c.logger.Warn("tenant backing off",
					slog.String("tenant", r.Tenant),
					slog.Int("failures", bo.failures[r.Tenant]),
					slog.Duration("backoff", d),
				)
			}
		}

		// Only the first pass may ignore watermarks.
		runOpts.Initial = false
	}

	pass("startup")

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator watch stopped")
			return nil

		case <-ticker.C:
			pass("poll")

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if c.nowFunc().Before(quietUntil) {
				continue
			}

			if debounceTimer == nil {
				debounceTimer = time.NewTimer(debounce)
			} else {
				debounceTimer.Reset(debounce)
			}

			debounced = debounceTimer.C

		case <-debounced:
			debounced = nil
			pass("local-change")

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			c.logger.Warn("local change watcher error", slog.String("error", err.Error()))
		}
	}
}

// tenantBackoff tracks consecutive failures per tenant in watch mode.
type tenantBackoff struct {
	failures map[string]int
	until    map[string]time.Time
	nowFunc  func() time.Time
}

func newTenantBackoff(now func() time.Time) *tenantBackoff {
	return &tenantBackoff{
		failures: make(map[string]int),
		until:    make(map[string]time.Time),
		nowFunc:  now,
	}
}

// eligible returns the tenants not currently backing off.
func (b *tenantBackoff) eligible(tenants []string) []string {
	now := b.nowFunc()
	out := make([]string, 0, len(tenants))

	for _, t := range tenants {
		if until, ok := b.until[t]; ok && now.Before(until) {
			continue
		}

		out = append(out, t)
	}

	return out
}

// record updates the tenant's failure count and returns the backoff now in
// effect for it.
func (b *tenantBackoff) record(tenant string, err error) time.Duration {
	if err == nil {
		delete(b.failures, tenant)
		delete(b.until, tenant)

		return 0
	}

	b.failures[tenant]++

	d := backoffDuration(b.failures[tenant])
	if d > 0 {
		b.until[tenant] = b.nowFunc().Add(d)
	}

	return d
}

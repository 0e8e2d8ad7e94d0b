package sync

import (
	"context"
	"fmt"
	"time"
)

// Backoff durations for consecutive failed passes of one tenant in watch
// mode. No backoff is applied below backoffThreshold failures.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// TenantRunner runs one tenant's pass with panic recovery, so a panic in
// one tenant never takes down the others.
type TenantRunner struct {
	tenant string
}

// run executes fn and converts a panic into a failed TenantReport. fn is a
// closure over the coordinator's phase loop; injecting it lets tests
// exercise panic recovery without real engines.
func (tr *TenantRunner) run(ctx context.Context, fn func(context.Context) (*TenantReport, error)) (result *TenantReport) {
	start := time.Now()
	result = &TenantReport{Tenant: tr.tenant}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in tenant %s: %v", tr.tenant, r)
		}

		result.Duration = time.Since(start)
	}()

	report, err := fn(ctx)
	if report != nil {
		result.Kinds = report.Kinds
	}

	result.Err = err

	return result
}

// backoffDuration returns the watch-mode backoff for the given number of
// consecutive failures. Returns 0 below backoffThreshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}

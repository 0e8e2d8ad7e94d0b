package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exitRecorder captures forced exits instead of ending the test binary.
type exitRecorder chan int

func (r exitRecorder) exit(code int) { r <- code }

func raise(t *testing.T, sig syscall.Signal) {
	t.Helper()

	require.NoError(t, syscall.Kill(os.Getpid(), sig))
}

// The signal tests share process-wide signal state and do not run in parallel.

func TestNotifyShutdown_FirstSignalStopsSecondAborts(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	exits := make(exitRecorder, 1)
	ctx := notifyShutdown(parent, testLogger(t), exits.exit, syscall.SIGUSR1)

	raise(t, syscall.SIGUSR1)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context still live after the first signal")
	}

	assert.NoError(t, parent.Err(), "only the derived context is canceled")
	assert.Empty(t, exits, "the first signal lets the current batch finish")

	raise(t, syscall.SIGUSR1)

	select {
	case code := <-exits:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not abort")
	}
}

func TestNotifyShutdown_ParentCancelStopsListening(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	exits := make(exitRecorder, 1)
	ctx := notifyShutdown(parent, testLogger(t), exits.exit, syscall.SIGUSR2)

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context still live after parent cancel")
	}

	assert.Empty(t, exits)
}

func TestShutdownContext_FollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := shutdownContext(parent, testLogger(t))

	require.NoError(t, ctx.Err())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context still live after parent cancel")
	}
}

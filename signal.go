package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the status used when a second interrupt aborts a sync.
const exitInterrupted = 130

// shutdownContext cancels the returned context on SIGINT or SIGTERM. The
// engines stop before the next batch, and a commit already sent still has
// its sync marks written. A second signal exits at once; the kernel drops
// the database lock with the process.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	return notifyShutdown(parent, logger, os.Exit, syscall.SIGINT, syscall.SIGTERM)
}

func notifyShutdown(
	parent context.Context, logger *slog.Logger, forceExit func(int), sigs ...os.Signal,
) context.Context {
	ctx, cancel := context.WithCancel(parent)

	// Room for both signals so neither is dropped while the first is logged.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, sigs...)

	go func() {
		defer signal.Stop(interrupts)

		var first os.Signal

		select {
		case first = <-interrupts:
		case <-parent.Done():
			cancel()
			return
		}

		logger.Info("stopping after the current batch; signal again to abort",
			slog.String("signal", first.String()),
		)
		cancel()

		select {
		case sig := <-interrupts:
			logger.Warn("aborting sync",
				slog.String("signal", sig.String()),
				slog.Int("exit_code", exitInterrupted),
			)
			forceExit(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptContext returns a context that is cancelled on the first
// SIGINT/SIGTERM, which cancels the running transfer through its token. A
// second signal force-exits. stop releases the signal handler.
func interruptContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, cancelling operation", slog.String("signal", sig.String()))
			cancel()
		case <-quit:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-quit:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(quit)
		cancel()
	}
}

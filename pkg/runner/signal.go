package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForShutdownSignal blocks until SIGINT/SIGTERM arrives or the context
// is cancelled.
func WaitForShutdownSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"sigverify/logging"
)

// Context returns a context cancelled by the first SIGINT or SIGTERM, so a
// running scan or training run can stop between batches. A second signal
// exits immediately.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logging.LogWarning("Received %v, stopping", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}
		<-sigChan
		os.Exit(1)
	}()

	return ctx, cancel
}

// GetOptimalProcs returns the number of worker goroutines to use for CGo-heavy
// image work
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	// For image processing with CGo, using too many goroutines can cause issues
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}

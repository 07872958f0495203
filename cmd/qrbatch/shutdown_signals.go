package main

import (
	"context"
	"os"
	"sync/atomic"

	"qrbatch/internal/logging"
)

// watchShutdownSignals cancels on the first signal and logs, once, that
// later signals are ignored. The returned func stops the watcher.
func watchShutdownSignals(logger *logging.Logger, cancel context.CancelFunc, signals <-chan os.Signal) func() {
	if signals == nil {
		return func() {}
	}
	done := make(chan struct{})
	var started, loggedRepeat atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if started.CompareAndSwap(false, true) {
					logger.Info("shutdown signal received", fields)
					if cancel != nil {
						cancel()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) {
					logger.Info("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()

	var stopOnce atomic.Bool
	return func() {
		if stopOnce.CompareAndSwap(false, true) {
			close(done)
		}
	}
}

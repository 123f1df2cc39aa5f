package main

import (
	"os"
	"os/signal"
	"syscall"
)

// waitForInterrupt blocks until SIGINT or SIGTERM, the idiom this codebase's
// other long-running cmd entrypoints use to trigger a graceful shutdown.
func waitForInterrupt() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

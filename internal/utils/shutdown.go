package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForShutdownSignal blocks until SIGINT/SIGTERM, then cancels.
func WaitForShutdownSignal(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	cancel()
}

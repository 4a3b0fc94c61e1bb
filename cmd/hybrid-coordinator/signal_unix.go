//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals trigger a graceful shutdown. SIGHUP is included for
// foreground runs whose terminal goes away.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

//go:build windows

package main

import "os"

// terminationSignals stop the server and flush pending records on Ctrl+C.
var terminationSignals = []os.Signal{os.Interrupt}

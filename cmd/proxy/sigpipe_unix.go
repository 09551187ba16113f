//go:build linux || darwin

package main

import (
	"os/signal"
	"syscall"
)

// maskSIGPIPE is the process-wide backstop named in the design notes:
// the real per-write EPIPE handling lives in proxy.isPeerGone, but a
// broken pipe on an unexpected fd (stdout/stderr redirected to a closed
// pipe, for instance) should not kill the process outright either.
func maskSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

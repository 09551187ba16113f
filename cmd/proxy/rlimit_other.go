//go:build !linux && !darwin

package main

// changeRLimits is a no-op on platforms without POSIX rlimits.
func changeRLimits() error { return nil }

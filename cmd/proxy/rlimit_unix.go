//go:build linux || darwin

package main

import (
	"fmt"
	"syscall"
)

// changeRLimits raises the process's open-file soft limit to one below
// its hard limit, the way main_unix.go's ChangeRLimits does for azcopy.
// A forward proxy holding one client socket and one upstream socket per
// in-flight connection needs the same headroom azcopy needs per
// concurrent transfer.
func changeRLimits() error {
	var rlimit, zero syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("getting rlimit: %w", err)
	}
	if zero == rlimit {
		return fmt.Errorf("hard rlimit is 0 for the process")
	}
	set := rlimit
	// the hard limit specifies a value one greater than the maximum file
	// descriptor number; set the current limit one below max.
	set.Cur = set.Max - 1
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &set); err != nil {
		return fmt.Errorf("setting rlimit: %w", err)
	}
	return nil
}

//go:build !windows

package reply

import (
	"errors"
	"os"
	"syscall"
)

// isProcessAlive reports whether the worker with the given PID still exists.
// Signal 0 probes without delivering anything; FindProcess itself never
// fails on Unix.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: exists but owned by someone else. ESRCH: gone.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPERM
	}
	return false
}

//go:build !windows

package orchestrator

import (
	"os"
	"syscall"
)

// processAlive sends signal 0 to pid — delivers no signal, but the error it
// returns distinguishes a live process from one that has exited.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

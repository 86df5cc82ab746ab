package registry

import (
	"os"
	"syscall"
)

// processAlive reports whether pid refers to a live process, probed
// with signal 0 (no-op delivery per kill(2)).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence.
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

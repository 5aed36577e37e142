//go:build !windows

package elevation

import "os"

// IsElevated reports whether the process runs as root.
func IsElevated() bool {
	return os.Geteuid() == 0
}

// RunElevated is not supported on non-Windows platforms.
func RunElevated(executable string, args []string, workingDir string) error {
	return ErrNotSupported
}

//go:build !windows

package launch

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// startDetached starts path in a new session.
func startDetached(path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

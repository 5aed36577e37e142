//go:build !windows

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Acquire takes an exclusive flock on a per-user file in the temp directory.
func Acquire(name string) (*Lock, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.lock", name, os.Getuid()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &Lock{
		name: name,
		release: func() error {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			return f.Close()
		},
	}, nil
}

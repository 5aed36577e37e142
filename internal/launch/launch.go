// Package launch starts the sibling executables (CLI daemon, tray, GUI)
// detached from the caller.
package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/ipc"
)

// Executable names, without the .exe suffix.
const (
	CLIName  = "winget-updater"
	TrayName = "winget-updater-tray"
	GUIName  = "winget-updater-gui"
)

// ErrDaemonNotStarted is returned when a spawned daemon never answers.
var ErrDaemonNotStarted = errors.New("daemon did not start")

// spawn is replaced in tests.
var spawn = startDetached

// SiblingPath returns the path of name installed next to the running
// executable.
func SiblingPath(name string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}

// Start runs path with args in its own directory and does not wait for it.
func Start(path string, args ...string) error {
	if err := spawn(path, args...); err != nil {
		return fmt.Errorf("failed to start %s: %w", filepath.Base(path), err)
	}
	return nil
}

// StartSibling starts an executable installed next to the running one.
func StartSibling(name string, args ...string) error {
	path, err := SiblingPath(name)
	if err != nil {
		return err
	}
	return Start(path, args...)
}

// DaemonOptions configures EnsureDaemon.
type DaemonOptions struct {
	// PIDFile is the standalone daemon's PID file. Empty skips the check.
	PIDFile string

	// Wait bounds how long a starting daemon may take to answer.
	Wait time.Duration

	// Args are passed to the CLI. Defaults to "run".
	Args []string
}

// EnsureDaemon makes sure a daemon answers on client's address:
//  1. ping the address
//  2. if a standalone PID is alive, wait for it to come up
//  3. otherwise start "winget-updater run" and wait for it
func EnsureDaemon(ctx context.Context, client *ipc.Client, opts DaemonOptions) error {
	if opts.Wait <= 0 {
		opts.Wait = 10 * time.Second
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"run"}
	}

	if ping(ctx, client) {
		return nil
	}

	if opts.PIDFile != "" && daemon.NewPIDFile(opts.PIDFile).Running() != 0 {
		if waitForDaemon(ctx, client, opts.Wait) {
			return nil
		}
	}

	if err := StartSibling(CLIName, opts.Args...); err != nil {
		return err
	}
	if !waitForDaemon(ctx, client, opts.Wait) {
		return fmt.Errorf("%w within %s", ErrDaemonNotStarted, opts.Wait)
	}
	return nil
}

func ping(ctx context.Context, client *ipc.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return client.Ping(ctx) == nil
}

// waitForDaemon polls until the daemon answers, ctx ends or timeout passes.
func waitForDaemon(ctx context.Context, client *ipc.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ping(ctx, client) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

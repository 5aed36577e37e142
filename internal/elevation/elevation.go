// Package elevation re-runs commands with administrator rights through the
// UAC prompt. Service installation and control need them; the tray and the
// CLI call into this package when the current process is not elevated.
package elevation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotSupported is returned when elevation is attempted on non-Windows platforms.
var ErrNotSupported = errors.New("UAC elevation is only supported on Windows")

// CLIName is the executable that performs service management.
const CLIName = "winget-updater.exe"

// ExitError reports a non-zero exit code from an elevated process.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("elevated process exited with code %d", e.Code)
}

// CLIPath returns the CLI executable next to the current executable and
// the directory it lives in.
func CLIPath() (string, string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", "", fmt.Errorf("failed to get executable path: %w", err)
	}

	dir := filepath.Dir(exePath)
	cliPath := filepath.Join(dir, CLIName)
	if _, err := os.Stat(cliPath); err == nil {
		return cliPath, dir, nil
	}
	// Already the CLI, or running from a build directory.
	return exePath, dir, nil
}

// RunCLIElevated runs the CLI with args through the UAC prompt and waits
// for it to finish.
func RunCLIElevated(args ...string) error {
	cliPath, dir, err := CLIPath()
	if err != nil {
		return err
	}
	return RunElevated(cliPath, args, dir)
}

// ServiceCommand runs `winget-updater service <action>` elevated.
func ServiceCommand(action string) error {
	switch action {
	case "install", "uninstall", "start", "stop", "restart":
	default:
		return fmt.Errorf("unknown service action %q", action)
	}
	return RunCLIElevated("service", action)
}

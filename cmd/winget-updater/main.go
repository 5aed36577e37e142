// Winget Updater command line: service management, the standalone checker
// and IPC clients for the running checker.
//
// Run "winget-updater --help" for the command list. The original flag-style
// invocations ("--install", "--standalone --debug", ...) are still accepted.
package main

import (
	"errors"
	"os"

	"github.com/wingetupdater/winget-updater/internal/cli"
	"github.com/wingetupdater/winget-updater/internal/elevation"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exitErr *elevation.ExitError
		if errors.As(err, &exitErr) && exitErr.Code != 0 {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

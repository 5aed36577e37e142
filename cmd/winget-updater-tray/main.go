// Winget Updater tray companion: the notification area icon.
//
// The tray talks to the checker over IPC. When no checker answers it starts
// a standalone one ("winget-updater run") in the user session.
//
// Build for Windows:
//
//	GOOS=windows go build -ldflags "-H=windowsgui" ./cmd/winget-updater-tray
package main

import (
	"fmt"
	"os"
	"runtime"
)

func main() {
	if runtime.GOOS != "windows" {
		fmt.Fprintln(os.Stderr, "The tray companion is only supported on Windows")
		os.Exit(1)
	}

	runTray()
}

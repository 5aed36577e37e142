// Winget Updater GUI: the windows opened from the tray menu.
//
// Usage:
//
//	winget-updater-gui updates    list updates, check now, install all
//	winget-updater-gui settings   edit check times and notifications
//
// Every read and write goes over IPC to the running checker.
package main

import (
	"fmt"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/rs/zerolog"

	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/version"
)

const appID = "com.wingetupdater.gui"

var guiLogger *logging.Logger

func main() {
	name := "updates"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	if err := run(name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(name string) error {
	if name == "version" || name == "--version" {
		fmt.Println("winget-updater-gui " + version.String())
		return nil
	}

	guiLogger = logging.NewLogger("gui")
	if os.Getenv("WINGET_UPDATER_DEBUG") != "" {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		logging.SetGlobalLevel(zerolog.WarnLevel)
	}

	client := ipc.NewClient()
	client.SetTimeout(5 * time.Second)

	a := app.NewWithID(appID)

	var w fyne.Window
	switch name {
	case "updates":
		w = newUpdatesWindow(a, client).win
	case "settings":
		w = newSettingsWindow(a, client).win
	default:
		return fmt.Errorf("unknown window %q (expected updates or settings)", name)
	}

	w.SetMaster()
	w.ShowAndRun()
	return nil
}

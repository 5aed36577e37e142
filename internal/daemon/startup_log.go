package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wingetupdater/winget-updater/internal/config"
)

// StartupLogPath returns the file that captures failures before the daemon
// logger exists, e.g. when the tray launches a daemon that dies at once.
func StartupLogPath() string {
	return filepath.Join(config.LogDirectory(), "daemon-startup.log")
}

// WriteStartupLog appends a line to the startup log. Errors are ignored.
func WriteStartupLog(format string, args ...interface{}) {
	logPath := StartupLogPath()

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(f, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

// ClearStartupLog truncates the startup log after a successful start.
func ClearStartupLog() {
	_ = os.Truncate(StartupLogPath(), 0)
}

// Package autostart registers the tray companion to start at logon.
package autostart

import (
	"errors"

	"github.com/wingetupdater/winget-updater/internal/launch"
)

// ErrNotSupported is returned on platforms without a Run key.
var ErrNotSupported = errors.New("autostart is only supported on Windows")

const (
	// RunKeyPath is the per-user Run key under HKEY_CURRENT_USER.
	RunKeyPath = `SOFTWARE\Microsoft\Windows\CurrentVersion\Run`

	// ValueName is the Run key value owned by Winget Updater.
	ValueName = "WingetUpdater"
)

// Manager edits one value of a Run key.
type Manager struct {
	keyPath   string
	valueName string
}

// NewManager returns a manager for the standard Run key value.
func NewManager() *Manager {
	return &Manager{keyPath: RunKeyPath, valueName: ValueName}
}

// State describes the current registration.
type State struct {
	Enabled bool
	Command string
}

// TrayExecutablePath returns the tray executable installed alongside the
// running binary.
func TrayExecutablePath() (string, error) {
	return launch.SiblingPath(launch.TrayName)
}

// Command quotes path for use as a Run key value.
func Command(path string) string {
	return `"` + path + `"`
}

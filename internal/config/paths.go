// Package config provides settings and path management for Winget Updater.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDirName is the per-user application directory name.
const AppDirName = "WingetUpdater"

const (
	// SettingsFileName is the INI settings file inside AppDataDir.
	SettingsFileName = "settings.ini"

	// ServiceLogFileName is written when running under the service control manager.
	ServiceLogFileName = "winget_updater_service.log"

	// StandaloneLogFileName is written in standalone, debug and UI modes.
	StandaloneLogFileName = "winget_updater.log"

	// HistoryFileName is the SQLite check history database.
	HistoryFileName = "history.db"
)

// AppDataDir returns the application data directory.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\WingetUpdater
//   - Unix: ~/.config/winget-updater
func AppDataDir() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), AppDirName)
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, AppDirName)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "winget-updater")
		}
		return filepath.Join(homeDir, ".config", "winget-updater")
	}
	return filepath.Join(configDir, "winget-updater")
}

// SettingsPath returns the default settings.ini path.
func SettingsPath() string {
	return filepath.Join(AppDataDir(), SettingsFileName)
}

// LogDirectory returns the directory holding both log files.
func LogDirectory() string {
	return filepath.Join(AppDataDir(), "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// LogFilePath returns the log file for a run mode. Service mode gets its own
// file so that a standalone session and the service never share a log.
func LogFilePath(serviceMode bool) string {
	if serviceMode {
		return filepath.Join(LogDirectory(), ServiceLogFileName)
	}
	return filepath.Join(LogDirectory(), StandaloneLogFileName)
}

// HistoryPath returns the check history database path.
func HistoryPath() string {
	return filepath.Join(AppDataDir(), HistoryFileName)
}

// PIDFilePath returns the PID file written by a standalone daemon.
func PIDFilePath() string {
	return filepath.Join(AppDataDir(), "daemon.pid")
}

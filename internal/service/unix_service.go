//go:build !windows

package service

import "github.com/wingetupdater/winget-updater/internal/logging"

// RunAsService is not supported on non-Windows platforms.
func RunAsService(c Controller, logger *logging.Logger) error {
	return ErrNotSupported
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() (bool, error) {
	return false, nil
}

// IsInstalled always returns false on non-Windows platforms.
func IsInstalled() bool {
	return false
}

// Install is not supported on non-Windows platforms.
func Install(execPath string, logger *logging.Logger) error {
	return ErrNotSupported
}

// Uninstall is not supported on non-Windows platforms.
func Uninstall(logger *logging.Logger) error {
	return ErrNotSupported
}

// StartService is not supported on non-Windows platforms.
func StartService() error {
	return ErrNotSupported
}

// StopService is not supported on non-Windows platforms.
func StopService() error {
	return ErrNotSupported
}

// RestartService is not supported on non-Windows platforms.
func RestartService() error {
	return ErrNotSupported
}

// QueryStatus reports StatusNotInstalled on non-Windows platforms.
func QueryStatus() (Status, error) {
	return StatusNotInstalled, ErrNotSupported
}

// Package singleinstance keeps one tray and one standalone daemon per user
// session.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by Acquire when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock names. On Windows they name session-local mutexes; elsewhere lock
// files in the temp directory.
const (
	TrayName   = "WingetUpdaterTray"
	DaemonName = "WingetUpdaterDaemon"
)

// Lock is held until Release or process exit.
type Lock struct {
	name    string
	release func() error
}

// Name returns the lock name.
func (l *Lock) Name() string {
	return l.name
}

// Release frees the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	err := l.release()
	l.release = nil
	return err
}

// Package service provides Windows Service Control Manager integration for
// the update daemon. On other platforms the management functions return
// ErrNotSupported and the daemon runs as a regular process.
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/logging"
)

const (
	// ServiceName is the SCM service name.
	ServiceName = "WingetUpdaterService"

	// ServiceDisplayName is the name shown in services.msc.
	ServiceDisplayName = "Winget Updater Service"

	// ServiceDescription describes the service.
	ServiceDescription = "Monitors and notifies about available Winget updates"
)

// ServiceArgs are passed to the executable when the SCM starts it.
var ServiceArgs = []string{"--service"}

var (
	// ErrNotSupported is returned by service management on non-Windows platforms.
	ErrNotSupported = errors.New("windows service operations are not supported on this platform")

	// ErrServiceNotInstalled is returned when the service does not exist.
	ErrServiceNotInstalled = errors.New("service " + ServiceName + " is not installed")
)

// Status represents the current service status.
type Status int

const (
	StatusUnknown Status = iota
	StatusStopped
	StatusStartPending
	StatusStopPending
	StatusRunning
	StatusContinuePending
	StatusPausePending
	StatusPaused
	StatusNotInstalled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusStartPending:
		return "Start Pending"
	case StatusStopPending:
		return "Stop Pending"
	case StatusRunning:
		return "Running"
	case StatusContinuePending:
		return "Continue Pending"
	case StatusPausePending:
		return "Pause Pending"
	case StatusPaused:
		return "Paused"
	case StatusNotInstalled:
		return "Not Installed"
	default:
		return "Unknown"
	}
}

// Controller is what the SCM handler drives.
type Controller interface {
	Start() error
	Stop()
	Pause()
	Continue()

	// Done is closed when the daemon asks to exit on its own.
	Done() <-chan struct{}
}

// Service adapts a daemon to Controller.
type Service struct {
	daemon *daemon.Daemon
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Controller = (*Service)(nil)

// New creates a service wrapper around d.
func New(d *daemon.Daemon, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		daemon: d,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the daemon.
func (s *Service) Start() error {
	return s.daemon.Start(s.ctx)
}

// Stop cancels running work and stops the daemon.
func (s *Service) Stop() {
	s.cancel()
	s.daemon.Stop()
}

// Pause suspends scheduled checks. The IPC server keeps answering so the
// tray can still show status and run manual checks.
func (s *Service) Pause() {
	s.logger.Info().Msg("Service paused")
	s.daemon.Pause()
}

// Continue resumes scheduled checks.
func (s *Service) Continue() {
	s.logger.Info().Msg("Service continued")
	s.daemon.Resume()
}

// Done is closed when a client requested shutdown over IPC.
func (s *Service) Done() <-chan struct{} {
	return s.daemon.Done()
}

// GetExecutablePath returns the absolute path of the running executable.
func GetExecutablePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(exe)
}

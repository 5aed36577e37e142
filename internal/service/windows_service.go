//go:build windows

package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/wingetupdater/winget-updater/internal/logging"
)

// Event log IDs
const (
	eventStart   uint32 = 1
	eventStop    uint32 = 2
	eventPause   uint32 = 3
	eventError   uint32 = 10
	eventUnknown uint32 = 11
)

const stopWaitLimit = 30 * time.Second

// eventLogger is the subset of *eventlog.Log the handler writes to.
type eventLogger interface {
	Info(eid uint32, msg string) error
	Warning(eid uint32, msg string) error
	Error(eid uint32, msg string) error
}

// zerologEvents mirrors event log writes into the service log file.
type zerologEvents struct {
	elog   eventLogger
	logger *logging.Logger
}

func (z zerologEvents) Info(eid uint32, msg string) error {
	z.logger.Info().Uint32("event_id", eid).Msg(msg)
	if z.elog != nil {
		return z.elog.Info(eid, msg)
	}
	return nil
}

func (z zerologEvents) Warning(eid uint32, msg string) error {
	z.logger.Warn().Uint32("event_id", eid).Msg(msg)
	if z.elog != nil {
		return z.elog.Warning(eid, msg)
	}
	return nil
}

func (z zerologEvents) Error(eid uint32, msg string) error {
	z.logger.Error().Uint32("event_id", eid).Msg(msg)
	if z.elog != nil {
		return z.elog.Error(eid, msg)
	}
	return nil
}

// windowsService implements svc.Handler.
type windowsService struct {
	ctrl Controller
	elog eventLogger
}

// Execute implements svc.Handler.Execute.
// This is called by the Windows Service Control Manager.
func (ws *windowsService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPauseAndContinue

	changes <- svc.Status{State: svc.StartPending}

	if err := ws.ctrl.Start(); err != nil {
		ws.elog.Error(eventError, fmt.Sprintf("Failed to start service: %v", err))
		changes <- svc.Status{State: svc.StopPending}
		return false, 1
	}

	ws.elog.Info(eventStart, "Service started")
	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	stop := func(reason string) {
		ws.elog.Info(eventStop, reason)
		changes <- svc.Status{State: svc.StopPending}
		ws.ctrl.Stop()
		changes <- svc.Status{State: svc.Stopped}
	}

	done := ws.ctrl.Done()
	for {
		select {
		case <-done:
			stop("Service stopping on daemon request")
			return false, 0

		case c, ok := <-r:
			if !ok {
				stop("Service control channel closed")
				return false, 0
			}
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				stop("Service stop requested")
				return false, 0

			case svc.Pause:
				ws.elog.Info(eventPause, "Service pause requested")
				changes <- svc.Status{State: svc.PausePending}
				ws.ctrl.Pause()
				changes <- svc.Status{State: svc.Paused, Accepts: cmdsAccepted}

			case svc.Continue:
				ws.elog.Info(eventPause, "Service continue requested")
				changes <- svc.Status{State: svc.ContinuePending}
				ws.ctrl.Continue()
				changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

			default:
				ws.elog.Warning(eventUnknown, fmt.Sprintf("Unexpected control request: %d", c.Cmd))
			}
		}
	}
}

// RunAsService hands c to the SCM and blocks until the service stops.
func RunAsService(c Controller, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}

	events := zerologEvents{logger: logger}
	if elog, err := eventlog.Open(ServiceName); err == nil {
		defer elog.Close()
		events.elog = elog
	} else {
		logger.Warn().Err(err).Msg("Event log unavailable")
	}

	if err := svc.Run(ServiceName, &windowsService{ctrl: c, elog: events}); err != nil {
		events.Error(eventError, fmt.Sprintf("Service run failed: %v", err))
		return fmt.Errorf("failed to run service: %w", err)
	}
	return nil
}

// IsWindowsService returns true if running as a Windows service.
func IsWindowsService() (bool, error) {
	return svc.IsWindowsService()
}

// IsInstalled returns true if the service exists.
func IsInstalled() bool {
	m, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err != nil {
		return false
	}
	s.Close()
	return true
}

// binaryPath quotes the executable and arguments the way CreateService does.
func binaryPath(execPath string, args []string) string {
	parts := []string{windows.EscapeArg(execPath)}
	for _, a := range args {
		parts = append(parts, windows.EscapeArg(a))
	}
	return strings.Join(parts, " ")
}

// Install registers the service. An existing service is reconfigured in
// place so that running the installer twice succeeds.
func Install(execPath string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}

	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err == nil {
		defer s.Close()

		cfg, err := s.Config()
		if err != nil {
			return fmt.Errorf("failed to read service config: %w", err)
		}
		cfg.BinaryPathName = binaryPath(execPath, ServiceArgs)
		cfg.DisplayName = ServiceDisplayName
		cfg.Description = ServiceDescription
		cfg.StartType = mgr.StartAutomatic
		if err := s.UpdateConfig(cfg); err != nil {
			return fmt.Errorf("failed to update service: %w", err)
		}
		logger.Info().Str("service", ServiceName).Msg("Service already installed, configuration updated")
	} else {
		s, err = m.CreateService(ServiceName, execPath, mgr.Config{
			DisplayName: ServiceDisplayName,
			Description: ServiceDescription,
			StartType:   mgr.StartAutomatic,
		}, ServiceArgs...)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer s.Close()
		logger.Info().Str("service", ServiceName).Msg("Service installed")
	}

	err = s.SetRecoveryActions([]mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 60 * time.Second},
	}, 86400)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to set recovery actions")
	}

	// Fails with "registry key already exists" on reinstall.
	if err := eventlog.InstallAsEventCreate(ServiceName, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		logger.Debug().Err(err).Msg("Event log source not installed")
	}

	return nil
}

// Uninstall stops and removes the service. A missing service is not an error.
func Uninstall(logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}

	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			logger.Info().Str("service", ServiceName).Msg("Service not installed, nothing to remove")
			return nil
		}
		return fmt.Errorf("failed to open service: %w", err)
	}
	defer s.Close()

	if err := stopAndWait(s); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop service before removal")
	}

	if err := s.Delete(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_MARKED_FOR_DELETE) {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	if err := eventlog.Remove(ServiceName); err != nil {
		logger.Debug().Err(err).Msg("Event log source not removed")
	}

	logger.Info().Str("service", ServiceName).Msg("Service uninstalled")
	return nil
}

func openService() (*mgr.Mgr, *mgr.Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to service manager: %w", err)
	}
	s, err := m.OpenService(ServiceName)
	if err != nil {
		m.Disconnect()
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, nil, ErrServiceNotInstalled
		}
		return nil, nil, fmt.Errorf("failed to open service: %w", err)
	}
	return m, s, nil
}

// StartService starts the installed service. Starting a running service
// succeeds.
func StartService() error {
	m, s, err := openService()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// StopService stops the service and waits until it reports Stopped.
func StopService() error {
	m, s, err := openService()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	return stopAndWait(s)
}

// RestartService stops then starts the service.
func RestartService() error {
	if err := StopService(); err != nil {
		return err
	}
	return StartService()
}

func stopAndWait(s *mgr.Service) error {
	status, err := s.Query()
	if err != nil {
		return fmt.Errorf("failed to query service status: %w", err)
	}
	if status.State == svc.Stopped {
		return nil
	}

	if status.State != svc.StopPending {
		if _, err := s.Control(svc.Stop); err != nil && !errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return fmt.Errorf("failed to stop service: %w", err)
		}
	}

	deadline := time.Now().Add(stopWaitLimit)
	for time.Now().Before(deadline) {
		status, err = s.Query()
		if err != nil {
			return fmt.Errorf("failed to query service status: %w", err)
		}
		if status.State == svc.Stopped {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("service did not stop within %s", stopWaitLimit)
}

// QueryStatus returns the current service status.
func QueryStatus() (Status, error) {
	m, s, err := openService()
	if errors.Is(err, ErrServiceNotInstalled) {
		return StatusNotInstalled, nil
	}
	if err != nil {
		return StatusUnknown, err
	}
	defer m.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to query service status: %w", err)
	}
	return svcStateToStatus(status.State), nil
}

// svcStateToStatus converts Windows service state to our Status type.
func svcStateToStatus(state svc.State) Status {
	switch state {
	case svc.Stopped:
		return StatusStopped
	case svc.StartPending:
		return StatusStartPending
	case svc.StopPending:
		return StatusStopPending
	case svc.Running:
		return StatusRunning
	case svc.ContinuePending:
		return StatusContinuePending
	case svc.PausePending:
		return StatusPausePending
	case svc.Paused:
		return StatusPaused
	default:
		return StatusUnknown
	}
}

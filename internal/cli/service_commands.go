package cli

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/elevation"
	"github.com/wingetupdater/winget-updater/internal/service"
	"github.com/wingetupdater/winget-updater/internal/version"
)

// newServiceCmd creates the 'service' command group for Windows service management.
func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Windows service management commands",
		Long: `Manage the Winget Updater Windows service.

The service runs the update checker in the background, independent of any
logged-in user, and starts automatically at boot.

Available commands:
  install    Install the service (updates an existing installation)
  uninstall  Stop and remove the service
  start      Start the service
  stop       Stop the service
  restart    Restart the service
  status     Show service status

Management commands need administrator rights. When run from a normal
prompt they ask for elevation through UAC.`,
	}

	cmd.AddCommand(newServiceActionCmd("install", "Install the Windows service", func() error {
		execPath, err := service.GetExecutablePath()
		if err != nil {
			return err
		}
		return service.Install(execPath, GetLogger())
	}))
	cmd.AddCommand(newServiceActionCmd("uninstall", "Uninstall the Windows service", func() error {
		return service.Uninstall(GetLogger())
	}))
	cmd.AddCommand(newServiceActionCmd("start", "Start the Windows service", service.StartService))
	cmd.AddCommand(newServiceActionCmd("stop", "Stop the Windows service", service.StopService))
	cmd.AddCommand(newServiceActionCmd("restart", "Restart the Windows service", service.RestartService))
	cmd.AddCommand(newServiceStatusCmd())
	cmd.AddCommand(newServiceRunCmd())

	return cmd
}

// newServiceActionCmd builds one management subcommand. Without admin
// rights the same subcommand is re-run through UAC.
func newServiceActionCmd(action, short string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtime.GOOS != "windows" {
				return service.ErrNotSupported
			}

			if !elevation.IsElevated() {
				GetLogger().Info().Str("action", action).Msg("Requesting administrator rights")
				if err := elevation.ServiceCommand(action); err != nil {
					return fmt.Errorf("service %s failed: %w", action, err)
				}
				printSuccess(cmd.OutOrStdout(), "Service %s completed", action)
				return nil
			}

			if err := run(); err != nil {
				return fmt.Errorf("service %s failed: %w", action, err)
			}
			printSuccess(cmd.OutOrStdout(), "Service %s completed", action)
			return nil
		},
	}
}

// newServiceStatusCmd creates the 'service status' command.
func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			status, err := service.QueryStatus()
			if err != nil && !errors.Is(err, service.ErrNotSupported) {
				return fmt.Errorf("failed to query service status: %w", err)
			}

			fmt.Fprintf(out, "Service: %s (%s)\n", service.ServiceDisplayName, service.ServiceName)
			c := dimColor
			switch status {
			case service.StatusRunning:
				c = successColor
			case service.StatusStopped, service.StatusPaused:
				c = warningColor
			}
			fmt.Fprint(out, "Status:  ")
			c.Fprintln(out, status.String())
			return nil
		},
	}
}

// newServiceRunCmd is what the service control manager executes.
func newServiceRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run under the service control manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			isService, err := service.IsWindowsService()
			if err != nil {
				return fmt.Errorf("failed to detect service context: %w", err)
			}
			if !isService {
				return fmt.Errorf("not started by the service control manager; use 'winget-updater run' instead")
			}
			return runService(cmd)
		},
	}
}

// runService hosts the daemon for the SCM. Logs go to the service log
// file, the event log and the in-memory buffer served to the tray.
func runService(cmd *cobra.Command) error {
	if err := config.EnsureLogDirectory(); err != nil {
		daemon.WriteStartupLog("failed to create log directory: %v", err)
	}

	log, writer := daemon.NewDaemonLogger(string(daemon.ModeService), daemon.LogConfig{
		LogFile: config.LogFilePath(true),
	})
	defer writer.Close()

	d, err := daemon.New(cmd.Context(), daemon.Config{
		Mode:   daemon.ModeService,
		Logs:   writer.Buffer(),
		Logger: log,
	})
	if err != nil {
		daemon.WriteStartupLog("service setup failed: %v", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	log.Info().Str("version", version.String()).Msg("Service starting")
	if err := service.RunAsService(service.New(d, log), log); err != nil {
		daemon.WriteStartupLog("service run failed: %v", err)
		return err
	}
	log.Info().Msg("Service stopped")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/elevation"
	"github.com/wingetupdater/winget-updater/internal/launch"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/service"
	"github.com/wingetupdater/winget-updater/internal/singleinstance"
	"github.com/wingetupdater/winget-updater/internal/version"
)

// newRunCmd creates the 'run' command: the daemon in the user session.
func newRunCmd() *cobra.Command {
	var (
		mode      string
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the update checker in this session",
		Long: `Run the update checker as a standalone process in the current session.

The standalone checker does the same work as the Windows service: it checks
at the configured times, keeps the update list and serves the tray over IPC.
It refuses to start while the service or another standalone checker is
active.

Press Ctrl+C to stop.

Examples:
  winget-updater run
  winget-updater run --mode debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := daemon.ParseMode(mode)
			if err != nil {
				return err
			}
			if m.IsService() {
				return fmt.Errorf("use 'winget-updater service run' for service mode")
			}
			if m == daemon.ModeDebug {
				logging.EnableDebug()
			}
			return runStandalone(cmd.Context(), cmd, m, skipCheck)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(daemon.ModeStandalone), "Run mode: standalone or debug")
	cmd.Flags().BoolVar(&skipCheck, "skip-initial-check", false, "Do not check for updates at startup")

	return cmd
}

// runStandalone hosts the daemon until ctx is cancelled or a client sends
// Shutdown.
func runStandalone(ctx context.Context, cmd *cobra.Command, mode daemon.Mode, skipCheck bool) error {
	detector := service.NewDetector()
	if address != "" {
		detector.Address = address
	}
	if blocked, reason := detector.ShouldBlockStandalone(ctx); blocked {
		daemon.WriteStartupLog("standalone start blocked: %s", reason)
		return fmt.Errorf("%w: %s", daemon.ErrAlreadyRunning, reason)
	}

	lock, err := singleinstance.Acquire(singleinstance.DaemonName)
	if err != nil {
		daemon.WriteStartupLog("standalone start blocked: %v", err)
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	defer lock.Release()

	if err := config.EnsureLogDirectory(); err != nil {
		daemon.WriteStartupLog("failed to create log directory: %v", err)
	}

	log, writer := daemon.NewDaemonLogger(string(mode), daemon.LogConfig{
		LogFile: config.LogFilePath(false),
		Console: isTerminal(os.Stderr),
	})
	defer writer.Close()

	d, err := daemon.New(ctx, daemon.Config{
		Mode:             mode,
		Address:          address,
		PIDFile:          config.PIDFilePath(),
		Logs:             writer.Buffer(),
		Logger:           log,
		SkipInitialCheck: skipCheck,
	})
	if err != nil {
		daemon.WriteStartupLog("daemon setup failed: %v", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		daemon.WriteStartupLog("daemon start failed: %v", err)
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	daemon.ClearStartupLog()

	if isTerminal(os.Stdout) {
		out := cmd.OutOrStdout()
		headerColor.Fprintln(out, "Winget Updater "+version.String())
		fmt.Fprintf(out, "Mode:      %s\n", mode)
		fmt.Fprintf(out, "Endpoint:  %s\n", daemonAddress())
		fmt.Fprintf(out, "Settings:  %s\n", config.SettingsPath())
		fmt.Fprintf(out, "Log file:  %s\n", config.LogFilePath(false))
		dimColor.Fprintln(out, "Press Ctrl+C to stop")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case <-d.Done():
		log.Info().Msg("Shutdown requested over IPC")
	}
	d.Stop()
	return nil
}

// newLaunchCmd creates the 'launch' command, also the default action.
func newLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Start the tray, and the checker if none is running",
		Long: `Start the notification area icon next to a running checker.

If the Windows service is installed but stopped and this prompt has
administrator rights, the service is started. Otherwise the tray starts a
standalone checker in this session when it finds none.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd)
		},
	}
}

func runLaunch(cmd *cobra.Command) error {
	log := GetLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	detector := service.NewDetector()
	if address != "" {
		detector.Address = address
	}
	state := detector.Detect(ctx)

	switch {
	case state.ServiceMode:
		log.Info().Msg("Service is running, starting tray only")
	case state.Responding || state.StandalonePID > 0:
		log.Info().Int("pid", state.StandalonePID).Msg("Standalone checker is running, starting tray only")
	case service.IsInstalled() && elevation.IsElevated():
		log.Info().Msg("Starting installed service")
		if err := service.StartService(); err != nil {
			log.Warn().Err(err).Msg("Failed to start service, tray will start a standalone checker")
		} else {
			waitForService(ctx, 10*time.Second)
		}
	}

	if err := launch.StartSibling(launch.TrayName); err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), "Tray started")
	return nil
}

// waitForService polls the SCM until the service reports running.
func waitForService(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status, err := service.QueryStatus(); err == nil && status == service.StatusRunning {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// newUICmd creates the 'ui' command: the tray alone.
func newUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Start the tray icon only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := launch.StartSibling(launch.TrayName)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("tray executable not found next to %s: %w", os.Args[0], err)
			}
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Tray started")
			return nil
		},
	}
}

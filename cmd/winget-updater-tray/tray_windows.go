//go:build windows

package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/systray"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/launch"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/notify"
	"github.com/wingetupdater/winget-updater/internal/singleinstance"
	"github.com/wingetupdater/winget-updater/internal/trayicon"
)

const (
	pollInterval = 60 * time.Second

	trayLogName = "winget_updater_tray.log"
)

// trayApp manages the system tray application state.
type trayApp struct {
	client   *ipc.Client
	logger   *logging.Logger
	notifier *notify.Notifier
	state    trayState

	ctx    context.Context
	cancel context.CancelFunc

	// startedDaemon is set when the tray launched a standalone checker,
	// which is shut down again on Exit.
	startedDaemon atomic.Bool

	iconMu    sync.Mutex
	iconCount int
	iconOK    bool
	iconSet   bool

	mStatus   *systray.MenuItem
	mCheck    *systray.MenuItem
	mShow     *systray.MenuItem
	mInstall  *systray.MenuItem
	mSettings *systray.MenuItem
	mLogs     *systray.MenuItem
	mExit     *systray.MenuItem

	refresh chan struct{}
}

var app *trayApp

// runTray starts the system tray application.
func runTray() {
	lock, err := singleinstance.Acquire(singleinstance.TrayName)
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		return
	}
	if err != nil {
		daemon.WriteStartupLog("tray: %v", err)
		os.Exit(1)
	}
	defer lock.Release()

	_ = config.EnsureLogDirectory()
	log, writer := daemon.NewDaemonLogger("tray", daemon.LogConfig{
		LogFile: filepath.Join(config.LogDirectory(), trayLogName),
	})
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	app = &trayApp{
		client:   ipc.NewClient(),
		logger:   log,
		notifier: notify.NewNotifier(notify.DefaultConfig(), log.Component("Notify")),
		ctx:      ctx,
		cancel:   cancel,
		refresh:  make(chan struct{}, 1),
	}
	app.client.SetTimeout(5 * time.Second)

	systray.Run(onReady, onExit)
}

func onReady() {
	a := app

	a.setIcon(0, false)
	systray.SetTitle("Winget Updater")
	systray.SetTooltip("Winget Updater - Connecting...")

	a.mStatus = systray.AddMenuItem("Status: Connecting...", "Checker status")
	a.mStatus.Disable()

	systray.AddSeparator()

	a.mCheck = systray.AddMenuItem("Check for Updates", "Run winget now")
	a.mShow = systray.AddMenuItem("Show Updates", "List the available updates")
	a.mInstall = systray.AddMenuItem("Install All Updates", "Run winget upgrade --all")
	a.mInstall.Disable()

	systray.AddSeparator()

	a.mSettings = systray.AddMenuItem("Settings", "Change check times and notifications")
	a.mLogs = systray.AddMenuItem("Open Logs", "Open the log folder")

	systray.AddSeparator()

	a.mExit = systray.AddMenuItem("Exit", "Close the tray icon")

	go a.pollLoop()
	go a.handleMenuClicks()
}

func onExit() {
	a := app
	if a == nil {
		return
	}
	if a.startedDaemon.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := a.client.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to stop standalone checker")
		}
		cancel()
	}
	a.cancel()
	a.logger.Info().Msg("Tray exited")
}

// pollLoop connects to a checker, then refreshes the status every minute.
func (a *trayApp) pollLoop() {
	a.connect()
	a.refreshStatus()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-a.refresh:
		case <-a.ctx.Done():
			return
		}
		if !a.state.snapshot().Connected {
			a.connect()
		}
		a.refreshStatus()
	}
}

// connect starts a standalone checker when nothing answers.
func (a *trayApp) connect() {
	if a.client.Ping(a.ctx) == nil {
		return
	}
	err := launch.EnsureDaemon(a.ctx, a.client, launch.DaemonOptions{PIDFile: config.PIDFilePath()})
	if err != nil {
		a.logger.Warn().Err(err).Msg("No checker available")
		return
	}
	a.startedDaemon.Store(true)
	a.logger.Info().Msg("Started standalone checker")
}

func (a *trayApp) requestRefresh() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

// refreshStatus polls the checker and updates icon, tooltip and menu.
func (a *trayApp) refreshStatus() {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	status, err := a.client.GetStatus(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Status poll failed")
	}
	if count := a.state.observe(status, err); count > 0 {
		a.syncNotifier(ctx)
		a.notifier.UpdatesAvailable(count)
	}
	a.updateUI()
}

// syncNotifier follows the notify_on_updates setting.
func (a *trayApp) syncNotifier(ctx context.Context) {
	settings, err := a.client.GetSettings(ctx)
	if err != nil {
		return
	}
	a.notifier.SetEnabled(settings.NotifyOnUpdates)
}

func (a *trayApp) updateUI() {
	snap := a.state.snapshot()

	a.setIcon(snap.Count, snap.Connected)
	systray.SetTooltip(snap.Tooltip())
	a.mStatus.SetTitle(snap.StatusLine())

	if snap.Connected && !snap.Checking {
		a.mCheck.Enable()
	} else {
		a.mCheck.Disable()
	}
	if snap.CanInstall() {
		a.mInstall.Enable()
	} else {
		a.mInstall.Disable()
	}
}

// setIcon redraws the icon when the badge or connection changed.
func (a *trayApp) setIcon(count int, connected bool) {
	a.iconMu.Lock()
	defer a.iconMu.Unlock()

	if a.iconSet && a.iconCount == count && a.iconOK == connected {
		return
	}
	data, err := trayicon.ICO(count, connected)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to render tray icon")
		return
	}
	systray.SetIcon(data)
	a.iconCount, a.iconOK, a.iconSet = count, connected, true
}

// handleMenuClicks processes menu item clicks.
func (a *trayApp) handleMenuClicks() {
	for {
		select {
		case <-a.mCheck.ClickedCh:
			go a.checkNow()

		case <-a.mShow.ClickedCh:
			a.openGUI("updates")

		case <-a.mInstall.ClickedCh:
			go a.installAll()

		case <-a.mSettings.ClickedCh:
			a.openGUI("settings")

		case <-a.mLogs.ClickedCh:
			a.openLogs()

		case <-a.mExit.ClickedCh:
			systray.Quit()
			return

		case <-a.ctx.Done():
			return
		}
	}
}

// checkNow runs a check and reports the result as a notification.
func (a *trayApp) checkNow() {
	a.state.setChecking(true)
	a.updateUI()

	result, err := a.client.CheckUpdates(a.ctx, false)
	if err != nil {
		a.state.setChecking(false)
		if errors.Is(err, ipc.ErrBusy) {
			a.logger.Info().Msg("Check already running")
		} else {
			a.logger.Error().Err(err).Msg("Manual check failed")
			a.notifier.Alert("Update check failed: " + err.Error())
		}
		a.requestRefresh()
		return
	}

	a.logger.Info().Int("updates", result.UpdateCount).Str("duration", result.Duration).Msg("Manual check complete")
	a.state.checked(result.UpdateCount)
	a.syncNotifier(a.ctx)
	if announceCheck(a.state.snapshot().ServiceMode, result) {
		a.notifier.CheckComplete(result.UpdateCount)
	}
	a.updateUI()
}

// installAll runs winget upgrade --all through the checker.
func (a *trayApp) installAll() {
	a.mInstall.Disable()
	a.state.setChecking(true)
	a.updateUI()

	a.syncNotifier(a.ctx)
	if a.state.snapshot().ServiceMode {
		a.notifier.Installing()
	}

	result, err := a.client.InstallAll(a.ctx)
	a.state.setChecking(false)
	if err != nil {
		a.logger.Error().Err(err).Msg("Install all failed")
		a.notifier.Alert("Installing updates failed: " + err.Error())
		a.requestRefresh()
		return
	}

	a.logger.Info().
		Int("exit_code", result.ExitCode).
		Int("remaining", len(result.Remaining)).
		Str("duration", result.Duration).
		Msg("Install all finished")
	a.state.checked(len(result.Remaining))
	a.notifier.CheckComplete(len(result.Remaining))
	a.updateUI()
}

// openGUI starts the GUI on one of its windows.
func (a *trayApp) openGUI(window string) {
	if err := launch.StartSibling(launch.GUIName, window); err != nil {
		a.logger.Error().Err(err).Str("window", window).Msg("Failed to open window")
	}
}

// openLogs opens the log folder in Explorer.
func (a *trayApp) openLogs() {
	dir := config.LogDirectory()
	if err := config.EnsureLogDirectory(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to create log directory")
	}
	if err := exec.Command("explorer.exe", dir).Start(); err != nil {
		a.logger.Error().Err(err).Str("dir", dir).Msg("Failed to open log directory")
	}
}

// Package daemon runs the background update checker: it owns the update list,
// the daily schedule and the check history, and serves them to the tray, GUI
// and CLI over IPC. The same daemon runs under the service control manager
// and as a standalone user-session process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wingetupdater/winget-updater/internal/checker"
	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/notify"
	"github.com/wingetupdater/winget-updater/internal/scheduler"
	"github.com/wingetupdater/winget-updater/internal/version"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// Mode is fixed at startup for the lifetime of the process.
type Mode string

const (
	ModeService    Mode = "service"
	ModeStandalone Mode = "standalone"
	ModeDebug      Mode = "debug"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeService, ModeStandalone, ModeDebug:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown run mode %q", s)
}

// IsService reports whether the daemon runs under the service control manager.
func (m Mode) IsService() bool {
	return m == ModeService
}

var (
	// ErrAlreadyRunning is returned by Start when another daemon holds the
	// IPC address or the PID file.
	ErrAlreadyRunning = ipc.ErrAlreadyRunning

	// ErrHistoryUnavailable is returned by GetHistory when the database
	// could not be opened.
	ErrHistoryUnavailable = errors.New("check history is unavailable")
)

// Config holds daemon configuration. Zero values select the defaults.
type Config struct {
	Mode Mode

	// Store persists settings.ini. Nil uses config.SettingsPath().
	Store *config.Store

	// Runner executes winget. Nil uses the winget on PATH.
	Runner winget.Runner

	// HistoryPath is the SQLite database. Empty uses config.HistoryPath().
	HistoryPath string

	// NoHistory disables the history database.
	NoHistory bool

	// Address is the pipe name or socket path. Empty uses ipc.DefaultAddress().
	Address string

	// NoIPC skips the IPC server. Used by tests that call the handler directly.
	NoIPC bool

	// PIDFile is written while running. Empty disables it.
	PIDFile string

	// Logs is the ring buffer served by GetRecentLogs.
	Logs *LogBuffer

	// Notifier shows desktop notifications in standalone mode.
	Notifier *notify.Notifier

	Logger *logging.Logger

	// SkipInitialCheck suppresses the check normally run by Start.
	SkipInitialCheck bool

	// Now overrides the clock.
	Now func() time.Time
}

// Daemon implements ipc.Handler.
type Daemon struct {
	cfg      Config
	logger   *logging.Logger
	store    *config.Store
	client   *winget.Client
	checker  *checker.Checker
	sched    *scheduler.Scheduler
	history  *history.Store
	notifier *notify.Notifier
	server   *ipc.Server
	pidFile  *PIDFile
	now      func() time.Time

	mu       sync.RWMutex
	settings *config.Settings
	started  time.Time
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

var _ ipc.Handler = (*Daemon)(nil)

// New loads settings and wires the daemon's components. It does not start
// anything; call Start or Run.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStandalone
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Store == nil {
		cfg.Store = config.NewOSStore("")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.Component("Daemon")

	settings, err := cfg.Store.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      cfg.Store,
		now:        cfg.Now,
		settings:   settings,
		shutdownCh: make(chan struct{}),
	}

	if !cfg.NoHistory {
		path := cfg.HistoryPath
		if path == "" {
			path = config.HistoryPath()
		}
		h, err := history.Open(ctx, path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Check history disabled")
		} else {
			d.history = h
		}
	}

	d.client = winget.NewClient(cfg.Runner, cfg.Logger.Component("Winget"))

	checkerOpts := []checker.Option{
		checker.WithStore(d.store),
		checker.WithLogger(cfg.Logger.Component("Checker")),
		checker.WithClock(cfg.Now),
	}
	if d.history != nil {
		checkerOpts = append(checkerOpts, checker.WithHistory(d.history))
	}
	d.checker = checker.New(d.client, checkerOpts...)
	d.checker.SetOptions(wingetOptions(settings))
	if settings.LastCheck != nil {
		d.checker.SetLastCheck(*settings.LastCheck)
	}

	d.notifier = cfg.Notifier
	if d.notifier == nil {
		d.notifier = notify.NewNotifier(notify.ConfigFromSettings(settings), cfg.Logger.Component("Notify"))
	}
	d.notifier.SetEnabled(settings.NotifyOnUpdates)

	// Under the SCM there is no desktop; the tray notifies instead.
	if !cfg.Mode.IsService() {
		d.checker.Subscribe(d.notifyChange)
	}

	d.sched = scheduler.New(d.scheduledCheck,
		scheduler.WithLogger(cfg.Logger.Component("Scheduler")),
		scheduler.WithLastCheck(d.checker.LastCheck),
		scheduler.WithClock(cfg.Now),
	)

	if cfg.PIDFile != "" {
		d.pidFile = NewPIDFile(cfg.PIDFile)
	}

	return d, nil
}

// Start launches the IPC server and the scheduler and kicks off the initial
// check. It returns ErrAlreadyRunning if another daemon is active.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already started")
	}

	if d.pidFile != nil {
		if pid := d.pidFile.Running(); pid != 0 && pid != os.Getpid() {
			return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if !d.cfg.NoIPC {
		address := d.cfg.Address
		if address == "" {
			address = ipc.DefaultAddress()
		}
		d.server = ipc.NewServerWithPath(d, d.cfg.Logger.Component("IPC"), address)
		if err := d.server.Start(); err != nil {
			d.cancel()
			d.server = nil
			return err
		}
	}

	if d.pidFile != nil {
		if err := d.pidFile.Write(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to write PID file")
		}
	}

	if d.history != nil {
		if n, err := d.history.Prune(d.ctx, history.DefaultKeep); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to prune check history")
		} else if n > 0 {
			d.logger.Debug().Int64("removed", n).Msg("Pruned check history")
		}
	}

	d.sched.Start(d.ctx, d.settings)
	d.started = d.now()
	d.running = true

	d.logger.Info().
		Str("mode", string(d.cfg.Mode)).
		Str("version", version.Version).
		Int("pid", os.Getpid()).
		Msg("Daemon started")

	if !d.cfg.SkipInitialCheck {
		d.goCheck(history.TriggerStartup)
	}
	return nil
}

// Stop cancels running checks, stops the scheduler and the IPC server and
// waits for background work. Safe to call more than once.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")
	d.cancel()

	if d.server != nil {
		d.server.Stop()
	}
	d.sched.Stop()
	d.wg.Wait()

	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close check history")
		}
	}
	if d.pidFile != nil {
		d.pidFile.Remove()
	}

	d.logger.Info().Msg("Daemon stopped")
}

// Run starts the daemon and blocks until ctx is cancelled or a client asks
// for shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("Shutdown signal received")
	case <-d.shutdownCh:
		d.logger.Info().Msg("Shutdown requested over IPC")
	}

	d.Stop()
	return nil
}

// Done is closed when a client requests shutdown.
func (d *Daemon) Done() <-chan struct{} {
	return d.shutdownCh
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Mode returns the run mode.
func (d *Daemon) Mode() Mode {
	return d.cfg.Mode
}

// Checker exposes the update checker.
func (d *Daemon) Checker() *checker.Checker {
	return d.checker
}

// Scheduler exposes the check scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.sched
}

// Pause suspends scheduled checks. Manual checks keep working.
func (d *Daemon) Pause() {
	d.sched.Pause()
}

// Resume re-enables scheduled checks.
func (d *Daemon) Resume() {
	d.sched.Resume()
}

func (d *Daemon) scheduledCheck(ctx context.Context, trigger string) {
	d.runCheck(ctx, trigger)
}

// goCheck runs a non-forced check in the background. It is a no-op when
// the daemon is not running.
func (d *Daemon) goCheck(trigger string) {
	ctx := d.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCheck(ctx, trigger)
	}()
}

func (d *Daemon) runCheck(ctx context.Context, trigger string) {
	_, err := d.checker.CheckWithTrigger(ctx, false, trigger)
	switch {
	case err == nil:
	case errors.Is(err, checker.ErrCheckInProgress):
		d.logger.Debug().Str("trigger", trigger).Msg("Skipping check, another one is running")
	case ctx.Err() != nil:
		d.logger.Debug().Str("trigger", trigger).Msg("Check cancelled")
	}
}

func (d *Daemon) notifyChange(previous, current int, _ []winget.Package) {
	if notify.ShouldNotifyChange(previous, current) {
		d.notifier.UpdatesAvailable(current)
	}
}

func (d *Daemon) currentSettings() *config.Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings.Clone()
}

// GetStatus implements ipc.Handler.
func (d *Daemon) GetStatus() *ipc.StatusData {
	d.mu.RLock()
	started := d.started
	autoCheck := d.settings.AutoCheck
	d.mu.RUnlock()

	state := "running"
	if d.sched.Paused() {
		state = "paused"
	}

	status := &ipc.StatusData{
		ServiceMode:     d.cfg.Mode.IsService(),
		Mode:            string(d.cfg.Mode),
		State:           state,
		Version:         version.Version,
		UpdateCount:     d.checker.Count(),
		LastCheck:       timePtr(d.checker.LastCheck()),
		NextCheck:       timePtr(d.sched.Next()),
		CheckInProgress: d.checker.InProgress(),
		AutoCheck:       autoCheck,
		PID:             os.Getpid(),
	}
	if err := d.checker.LastError(); err != nil {
		status.LastError = err.Error()
	}
	if !started.IsZero() {
		status.Uptime = d.now().Sub(started).Round(time.Second).String()
	}
	return status
}

// CheckUpdates implements ipc.Handler.
func (d *Daemon) CheckUpdates(ctx context.Context, force bool) (*ipc.CheckResultData, error) {
	res, err := d.checker.CheckWithTrigger(ctx, force, history.TriggerManual)
	if err != nil {
		return nil, err
	}
	return &ipc.CheckResultData{
		UpdateCount: len(res.Updates),
		Previous:    res.Previous,
		Updates:     res.Updates,
		CheckedAt:   res.StartedAt,
		Duration:    res.Duration.Round(time.Millisecond).String(),
	}, nil
}

// GetUpdates implements ipc.Handler.
func (d *Daemon) GetUpdates() *ipc.UpdatesData {
	return &ipc.UpdatesData{
		Updates:   d.checker.Updates(),
		LastCheck: timePtr(d.checker.LastCheck()),
	}
}

// GetLastCheck implements ipc.Handler.
func (d *Daemon) GetLastCheck() *ipc.LastCheckData {
	return &ipc.LastCheckData{LastCheck: timePtr(d.checker.LastCheck())}
}

// GetSettings implements ipc.Handler.
func (d *Daemon) GetSettings() (*config.Settings, error) {
	s := d.currentSettings()
	s.LastCheck = timePtr(d.checker.LastCheck())
	return s, nil
}

// SaveSettings validates and persists s, then applies it: the scheduler is
// reloaded, notifications toggled, filters updated, and a fresh check runs
// so the list reflects the new filters. last_check is owned by the daemon
// and not taken from s.
func (d *Daemon) SaveSettings(s *config.Settings) (*config.Settings, error) {
	if s == nil {
		return nil, fmt.Errorf("no settings given")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	saved := s.Clone()
	saved.LastCheck = timePtr(d.checker.LastCheck())
	if err := d.store.Save(saved); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	d.mu.Lock()
	d.settings = saved.Clone()
	running := d.running
	d.mu.Unlock()

	d.checker.SetOptions(wingetOptions(saved))
	d.notifier.SetEnabled(saved.NotifyOnUpdates)

	d.logger.Info().
		Str("morning_check", saved.MorningCheck).
		Str("afternoon_check", saved.AfternoonCheck).
		Bool("auto_check", saved.AutoCheck).
		Bool("notify", saved.NotifyOnUpdates).
		Msg("Settings saved")

	if running {
		d.sched.Reload(saved)
		d.goCheck(history.TriggerAfterSave)
	}
	return saved.Clone(), nil
}

// InstallAll implements ipc.Handler.
func (d *Daemon) InstallAll(ctx context.Context) (*winget.UpgradeResult, error) {
	if !d.cfg.Mode.IsService() {
		d.notifier.Installing()
	}
	res, err := d.checker.InstallAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to install updates: %w", err)
	}
	return res, nil
}

// GetHistory implements ipc.Handler.
func (d *Daemon) GetHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	if d.history == nil {
		return nil, ErrHistoryUnavailable
	}
	return d.history.Recent(ctx, limit)
}

// GetRecentLogs implements ipc.Handler.
func (d *Daemon) GetRecentLogs(count int) []ipc.LogEntryData {
	if d.cfg.Logs == nil {
		return []ipc.LogEntryData{}
	}
	return d.cfg.Logs.GetRecent(count)
}

// Shutdown implements ipc.Handler. It only signals Run; the caller's IPC
// response is sent before the server stops.
func (d *Daemon) Shutdown() error {
	d.shutdownOnce.Do(func() {
		d.logger.Info().Msg("Shutdown requested")
		close(d.shutdownCh)
	})
	return nil
}

func wingetOptions(s *config.Settings) winget.Options {
	return winget.Options{
		IncludePinned:  s.IncludePinned,
		IncludeUnknown: s.IncludeUnknown,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

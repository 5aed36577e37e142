package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/wingetupdater/winget-updater/internal/checker"
	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/notify"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

const (
	twoUpdatesJSON = `{"Sources":[{"Name":"winget","Packages":[
		{"Name":"Git","Id":"Git.Git","Version":"2.40.0","AvailableVersion":"2.41.0"},
		{"Name":"7-Zip","Id":"7zip.7zip","Version":"22.01","AvailableVersion":"23.01"}]}]}`
	noUpdatesJSON = `{"Sources":[{"Name":"winget","Packages":[]}]}`
)

// scriptedWinget answers JSON listings with a configurable document and
// empties the list on `upgrade --all`.
type scriptedWinget struct {
	mu       sync.Mutex
	listJSON string
	failList bool
	block    chan struct{}
	entered  chan struct{}
}

func newScriptedWinget(listJSON string) *scriptedWinget {
	return &scriptedWinget{listJSON: listJSON}
}

func (w *scriptedWinget) Run(ctx context.Context, args ...string) (*winget.Result, error) {
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "--format json"):
		w.mu.Lock()
		block, entered := w.block, w.entered
		w.mu.Unlock()
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.failList {
			return &winget.Result{ExitCode: 1, Stderr: "source unavailable"}, nil
		}
		return &winget.Result{Stdout: w.listJSON}, nil

	case strings.HasPrefix(joined, "upgrade --all"):
		w.mu.Lock()
		w.listJSON = noUpdatesJSON
		w.mu.Unlock()
		return &winget.Result{Stdout: "Successfully installed"}, nil
	}
	return &winget.Result{ExitCode: 1, Stderr: "Unrecognized command"}, nil
}

func (w *scriptedWinget) setFail(fail bool) {
	w.mu.Lock()
	w.failList = fail
	w.mu.Unlock()
}

type sentNotifications struct {
	mu   sync.Mutex
	sent []string
}

func (s *sentNotifications) send(title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+": "+message)
	return nil
}

func (s *sentNotifications) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type testDaemon struct {
	*Daemon
	winget   *scriptedWinget
	store    *config.Store
	notified *sentNotifications
}

func newTestDaemon(t *testing.T, mode Mode, listJSON string) *testDaemon {
	t.Helper()

	store := config.NewStore(afero.NewMemMapFs(), "/appdata/settings.ini")
	runner := newScriptedWinget(listJSON)
	notified := &sentNotifications{}
	notifier := notify.NewNotifier(notify.DefaultConfig(), nil)
	notifier.SetSender(notified.send)

	d, err := New(context.Background(), Config{
		Mode:             mode,
		Store:            store,
		Runner:           runner,
		HistoryPath:      filepath.Join(t.TempDir(), "history.db"),
		NoIPC:            true,
		Notifier:         notifier,
		Logs:             NewLogBuffer(10),
		SkipInitialCheck: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		if d.history != nil {
			d.history.Close()
		}
	})
	return &testDaemon{Daemon: d, winget: runner, store: store, notified: notified}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"service", "standalone", "debug"} {
		m, err := ParseMode(s)
		if err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseMode("tray"); err == nil {
		t.Error("ParseMode(tray) should fail")
	}
	if !ModeService.IsService() || ModeDebug.IsService() {
		t.Error("IsService mismatch")
	}
}

func TestNewCreatesDefaultSettings(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, noUpdatesJSON)

	s, err := d.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.MorningCheck != config.DefaultMorningCheck || s.AfternoonCheck != config.DefaultAfternoonCheck {
		t.Errorf("settings = %+v, want defaults", s)
	}
	if s.LastCheck != nil {
		t.Errorf("LastCheck = %v, want nil before any check", s.LastCheck)
	}
}

func TestCheckUpdates(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, twoUpdatesJSON)
	ctx := context.Background()

	res, err := d.CheckUpdates(ctx, false)
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if res.UpdateCount != 2 || len(res.Updates) != 2 || res.Previous != 0 {
		t.Errorf("result = %+v, want 2 updates from 0", res)
	}

	updates := d.GetUpdates()
	if len(updates.Updates) != 2 || updates.LastCheck == nil {
		t.Errorf("GetUpdates() = %+v", updates)
	}
	if d.GetLastCheck().LastCheck == nil {
		t.Error("GetLastCheck() should be set after a successful check")
	}

	saved, err := d.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.LastCheck == nil {
		t.Error("last_check was not persisted")
	}

	entries, err := d.GetHistory(ctx, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Trigger != history.TriggerManual || entries[0].UpdateCount != 2 {
		t.Errorf("history = %+v", entries)
	}
}

func TestFailedCheckKeepsList(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, twoUpdatesJSON)
	ctx := context.Background()

	if _, err := d.CheckUpdates(ctx, false); err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}

	d.winget.setFail(true)
	if _, err := d.CheckUpdates(ctx, false); err == nil {
		t.Fatal("expected the second check to fail")
	}

	if got := len(d.GetUpdates().Updates); got != 2 {
		t.Errorf("updates after failure = %d, want 2", got)
	}
	status := d.GetStatus()
	if status.LastError == "" {
		t.Error("status should carry the last error")
	}
	if status.UpdateCount != 2 {
		t.Errorf("status.UpdateCount = %d, want 2", status.UpdateCount)
	}
}

func TestCheckInProgress(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, twoUpdatesJSON)
	d.winget.block = make(chan struct{})
	d.winget.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := d.CheckUpdates(context.Background(), false)
		done <- err
	}()
	<-d.winget.entered

	if !d.GetStatus().CheckInProgress {
		t.Error("status should report a running check")
	}
	if _, err := d.CheckUpdates(context.Background(), false); !errors.Is(err, checker.ErrCheckInProgress) {
		t.Errorf("second check error = %v, want ErrCheckInProgress", err)
	}

	close(d.winget.block)
	if err := <-done; err != nil {
		t.Errorf("first check error = %v", err)
	}
}

func TestStandaloneNotifiesOnChange(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, twoUpdatesJSON)

	if _, err := d.CheckUpdates(context.Background(), false); err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	sent := d.notified.all()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], notify.TitleUpdatesAvailable) {
		t.Fatalf("notifications = %v", sent)
	}
	if !strings.Contains(sent[0], "2 updates are available") {
		t.Errorf("notification body = %q", sent[0])
	}

	// Same count again: no notification.
	if _, err := d.CheckUpdates(context.Background(), false); err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if got := len(d.notified.all()); got != 1 {
		t.Errorf("notifications after unchanged count = %d, want 1", got)
	}
}

func TestServiceModeDoesNotNotify(t *testing.T) {
	d := newTestDaemon(t, ModeService, twoUpdatesJSON)

	if _, err := d.CheckUpdates(context.Background(), false); err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if sent := d.notified.all(); len(sent) != 0 {
		t.Errorf("service mode sent notifications: %v", sent)
	}
	if !d.GetStatus().ServiceMode {
		t.Error("status should report service mode")
	}
}

func TestInstallAll(t *testing.T) {
	d := newTestDaemon(t, ModeService, twoUpdatesJSON)
	ctx := context.Background()

	if _, err := d.CheckUpdates(ctx, false); err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	res, err := d.InstallAll(ctx)
	if err != nil {
		t.Fatalf("InstallAll() error = %v", err)
	}
	if len(res.Remaining) != 0 {
		t.Errorf("remaining = %v, want none", res.Remaining)
	}
	if got := d.GetStatus().UpdateCount; got != 0 {
		t.Errorf("UpdateCount after install = %d, want 0", got)
	}

	entries, err := d.GetHistory(ctx, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != history.KindUpgrade {
		t.Errorf("history = %+v, want upgrade entry first", entries)
	}
}

func TestSaveSettings(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, noUpdatesJSON)

	t.Run("invalid time rejected", func(t *testing.T) {
		s := config.NewSettings()
		s.MorningCheck = "25:00"
		if _, err := d.SaveSettings(s); !errors.Is(err, config.ErrInvalidMorningCheck) {
			t.Errorf("SaveSettings() error = %v, want ErrInvalidMorningCheck", err)
		}
		stored, _ := d.store.Load()
		if stored.MorningCheck != config.DefaultMorningCheck {
			t.Errorf("invalid save changed the file: %q", stored.MorningCheck)
		}
	})

	t.Run("applied and persisted", func(t *testing.T) {
		s := config.NewSettings()
		s.MorningCheck = "07:30"
		s.NotifyOnUpdates = false
		s.IncludePinned = true

		saved, err := d.SaveSettings(s)
		if err != nil {
			t.Fatalf("SaveSettings() error = %v", err)
		}
		if saved.MorningCheck != "07:30" {
			t.Errorf("saved.MorningCheck = %q", saved.MorningCheck)
		}

		stored, err := d.store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if stored.MorningCheck != "07:30" || stored.NotifyOnUpdates || !stored.IncludePinned {
			t.Errorf("stored = %+v", stored)
		}
		if d.notifier.IsEnabled() {
			t.Error("notifier should be disabled")
		}
		if !d.checker.Options().IncludePinned {
			t.Error("checker filters were not updated")
		}

		got, _ := d.GetSettings()
		if got.MorningCheck != "07:30" {
			t.Errorf("GetSettings().MorningCheck = %q", got.MorningCheck)
		}
	})

	t.Run("nil settings", func(t *testing.T) {
		if _, err := d.SaveSettings(nil); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestStartRunsInitialCheck(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, twoUpdatesJSON)
	d.cfg.SkipInitialCheck = false

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "initial check", func() bool { return d.checker.Count() == 2 })

	status := d.GetStatus()
	if status.State != "running" || status.Uptime == "" {
		t.Errorf("status = %+v", status)
	}
	if status.NextCheck == nil {
		t.Error("NextCheck should be set with auto_check on")
	}

	waitFor(t, "history entry", func() bool {
		entries, err := d.GetHistory(context.Background(), 1)
		return err == nil && len(entries) == 1 && entries[0].Trigger == history.TriggerStartup
	})

	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestPauseResume(t *testing.T) {
	d := newTestDaemon(t, ModeService, noUpdatesJSON)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	d.Pause()
	if got := d.GetStatus().State; got != "paused" {
		t.Errorf("State = %q, want paused", got)
	}
	d.Resume()
	if got := d.GetStatus().State; got != "running" {
		t.Errorf("State = %q, want running", got)
	}
}

func TestRunStopsOnShutdown(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, noUpdatesJSON)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	waitFor(t, "daemon start", d.IsRunning)
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	// A second request is harmless.
	d.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	if d.IsRunning() {
		t.Error("daemon still running")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, noUpdatesJSON)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	waitFor(t, "daemon start", d.IsRunning)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGetRecentLogs(t *testing.T) {
	d := newTestDaemon(t, ModeStandalone, noUpdatesJSON)
	d.cfg.Logs.Add("INFO", "Daemon", "hello", nil)

	logs := d.GetRecentLogs(5)
	if len(logs) != 1 || logs[0].Message != "hello" {
		t.Errorf("GetRecentLogs() = %+v", logs)
	}
}

func TestHistoryUnavailable(t *testing.T) {
	store := config.NewStore(afero.NewMemMapFs(), "/settings.ini")
	d, err := New(context.Background(), Config{Store: store, NoHistory: true, NoIPC: true, Runner: newScriptedWinget(noUpdatesJSON)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := d.GetHistory(context.Background(), 5); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("GetHistory() error = %v, want ErrHistoryUnavailable", err)
	}
	if logs := d.GetRecentLogs(5); len(logs) != 0 {
		t.Errorf("GetRecentLogs() without buffer = %v", logs)
	}
}

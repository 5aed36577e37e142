package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/wingetupdater/winget-updater/internal/checker"
	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// mockHandler implements Handler for testing.
type mockHandler struct {
	mu             sync.Mutex
	settings       *config.Settings
	forced         []bool
	historyLimit   int
	shutdownCalled bool
	installCalled  bool
	busy           bool
	lastCheck      time.Time
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		settings:  config.NewSettings(),
		lastCheck: time.Date(2024, 2, 3, 8, 0, 0, 0, time.UTC),
	}
}

func testUpdates() []winget.Package {
	return []winget.Package{
		{Name: "Git", ID: "Git.Git", CurrentVersion: "2.43.0", AvailableVersion: "2.44.0", Source: "winget"},
		{Name: "7-Zip", ID: "7zip.7zip", CurrentVersion: "22.01", AvailableVersion: "23.01", Source: "winget"},
	}
}

func (h *mockHandler) GetStatus() *StatusData {
	h.mu.Lock()
	defer h.mu.Unlock()
	last := h.lastCheck
	return &StatusData{
		ServiceMode: true,
		Mode:        "service",
		State:       "running",
		Version:     "test",
		UpdateCount: 2,
		LastCheck:   &last,
	}
}

func (h *mockHandler) CheckUpdates(_ context.Context, force bool) (*CheckResultData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forced = append(h.forced, force)
	if h.busy && !force {
		return nil, checker.ErrCheckInProgress
	}
	return &CheckResultData{
		UpdateCount: 2,
		Previous:    1,
		Updates:     testUpdates(),
		CheckedAt:   h.lastCheck,
		Duration:    "3s",
	}, nil
}

func (h *mockHandler) GetUpdates() *UpdatesData {
	h.mu.Lock()
	defer h.mu.Unlock()
	last := h.lastCheck
	return &UpdatesData{Updates: testUpdates(), LastCheck: &last}
}

func (h *mockHandler) GetLastCheck() *LastCheckData {
	h.mu.Lock()
	defer h.mu.Unlock()
	last := h.lastCheck
	return &LastCheckData{LastCheck: &last}
}

func (h *mockHandler) GetSettings() (*config.Settings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings.Clone(), nil
}

func (h *mockHandler) SaveSettings(s *config.Settings) (*config.Settings, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = s.Clone()
	return s, nil
}

func (h *mockHandler) InstallAll(context.Context) (*winget.UpgradeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installCalled = true
	return &winget.UpgradeResult{ExitCode: 0, Remaining: testUpdates()[:1], Duration: "42s"}, nil
}

func (h *mockHandler) GetHistory(_ context.Context, limit int) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.historyLimit = limit
	return []history.Entry{
		{ID: 2, Kind: history.KindCheck, UpdateCount: 2, Trigger: history.TriggerSchedule},
		{ID: 1, Kind: history.KindCheck, Error: "winget executable not found"},
	}, nil
}

func (h *mockHandler) GetRecentLogs(count int) []LogEntryData {
	entries := []LogEntryData{
		{Timestamp: "2024-02-03T08:00:00Z", Level: "INFO", Stage: "Checker", Message: "Update check complete"},
		{Timestamp: "2024-02-03T08:00:01Z", Level: "WARN", Stage: "Daemon", Message: "Failed to record check history"},
	}
	if count < len(entries) {
		entries = entries[len(entries)-count:]
	}
	return entries
}

func (h *mockHandler) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownCalled = true
	return nil
}

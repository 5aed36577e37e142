package main

import (
	"fmt"
	"sync"

	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/notify"
	"github.com/wingetupdater/winget-updater/internal/trayicon"
)

// trayState is what the tray knows about the checker after the last poll.
type trayState struct {
	mu sync.Mutex

	connected   bool
	serviceMode bool
	count       int
	checking    bool
	lastError   string

	// notified is the count last announced by the tray itself.
	notified int
}

// snapshot is a copy of trayState for rendering.
type snapshot struct {
	Connected   bool
	ServiceMode bool
	Count       int
	Checking    bool
	LastError   string
}

// observe records a poll result. It returns the count to announce, or 0.
// The tray only notifies for the service, which cannot reach the desktop;
// a standalone checker notifies on its own.
func (s *trayState) observe(status *ipc.StatusData, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil || status == nil {
		s.connected = false
		s.checking = false
		return 0
	}

	s.connected = true
	s.serviceMode = status.ServiceMode
	s.count = status.UpdateCount
	s.checking = status.CheckInProgress
	s.lastError = status.LastError

	if !s.serviceMode {
		s.notified = s.count
		return 0
	}
	previous := s.notified
	s.notified = s.count
	if notify.ShouldNotifyIncrease(previous, s.count) {
		return s.count
	}
	return 0
}

// checked records the result of a check the user started from the menu.
func (s *trayState) checked(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.count = count
	s.notified = count
	s.checking = false
	s.lastError = ""
}

func (s *trayState) setChecking(checking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checking = checking
}

func (s *trayState) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		Connected:   s.connected,
		ServiceMode: s.serviceMode,
		Count:       s.count,
		Checking:    s.checking,
		LastError:   s.lastError,
	}
}

// Tooltip is the icon tooltip.
func (s snapshot) Tooltip() string {
	return trayicon.Tooltip(s.Count, s.Connected)
}

// StatusLine is the disabled first menu entry.
func (s snapshot) StatusLine() string {
	switch {
	case !s.Connected:
		return "Status: Service disconnected"
	case s.Checking:
		return "Status: Checking for updates..."
	case s.LastError != "":
		return "Status: Last check failed"
	case s.Count == 0:
		return "Status: Up to date"
	case s.Count == 1:
		return "Status: 1 update available"
	default:
		return fmt.Sprintf("Status: %d updates available", s.Count)
	}
}

// CanInstall reports whether "Install All Updates" is enabled.
func (s snapshot) CanInstall() bool {
	return s.Connected && !s.Checking && s.Count > 0
}

// announceCheck reports whether the tray should show the result of a check it
// started. A standalone checker already announces count changes itself.
func announceCheck(serviceMode bool, result *ipc.CheckResultData) bool {
	return serviceMode || !notify.ShouldNotifyChange(result.Previous, result.UpdateCount)
}

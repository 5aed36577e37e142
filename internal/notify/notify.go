// Package notify sends desktop notifications about pending winget updates.
// It uses github.com/gen2brain/beeep for toast notifications.
package notify

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/logging"
)

// Notification titles.
const (
	TitleUpdatesAvailable = "Winget Updates Available"
	TitleCheckComplete    = "Winget Update Check Complete"
	TitleInstalling       = "Winget Updates"
	TitleAlert            = "Winget Updater Alert"
)

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Notifier handles desktop notifications.
type Notifier struct {
	logger  *logging.Logger
	send    SendFunc
	enabled bool
	mu      sync.RWMutex
}

// Config holds notification configuration.
type Config struct {
	// Enabled mirrors the notify_on_updates setting.
	Enabled bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// ConfigFromSettings derives the notification configuration from settings.
func ConfigFromSettings(s *config.Settings) *Config {
	if s == nil {
		return DefaultConfig()
	}
	return &Config{Enabled: s.NotifyOnUpdates}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Notifier{
		logger:  logger,
		send:    beeepSend,
		enabled: cfg.Enabled,
	}
}

// SetSender replaces the delivery function.
func (n *Notifier) SetSender(send SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = send
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// UpdatesAvailable announces count pending updates. Nothing is sent for zero.
func (n *Notifier) UpdatesAvailable(count int) {
	if !n.IsEnabled() || count <= 0 {
		return
	}

	if err := n.deliver(TitleUpdatesAvailable, UpdatesMessage(count)); err != nil {
		n.logger.Warn().Err(err).Int("count", count).Msg("Failed to send updates notification")
	}
}

// CheckComplete reports the result of a check the user asked for.
func (n *Notifier) CheckComplete(count int) {
	if !n.IsEnabled() {
		return
	}

	message := UpdatesMessage(count)
	if count <= 0 {
		message = "No updates are currently available for your system."
	}
	if err := n.deliver(TitleCheckComplete, message); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send check complete notification")
	}
}

// Installing tells the user an upgrade run has started.
func (n *Notifier) Installing() {
	if !n.IsEnabled() {
		return
	}
	if err := n.deliver(TitleInstalling, "Installing updates. This may take several minutes..."); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send installing notification")
	}
}

// Alert sends an alert notification (error level).
// This is for critical issues that require user attention.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	message = truncate(message, 200)
	if err := beeep.Alert(TitleAlert, message, ""); err != nil {
		if err := n.deliver(TitleAlert, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

func (n *Notifier) deliver(title, message string) error {
	n.mu.RLock()
	send := n.send
	n.mu.RUnlock()
	return send(title, message)
}

// UpdatesMessage is the notification body for count updates.
func UpdatesMessage(count int) string {
	if count == 1 {
		return "1 update is available for your system."
	}
	return fmt.Sprintf("%d updates are available for your system.", count)
}

// ShouldNotifyIncrease is the tray policy: announce only when the count grew.
func ShouldNotifyIncrease(previous, current int) bool {
	return current > previous
}

// ShouldNotifyChange is the standalone daemon policy: announce whenever the
// count changed to a non-zero value.
func ShouldNotifyChange(previous, current int) bool {
	return current != previous && current > 0
}

// beeepSend uses beeep, which shows a toast notification on Windows.
func beeepSend(title, message string) error {
	return beeep.Notify(title, message, "")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

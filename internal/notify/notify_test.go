package notify

import (
	"sync"
	"testing"

	"github.com/wingetupdater/winget-updater/internal/config"
)

type recorder struct {
	mu   sync.Mutex
	sent [][2]string
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, [2]string{title, message})
	return nil
}

func newTestNotifier(enabled bool) (*Notifier, *recorder) {
	rec := &recorder{}
	n := NewNotifier(&Config{Enabled: enabled}, nil)
	n.SetSender(rec.send)
	return n, rec
}

func TestDefaultConfig(t *testing.T) {
	if !DefaultConfig().Enabled {
		t.Error("Expected Enabled to be true by default")
	}
}

func TestConfigFromSettings(t *testing.T) {
	s := config.NewSettings()
	if !ConfigFromSettings(s).Enabled {
		t.Error("default settings should enable notifications")
	}
	s.NotifyOnUpdates = false
	if ConfigFromSettings(s).Enabled {
		t.Error("notify_on_updates=false should disable notifications")
	}
	if !ConfigFromSettings(nil).Enabled {
		t.Error("nil settings should use defaults")
	}
}

func TestUpdatesMessage(t *testing.T) {
	tests := []struct {
		count    int
		expected string
	}{
		{1, "1 update is available for your system."},
		{2, "2 updates are available for your system."},
		{17, "17 updates are available for your system."},
	}

	for _, tt := range tests {
		if got := UpdatesMessage(tt.count); got != tt.expected {
			t.Errorf("UpdatesMessage(%d) = %q, want %q", tt.count, got, tt.expected)
		}
	}
}

func TestNotificationPolicies(t *testing.T) {
	tests := []struct {
		previous, current int
		increase, change  bool
	}{
		{0, 0, false, false},
		{0, 3, true, true},
		{3, 3, false, false},
		{3, 5, true, true},
		{5, 3, false, true},
		{3, 0, false, false},
	}

	for _, tt := range tests {
		if got := ShouldNotifyIncrease(tt.previous, tt.current); got != tt.increase {
			t.Errorf("ShouldNotifyIncrease(%d, %d) = %v", tt.previous, tt.current, got)
		}
		if got := ShouldNotifyChange(tt.previous, tt.current); got != tt.change {
			t.Errorf("ShouldNotifyChange(%d, %d) = %v", tt.previous, tt.current, got)
		}
	}
}

func TestUpdatesAvailable(t *testing.T) {
	n, rec := newTestNotifier(true)

	n.UpdatesAvailable(0)
	n.UpdatesAvailable(1)
	n.UpdatesAvailable(4)

	if len(rec.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %v", rec.sent)
	}
	if rec.sent[0] != [2]string{TitleUpdatesAvailable, "1 update is available for your system."} {
		t.Errorf("first notification = %v", rec.sent[0])
	}
	if rec.sent[1][1] != "4 updates are available for your system." {
		t.Errorf("second notification = %v", rec.sent[1])
	}
}

func TestCheckComplete(t *testing.T) {
	n, rec := newTestNotifier(true)

	n.CheckComplete(0)
	n.CheckComplete(2)

	if len(rec.sent) != 2 || rec.sent[0][0] != TitleCheckComplete {
		t.Fatalf("unexpected notifications: %v", rec.sent)
	}
	if rec.sent[0][1] != "No updates are currently available for your system." {
		t.Errorf("zero-count body = %q", rec.sent[0][1])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestSetEnabled(t *testing.T) {
	n, rec := newTestNotifier(true)

	n.SetEnabled(false)
	if n.IsEnabled() {
		t.Error("Expected disabled after SetEnabled(false)")
	}

	n.UpdatesAvailable(3)
	n.CheckComplete(3)
	n.Installing()
	n.Alert("winget failed")
	if len(rec.sent) != 0 {
		t.Errorf("disabled notifier sent %v", rec.sent)
	}

	n.SetEnabled(true)
	n.UpdatesAvailable(3)
	if len(rec.sent) != 1 {
		t.Errorf("expected 1 notification after re-enabling, got %d", len(rec.sent))
	}
}

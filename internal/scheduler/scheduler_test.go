package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
)

func clock(t *testing.T, s string) config.Clock {
	t.Helper()
	c, err := config.ParseClock(s)
	if err != nil {
		t.Fatalf("ParseClock(%q): %v", s, err)
	}
	return c
}

func settingsWith(morning, afternoon string, auto bool) *config.Settings {
	s := config.NewSettings()
	s.MorningCheck = morning
	s.AfternoonCheck = afternoon
	s.AutoCheck = auto
	return s
}

func TestDistinct(t *testing.T) {
	got := Distinct([]config.Clock{clock(t, "16:00"), clock(t, "08:00"), clock(t, "16:00")})
	if len(got) != 2 || got[0].String() != "08:00" || got[1].String() != "16:00" {
		t.Errorf("Distinct() = %v", got)
	}
	if got := Distinct(nil); len(got) != 0 {
		t.Errorf("Distinct(nil) = %v", got)
	}
}

func TestCatchUpDue(t *testing.T) {
	times := []config.Clock{clock(t, "08:00"), clock(t, "16:00")}
	day := func(h, m int) time.Time { return time.Date(2024, 6, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		lastCheck time.Time
		now       time.Time
		want      bool
	}{
		{"never checked", time.Time{}, day(9, 0), true},
		{"checked after morning slot", day(8, 1), day(12, 0), false},
		{"missed morning slot", day(7, 0), day(12, 0), true},
		{"missed afternoon slot", day(9, 0), day(17, 0), true},
		{"early morning uses yesterday afternoon", day(0, 0).Add(-7 * time.Hour), day(6, 0), false},
		{"exactly at slot", day(8, 0), day(8, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CatchUpDue(times, tt.lastCheck, tt.now); got != tt.want {
				t.Errorf("CatchUpDue() = %v, want %v", got, tt.want)
			}
		})
	}

	if CatchUpDue(nil, time.Time{}, day(9, 0)) {
		t.Error("no times means nothing is due")
	}
}

func TestNextSlot(t *testing.T) {
	times := []config.Clock{clock(t, "08:00"), clock(t, "16:00")}

	now := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	if got := NextSlot(times, now); !got.Equal(time.Date(2024, 6, 10, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("NextSlot(09:30) = %v", got)
	}

	now = time.Date(2024, 6, 10, 16, 0, 0, 0, time.UTC)
	if got := NextSlot(times, now); !got.Equal(time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("NextSlot(16:00) = %v", got)
	}
}

func TestStartRegistersDistinctTimes(t *testing.T) {
	s := New(func(context.Context, string) {}, WithLocation(time.UTC))
	s.Start(context.Background(), settingsWith("09:00", "09:00", true))
	defer s.Stop()

	if !s.Enabled() {
		t.Fatal("scheduler should be enabled")
	}
	if times := s.Times(); len(times) != 1 || times[0].String() != "09:00" {
		t.Errorf("Times() = %v", times)
	}
	if s.Next().IsZero() {
		t.Error("Next() should be set when enabled")
	}
}

func TestDisabledScheduler(t *testing.T) {
	s := New(func(context.Context, string) {}, WithLastCheck(func() time.Time { return time.Time{} }))
	s.Start(context.Background(), settingsWith("08:00", "16:00", false))
	defer s.Stop()

	if s.Enabled() {
		t.Error("auto_check=false must disable the scheduler")
	}
	if !s.Next().IsZero() {
		t.Error("Next() should be zero when disabled")
	}
	if s.CatchUpDue() {
		t.Error("a disabled scheduler never catches up")
	}
}

func TestReloadSwitchesTimes(t *testing.T) {
	s := New(func(context.Context, string) {}, WithLocation(time.UTC))
	s.Start(context.Background(), settingsWith("08:00", "16:00", true))
	defer s.Stop()

	s.Reload(settingsWith("07:15", "18:45", true))
	if times := s.Times(); len(times) != 2 || times[0].String() != "07:15" || times[1].String() != "18:45" {
		t.Errorf("Times() after reload = %v", times)
	}

	s.Reload(settingsWith("07:15", "18:45", false))
	if s.Enabled() {
		t.Error("reload with auto_check=false should disable")
	}
}

func TestConcurrentReloadDuringRunningJob(t *testing.T) {
	s := New(func(context.Context, string) {}, WithLocation(time.UTC))
	s.Start(context.Background(), settingsWith("08:00", "16:00", true))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var afterStop atomic.Bool
	var leaked atomic.Int32

	s.mu.Lock()
	if _, err := s.cron.AddFunc("@every 1s", func() {
		once.Do(func() { close(started) })
		<-release
	}); err != nil {
		s.mu.Unlock()
		t.Fatalf("AddFunc: %v", err)
	}
	s.cronCreated = func(c *cron.Cron) {
		c.AddFunc("@every 1s", func() {
			if afterStop.Load() {
				leaked.Add(1)
			}
		})
	}
	s.mu.Unlock()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking job never ran")
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Reload(settingsWith("07:00", "19:00", true))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Stop()
	afterStop.Store(true)
	time.Sleep(1500 * time.Millisecond)

	if n := leaked.Load(); n != 0 {
		t.Errorf("a cron runner survived Stop and fired %d times", n)
	}
	if times := s.Times(); len(times) != 2 || times[0].String() != "07:00" {
		t.Errorf("Times() after reload = %v", times)
	}
}

func TestFireRespectsPause(t *testing.T) {
	triggers := make(chan string, 4)
	s := New(func(_ context.Context, trigger string) { triggers <- trigger })

	s.Pause()
	s.fire(clock(t, "08:00"))
	select {
	case tr := <-triggers:
		t.Fatalf("paused scheduler ran a check (%s)", tr)
	default:
	}

	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.fire(clock(t, "08:00"))
	if tr := <-triggers; tr != history.TriggerSchedule {
		t.Errorf("trigger = %q", tr)
	}
}

func TestResumeRunsCatchUp(t *testing.T) {
	triggers := make(chan string, 1)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	last := time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC)

	s := New(
		func(_ context.Context, trigger string) { triggers <- trigger },
		WithLocation(time.UTC),
		WithClock(func() time.Time { return now }),
		WithLastCheck(func() time.Time { return last }),
	)
	s.Start(context.Background(), settingsWith("08:00", "16:00", true))
	defer s.Stop()

	s.Pause()
	if !s.Paused() {
		t.Fatal("Paused() should be true")
	}
	s.Resume()

	select {
	case tr := <-triggers:
		if tr != history.TriggerCatchUp {
			t.Errorf("trigger = %q, want %q", tr, history.TriggerCatchUp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a catch-up check after resume")
	}
}

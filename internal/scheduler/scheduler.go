// Package scheduler runs update checks at the configured times of day.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/logging"
)

// CheckFunc runs one update check. trigger is one of the history.Trigger*
// values.
type CheckFunc func(ctx context.Context, trigger string)

// Scheduler registers one daily cron entry per distinct check time.
type Scheduler struct {
	check     CheckFunc
	lastCheck func() time.Time
	logger    *logging.Logger
	location  *time.Location
	now       func() time.Time

	// reloadMu serializes Start, Stop and Reload across the window in which
	// mu is released to wait for a running job.
	reloadMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	// cronCreated is called with each new runner before it starts.
	cronCreated func(*cron.Cron)
	times   []config.Clock
	enabled bool
	paused  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLocation sets the time zone check times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// WithLastCheck supplies the time of the last successful check, used to
// decide whether a slot was missed while paused.
func WithLastCheck(f func() time.Time) Option {
	return func(s *Scheduler) { s.lastCheck = f }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler.
func New(check CheckFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		check:    check,
		logger:   logging.Nop(),
		location: time.Local,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers entries for settings and starts dispatching. Jobs run
// with ctx; cancelling it aborts a running check.
func (s *Scheduler) Start(ctx context.Context, settings *config.Settings) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	s.loadLocked(settings)
	s.logger.Info().
		Bool("enabled", s.enabled).
		Strs("times", clockStrings(s.times)).
		Msg("Scheduler started")
}

// Stop shuts down the cron runner and waits for a running job.
func (s *Scheduler) Stop() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.logger.Info().Msg("Scheduler stopped")
}

// Reload re-registers entries after a settings change.
func (s *Scheduler) Reload(settings *config.Settings) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.ctx = context.Background()
	}
	s.stopLocked()
	s.loadLocked(settings)
	s.logger.Info().
		Bool("enabled", s.enabled).
		Strs("times", clockStrings(s.times)).
		Msg("Scheduler reloaded")
}

// Pause suspends scheduled checks without dropping the entries.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info().Msg("Scheduler paused")
}

// Resume re-enables scheduled checks. If a slot passed since the last
// successful check, one catch-up check is started.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	ctx := s.ctx
	due := s.enabled && s.catchUpDueLocked()
	s.mu.Unlock()

	s.logger.Info().Bool("catch_up", due).Msg("Scheduler resumed")
	if due && ctx != nil {
		go s.check(ctx, history.TriggerCatchUp)
	}
}

// Paused reports whether scheduled checks are suspended.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Enabled reports whether automatic checks are on.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Times returns the distinct registered check times in order.
func (s *Scheduler) Times() []config.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]config.Clock(nil), s.times...)
}

// Next returns the next scheduled check, zero when disabled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || len(s.times) == 0 {
		return time.Time{}
	}
	return NextSlot(s.times, s.now().In(s.location))
}

// CatchUpDue reports whether a slot has passed since the last successful
// check.
func (s *Scheduler) CatchUpDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && s.catchUpDueLocked()
}

func (s *Scheduler) catchUpDueLocked() bool {
	var last time.Time
	if s.lastCheck != nil {
		last = s.lastCheck()
	}
	return CatchUpDue(s.times, last, s.now().In(s.location))
}

func (s *Scheduler) loadLocked(settings *config.Settings) {
	s.enabled = settings.AutoCheck
	s.times = Distinct(settings.CheckTimes())
	if !s.enabled {
		return
	}

	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, t := range s.times {
		at := t
		if _, err := s.cron.AddFunc(at.CronSpec(), func() { s.fire(at) }); err != nil {
			s.logger.Error().Err(err).Str("time", at.String()).Msg("Failed to register check time")
			continue
		}
		s.logger.Debug().Str("time", at.String()).Str("cron", at.CronSpec()).Msg("Registered check time")
	}
	if s.cronCreated != nil {
		s.cronCreated(s.cron)
	}
	s.cron.Start()
}

func (s *Scheduler) stopLocked() {
	c := s.cron
	if c == nil {
		return
	}
	s.cron = nil
	done := c.Stop()
	// A running job holds the checker, not s.mu, so waiting here is safe.
	s.mu.Unlock()
	<-done.Done()
	s.mu.Lock()
}

func (s *Scheduler) fire(at config.Clock) {
	s.mu.Lock()
	paused := s.paused
	ctx := s.ctx
	s.mu.Unlock()

	if paused {
		s.logger.Info().Str("time", at.String()).Msg("Skipping scheduled check while paused")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.logger.Info().Str("time", at.String()).Msg("Running scheduled check")
	s.check(ctx, history.TriggerSchedule)
}

// Distinct sorts times and drops duplicates.
func Distinct(times []config.Clock) []config.Clock {
	out := append([]config.Clock(nil), times...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})

	n := 0
	for i, t := range out {
		if i > 0 && t == out[n-1] {
			continue
		}
		out[n] = t
		n++
	}
	return out[:n]
}

// LatestSlot returns the most recent scheduled instant at or before now.
func LatestSlot(times []config.Clock, now time.Time) time.Time {
	var latest time.Time
	for _, t := range times {
		if at := t.MostRecent(now); at.After(latest) {
			latest = at
		}
	}
	return latest
}

// NextSlot returns the first scheduled instant after now.
func NextSlot(times []config.Clock, now time.Time) time.Time {
	var next time.Time
	for _, t := range times {
		at := t.On(now)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}

// CatchUpDue reports whether lastCheck predates the latest slot. A zero
// lastCheck is always due.
func CatchUpDue(times []config.Clock, lastCheck, now time.Time) bool {
	if len(times) == 0 {
		return false
	}
	return lastCheck.Before(LatestSlot(times, now))
}

func clockStrings(times []config.Clock) []string {
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = t.String()
	}
	return out
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

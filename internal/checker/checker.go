// Package checker owns the current list of pending winget updates and runs
// the checks that refresh it.
package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// ErrCheckInProgress is returned by a non-forced check while another check
// or upgrade is running.
var ErrCheckInProgress = errors.New("update check already in progress")

// Lister is the subset of the winget client used by the checker.
type Lister interface {
	ListUpgrades(ctx context.Context, opts winget.Options) ([]winget.Package, error)
	UpgradeAll(ctx context.Context, opts winget.Options) (*winget.UpgradeResult, error)
}

// Recorder stores history entries.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// LastCheckStore persists the time of the last successful check.
type LastCheckStore interface {
	SetLastCheck(t time.Time) error
}

// Observer is called after every successful check with the previous and
// the new update count.
type Observer func(previous, current int, updates []winget.Package)

// Result describes a finished check.
type Result struct {
	Updates   []winget.Package
	Previous  int
	StartedAt time.Time
	Duration  time.Duration
}

// Checker is safe for concurrent use.
type Checker struct {
	lister  Lister
	store   LastCheckStore
	history Recorder
	logger  *logging.Logger
	now     func() time.Time

	// gate admits one check or upgrade at a time.
	gate    chan struct{}
	running atomic.Bool

	mu        sync.RWMutex
	opts      winget.Options
	updates   []winget.Package
	lastCheck time.Time
	lastErr   error
	observers []Observer
}

// Option configures a Checker.
type Option func(*Checker)

// WithStore persists last_check after each successful check.
func WithStore(s LastCheckStore) Option {
	return func(c *Checker) { c.store = s }
}

// WithHistory records every attempt.
func WithHistory(r Recorder) Option {
	return func(c *Checker) { c.history = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New creates a checker.
func New(lister Lister, opts ...Option) *Checker {
	c := &Checker{
		lister:  lister,
		logger:  logging.Nop(),
		now:     time.Now,
		gate:    make(chan struct{}, 1),
		updates: []winget.Package{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetOptions changes the filters used by subsequent checks.
func (c *Checker) SetOptions(opts winget.Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Options returns the current filters.
func (c *Checker) Options() winget.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// SetLastCheck seeds the last check time, typically from settings.
func (c *Checker) SetLastCheck(t time.Time) {
	c.mu.Lock()
	c.lastCheck = t
	c.mu.Unlock()
}

// Subscribe registers an observer.
func (c *Checker) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Check runs a manual check. See CheckWithTrigger.
func (c *Checker) Check(ctx context.Context, force bool) (*Result, error) {
	return c.CheckWithTrigger(ctx, force, history.TriggerManual)
}

// CheckWithTrigger lists pending updates and replaces the current list.
// While another check runs a non-forced call returns ErrCheckInProgress
// and a forced call waits for it to finish. A failed check keeps the
// previous list.
func (c *Checker) CheckWithTrigger(ctx context.Context, force bool, trigger string) (*Result, error) {
	if err := c.acquire(ctx, force); err != nil {
		return nil, err
	}
	defer c.release()

	opts := c.Options()
	started := c.now()
	log := c.logger.With().Str("trigger", trigger).Bool("forced", force).Logger()
	log.Info().Msg("Checking for winget updates")

	pkgs, err := c.lister.ListUpgrades(ctx, opts)
	duration := c.now().Sub(started)

	entry := history.Entry{
		Kind:      history.KindCheck,
		StartedAt: started,
		Duration:  duration,
		Forced:    force,
		Trigger:   trigger,
	}

	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		entry.Error = err.Error()
		c.record(ctx, entry)
		log.Error().Err(err).Dur("duration", duration).Msg("Update check failed")
		return nil, fmt.Errorf("update check failed: %w", err)
	}

	previous := c.replace(pkgs, started)
	entry.UpdateCount = len(pkgs)
	entry.PackageIDs = winget.IDs(pkgs)
	c.record(ctx, entry)

	log.Info().
		Int("updates", len(pkgs)).
		Int("previous", previous).
		Dur("duration", duration).
		Msg("Update check complete")

	c.notify(previous, pkgs)

	return &Result{
		Updates:   clonePackages(pkgs),
		Previous:  previous,
		StartedAt: started,
		Duration:  duration,
	}, nil
}

// InstallAll runs `winget upgrade --all` and replaces the list with what is
// still pending afterwards. It waits for a running check.
func (c *Checker) InstallAll(ctx context.Context) (*winget.UpgradeResult, error) {
	if err := c.acquire(ctx, true); err != nil {
		return nil, err
	}
	defer c.release()

	opts := c.Options()
	started := c.now()
	before := winget.IDs(c.Updates())

	res, err := c.lister.UpgradeAll(ctx, opts)
	duration := c.now().Sub(started)

	entry := history.Entry{
		Kind:       history.KindUpgrade,
		StartedAt:  started,
		Duration:   duration,
		Forced:     true,
		Trigger:    history.TriggerManual,
		PackageIDs: before,
	}

	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		entry.Error = err.Error()
		c.record(ctx, entry)
		c.logger.Error().Err(err).Msg("Installing updates failed")
		return nil, err
	}

	entry.UpdateCount = len(res.Remaining)
	if res.ExitCode != 0 {
		entry.Error = fmt.Sprintf("winget exited with code %d", res.ExitCode)
	}
	c.record(ctx, entry)

	previous := c.replace(res.Remaining, c.now())
	c.notify(previous, res.Remaining)
	return res, nil
}

// Updates returns a copy of the current list.
func (c *Checker) Updates() []winget.Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePackages(c.updates)
}

// Count returns the number of pending updates.
func (c *Checker) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.updates)
}

// LastCheck returns the time of the last successful check, zero if none.
func (c *Checker) LastCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCheck
}

// LastError returns the error of the most recent attempt, nil after a
// success.
func (c *Checker) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// InProgress reports whether a check or upgrade is running.
func (c *Checker) InProgress() bool {
	return c.running.Load()
}

func (c *Checker) acquire(ctx context.Context, wait bool) error {
	if !wait {
		select {
		case c.gate <- struct{}{}:
		default:
			return ErrCheckInProgress
		}
	} else {
		select {
		case c.gate <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.running.Store(true)
	return nil
}

func (c *Checker) release() {
	c.running.Store(false)
	<-c.gate
}

// replace swaps in a new list and returns the previous count.
func (c *Checker) replace(pkgs []winget.Package, at time.Time) int {
	if pkgs == nil {
		pkgs = []winget.Package{}
	}

	c.mu.Lock()
	previous := len(c.updates)
	c.updates = clonePackages(pkgs)
	c.lastCheck = at
	c.lastErr = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SetLastCheck(at); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist last check time")
		}
	}
	return previous
}

func (c *Checker) notify(previous int, pkgs []winget.Package) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()

	for _, o := range observers {
		o(previous, len(pkgs), clonePackages(pkgs))
	}
}

func (c *Checker) record(ctx context.Context, e history.Entry) {
	if c.history == nil {
		return
	}
	// A cancelled check is still worth recording.
	if _, err := c.history.Record(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record check history")
	}
}

func clonePackages(pkgs []winget.Package) []winget.Package {
	out := make([]winget.Package, len(pkgs))
	copy(out, pkgs)
	return out
}

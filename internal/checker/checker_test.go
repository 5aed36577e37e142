package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

type fakeLister struct {
	mu        sync.Mutex
	results   [][]winget.Package
	err       error
	block     chan struct{}
	entered   chan struct{}
	calls     int
	upgrade   *winget.UpgradeResult
	upgradeOp winget.Options
}

func (f *fakeLister) ListUpgrades(ctx context.Context, opts winget.Options) ([]winget.Package, error) {
	f.mu.Lock()
	f.calls++
	block, entered := f.block, f.entered
	var pkgs []winget.Package
	if len(f.results) > 0 {
		pkgs = f.results[0]
		f.results = f.results[1:]
	}
	err := f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return pkgs, err
}

func (f *fakeLister) UpgradeAll(ctx context.Context, opts winget.Options) (*winget.UpgradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upgradeOp = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.upgrade, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memRecorder) Record(_ context.Context, e history.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

type memStore struct {
	last time.Time
}

func (m *memStore) SetLastCheck(t time.Time) error {
	m.last = t
	return nil
}

func pkgs(ids ...string) []winget.Package {
	out := make([]winget.Package, len(ids))
	for i, id := range ids {
		out[i] = winget.Package{Name: id, ID: id, CurrentVersion: "1.0", AvailableVersion: "2.0", Source: "winget"}
	}
	return out
}

func TestCheckReplacesList(t *testing.T) {
	lister := &fakeLister{results: [][]winget.Package{pkgs("A", "B"), pkgs("C")}}
	rec := &memRecorder{}
	store := &memStore{}
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	c := New(lister, WithHistory(rec), WithStore(store), WithClock(func() time.Time { return now }))

	var seen [][2]int
	c.Subscribe(func(prev, cur int, _ []winget.Package) {
		seen = append(seen, [2]int{prev, cur})
	})

	res, err := c.Check(context.Background(), false)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(res.Updates) != 2 || res.Previous != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	if _, err := c.Check(context.Background(), false); err != nil {
		t.Fatalf("second Check failed: %v", err)
	}
	if ids := winget.IDs(c.Updates()); len(ids) != 1 || ids[0] != "C" {
		t.Errorf("list not replaced: %v", ids)
	}

	if !c.LastCheck().Equal(now) || !store.last.Equal(now) {
		t.Errorf("last check not recorded: %v / %v", c.LastCheck(), store.last)
	}
	if len(seen) != 2 || seen[0] != [2]int{0, 2} || seen[1] != [2]int{2, 1} {
		t.Errorf("observer calls = %v", seen)
	}
	if len(rec.entries) != 2 || rec.entries[1].UpdateCount != 1 || rec.entries[1].Trigger != history.TriggerManual {
		t.Errorf("history = %+v", rec.entries)
	}
}

func TestFailedCheckKeepsPreviousList(t *testing.T) {
	lister := &fakeLister{results: [][]winget.Package{pkgs("A", "B")}}
	rec := &memRecorder{}
	c := New(lister, WithHistory(rec))

	if _, err := c.Check(context.Background(), false); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	firstCheck := c.LastCheck()

	boom := errors.New("winget exited with code 1")
	lister.err = boom
	_, err := c.Check(context.Background(), false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if c.Count() != 2 {
		t.Errorf("previous list lost, count = %d", c.Count())
	}
	if !errors.Is(c.LastError(), boom) {
		t.Errorf("LastError = %v", c.LastError())
	}
	if !c.LastCheck().Equal(firstCheck) {
		t.Error("failed check must not move last_check")
	}
	if len(rec.entries) != 2 || rec.entries[1].Succeeded() {
		t.Errorf("failure not recorded: %+v", rec.entries)
	}
}

func TestCheckInProgress(t *testing.T) {
	lister := &fakeLister{
		results: [][]winget.Package{pkgs("A"), pkgs("A", "B")},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	c := New(lister)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Check(context.Background(), false)
		firstDone <- err
	}()
	<-lister.entered

	if !c.InProgress() {
		t.Error("InProgress should be true while a check runs")
	}
	if _, err := c.Check(context.Background(), false); !errors.Is(err, ErrCheckInProgress) {
		t.Fatalf("expected ErrCheckInProgress, got %v", err)
	}

	forcedDone := make(chan error, 1)
	go func() {
		_, err := c.Check(context.Background(), true)
		forcedDone <- err
	}()

	select {
	case err := <-forcedDone:
		t.Fatalf("forced check returned before the running one finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(lister.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if err := <-forcedDone; err != nil {
		t.Fatalf("forced check failed: %v", err)
	}

	if c.Count() != 2 || c.InProgress() {
		t.Errorf("count = %d, in progress = %v", c.Count(), c.InProgress())
	}
	if lister.calls != 2 {
		t.Errorf("expected 2 winget runs, got %d", lister.calls)
	}
}

func TestForcedCheckHonorsContext(t *testing.T) {
	lister := &fakeLister{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := New(lister)

	go func() { _, _ = c.Check(context.Background(), false) }()
	<-lister.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Check(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(lister.block)
}

func TestInstallAll(t *testing.T) {
	lister := &fakeLister{
		results: [][]winget.Package{pkgs("A", "B", "C")},
		upgrade: &winget.UpgradeResult{Remaining: pkgs("C")},
	}
	rec := &memRecorder{}
	c := New(lister, WithHistory(rec))
	c.SetOptions(winget.Options{IncludeUnknown: true})

	if _, err := c.Check(context.Background(), false); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	var prev, cur int
	c.Subscribe(func(p, n int, _ []winget.Package) { prev, cur = p, n })

	res, err := c.InstallAll(context.Background())
	if err != nil {
		t.Fatalf("InstallAll failed: %v", err)
	}
	if len(res.Remaining) != 1 || c.Count() != 1 {
		t.Errorf("remaining = %d, count = %d", len(res.Remaining), c.Count())
	}
	if prev != 3 || cur != 1 {
		t.Errorf("observer got %d -> %d", prev, cur)
	}
	if !lister.upgradeOp.IncludeUnknown {
		t.Error("options not passed to the upgrade")
	}

	last := rec.entries[len(rec.entries)-1]
	if last.Kind != history.KindUpgrade || len(last.PackageIDs) != 3 || last.UpdateCount != 1 {
		t.Errorf("upgrade history entry = %+v", last)
	}
}

func TestUpdatesReturnsCopy(t *testing.T) {
	lister := &fakeLister{results: [][]winget.Package{pkgs("A")}}
	c := New(lister)
	if _, err := c.Check(context.Background(), false); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	got := c.Updates()
	got[0].ID = "mutated"
	if c.Updates()[0].ID != "A" {
		t.Error("Updates must not expose internal state")
	}
}

package winget

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRunner answers winget invocations from a table keyed by the joined
// argument list. Unknown invocations fail with exit code 1.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]*Result
	errs      map[string]error
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]*Result),
		errs:      make(map[string]error),
	}
}

func (f *fakeRunner) on(args []string, res *Result) {
	f.responses[strings.Join(args, " ")] = res
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	key := strings.Join(args, " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)

	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if res, ok := f.responses[key]; ok {
		return res, nil
	}
	return &Result{ExitCode: 1, Stderr: "Unrecognized command"}, nil
}

func (f *fakeRunner) called(args []string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func TestListUpgradesTextFallback(t *testing.T) {
	runner := newFakeRunner()
	runner.on(listArgs, &Result{Stdout: renderTable(upgradeHeader, [][]string{
		{"Git", "Git.Git", "2.43.0", "2.44.0", "winget"},
		{"Discord", "Discord.Discord", "1.0.9027", "1.0.9028", "winget"},
		{"Node.js", "OpenJS.NodeJS", "Unknown", "21.6.1", "winget"},
	}) + "3 upgrades available.\n"})
	runner.on(pinListArgs, &Result{Stdout: renderTable([]string{"Name", "Id", "Version", "Source", "Pin"}, [][]string{
		{"Discord", "Discord.Discord", "1.0.9027", "winget", "Pinning"},
	})})

	client := NewClient(runner, nil)
	pkgs, err := client.ListUpgrades(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ListUpgrades failed: %v", err)
	}

	if ids := IDs(pkgs); len(ids) != 1 || ids[0] != "Git.Git" {
		t.Errorf("expected only Git.Git, got %v", ids)
	}
	for _, args := range jsonListArgs {
		if runner.called(args) != 1 {
			t.Errorf("expected one JSON attempt with %v", args)
		}
	}
}

func TestListUpgradesIncludePinnedSkipsPinList(t *testing.T) {
	runner := newFakeRunner()
	runner.on(listArgs, &Result{Stdout: renderTable(upgradeHeader, [][]string{
		{"Discord", "Discord.Discord", "1.0.9027", "1.0.9028", "winget"},
	})})

	client := NewClient(runner, nil)
	client.TryJSON = false

	pkgs, err := client.ListUpgrades(context.Background(), Options{IncludePinned: true})
	if err != nil {
		t.Fatalf("ListUpgrades failed: %v", err)
	}
	if len(pkgs) != 1 {
		t.Errorf("expected 1 package, got %+v", pkgs)
	}
	if runner.called(pinListArgs) != 0 {
		t.Error("pin list should not run when pinned packages are included")
	}
}

func TestListUpgradesJSON(t *testing.T) {
	runner := newFakeRunner()
	runner.on(jsonListArgs[0], &Result{Stdout: `{
  "Sources": [
    {
      "Name": "winget",
      "Packages": [
        {"Name": "Git", "Id": "Git.Git", "Version": "2.43.0", "AvailableVersion": "2.44.0"},
        {"Name": "Same", "Id": "Same.Same", "Version": "1.0", "AvailableVersion": "1.0"}
      ]
    }
  ]
}`})
	runner.on(pinListArgs, &Result{Stdout: "There are no pins configured.\n"})

	client := NewClient(runner, nil)
	pkgs, err := client.ListUpgrades(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ListUpgrades failed: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].ID != "Git.Git" || pkgs[0].Source != "winget" {
		t.Errorf("unexpected packages: %+v", pkgs)
	}
	if runner.called(listArgs) != 0 {
		t.Error("text listing should not run when JSON succeeded")
	}
}

func TestListUpgradesNoUpdates(t *testing.T) {
	runner := newFakeRunner()
	runner.on(listArgs, &Result{Stdout: "No installed package found matching input criteria.\n", ExitCode: -1978335212})

	client := NewClient(runner, nil)
	pkgs, err := client.ListUpgrades(context.Background(), Options{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if pkgs == nil || len(pkgs) != 0 {
		t.Errorf("expected empty list, got %+v", pkgs)
	}
}

func TestListUpgradesExitError(t *testing.T) {
	runner := newFakeRunner()
	runner.on(listArgs, &Result{
		Stdout:   "Failed when searching source: winget\n",
		Stderr:   "An unexpected error occurred while executing the command:\n0x8a15000f : Data required by the source is missing\n",
		ExitCode: -1978335217,
	})

	client := NewClient(runner, nil)
	_, err := client.ListUpgrades(context.Background(), Options{})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != -1978335217 {
		t.Errorf("ExitCode = %d", exitErr.ExitCode)
	}
	if !strings.Contains(err.Error(), "0x8A15000F") || !strings.Contains(err.Error(), "Data required by the source is missing") {
		t.Errorf("error message lacks detail: %v", err)
	}
}

func TestListUpgradesWingetMissing(t *testing.T) {
	runner := newFakeRunner()
	for _, args := range jsonListArgs {
		runner.errs[strings.Join(args, " ")] = ErrWingetNotFound
	}

	client := NewClient(runner, nil)
	_, err := client.ListUpgrades(context.Background(), Options{})
	if !errors.Is(err, ErrWingetNotFound) {
		t.Fatalf("expected ErrWingetNotFound, got %v", err)
	}
	if runner.called(listArgs) != 0 {
		t.Error("should not retry with the text listing when winget is missing")
	}
}

func TestUpgradeAllReportsRemaining(t *testing.T) {
	runner := newFakeRunner()
	runner.on(upgradeAllArgs, &Result{Stdout: "Successfully installed\n", ExitCode: 0})
	runner.on(listArgs, &Result{Stdout: "The following packages have an upgrade available, but require explicit targeting for upgrade:\n" +
		renderTable(upgradeHeader, [][]string{
			{"Spotify", "Spotify.Spotify", "1.2.25", "1.2.26", "winget"},
		})})
	runner.on(pinListArgs, &Result{Stdout: "There are no pins configured.\n"})

	client := NewClient(runner, nil)
	client.TryJSON = false

	res, err := client.UpgradeAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("UpgradeAll failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	if len(res.Remaining) != 1 || !res.Remaining[0].ExplicitTarget {
		t.Errorf("expected Spotify to remain, got %+v", res.Remaining)
	}
	if runner.called(upgradeAllArgs) != 1 {
		t.Error("upgrade --all should run exactly once")
	}
}

func TestUpgradeAllPropagatesCancellation(t *testing.T) {
	runner := newFakeRunner()
	runner.errs[strings.Join(upgradeAllArgs, " ")] = context.Canceled

	client := NewClient(runner, nil)
	_, err := client.UpgradeAll(context.Background(), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// hangingRunner blocks every invocation until its context ends and records
// the deadline it was given.
type hangingRunner struct {
	mu        sync.Mutex
	calls     int
	deadlines []time.Duration
}

func (h *hangingRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	h.mu.Lock()
	h.calls++
	if dl, ok := ctx.Deadline(); ok {
		h.deadlines = append(h.deadlines, time.Until(dl))
	}
	h.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func TestListUpgradesTimesOutHungWinget(t *testing.T) {
	runner := &hangingRunner{}
	client := NewClient(runner, nil)
	client.Timeout = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := client.ListUpgrades(context.Background(), Options{})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListUpgrades did not return after the invocation timeout")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 1 {
		t.Errorf("expected the first timed-out run to stop the listing, got %d calls", runner.calls)
	}
}

func TestClientDefaultTimeouts(t *testing.T) {
	runner := &hangingRunner{}
	client := NewClient(runner, nil)
	if client.Timeout != DefaultTimeout || client.UpgradeTimeout != UpgradeTimeout {
		t.Fatalf("timeouts = %v/%v", client.Timeout, client.UpgradeTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.UpgradeAll(ctx, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.deadlines) != 1 {
		t.Fatalf("expected one bounded run, got %d", len(runner.deadlines))
	}
	if d := runner.deadlines[0]; d <= DefaultTimeout || d > UpgradeTimeout {
		t.Errorf("upgrade run deadline %v, want close to %v", d, UpgradeTimeout)
	}
}

func TestExecRunnerWithoutWinget(t *testing.T) {
	if _, err := exec.LookPath("winget"); err == nil {
		t.Skip("winget is installed")
	}

	_, err := NewExecRunner().Run(context.Background(), "--version")
	if !errors.Is(err, ErrWingetNotFound) {
		t.Fatalf("expected ErrWingetNotFound, got %v", err)
	}
}

package winget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wingetupdater/winget-updater/internal/logging"
)

// Options control which rows count as pending updates.
type Options struct {
	IncludePinned  bool
	IncludeUnknown bool
}

// UpgradeResult is the outcome of UpgradeAll.
type UpgradeResult struct {
	ExitCode  int       `json:"exit_code"`
	Output    string    `json:"output,omitempty"`
	Remaining []Package `json:"remaining"`
	Duration  string    `json:"duration"`
}

var (
	listArgs = []string{"update", "--include-unknown", "--include-pinned", "--accept-source-agreements"}

	jsonListArgs = [][]string{
		{"update", "--include-unknown", "--include-pinned", "--accept-source-agreements", "--format", "json"},
		{"upgrade", "--format", "json", "--accept-source-agreements"},
	}

	upgradeAllArgs = []string{
		"upgrade", "--all",
		"--accept-source-agreements", "--accept-package-agreements",
		"--disable-interactivity", "--silent",
	}

	pinListArgs = []string{"pin", "list"}
)

// Client wraps winget invocations.
type Client struct {
	runner Runner
	logger *logging.Logger

	// TryJSON asks winget for JSON before falling back to the text table.
	TryJSON bool

	// Timeout bounds each listing invocation, UpgradeTimeout the
	// "upgrade --all" run. Zero means no bound beyond ctx.
	Timeout        time.Duration
	UpgradeTimeout time.Duration
}

// NewClient creates a client. A nil runner uses the winget on PATH.
func NewClient(runner Runner, logger *logging.Logger) *Client {
	if runner == nil {
		runner = NewExecRunner()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		runner:         runner,
		logger:         logger,
		TryJSON:        true,
		Timeout:        DefaultTimeout,
		UpgradeTimeout: UpgradeTimeout,
	}
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.runner.Run(ctx, args...)
}

// ListUpgrades returns the packages with a pending update, filtered by opts.
func (c *Client) ListUpgrades(ctx context.Context, opts Options) ([]Package, error) {
	pkgs, err := c.listRaw(ctx)
	if err != nil {
		return nil, err
	}

	var pins map[string]bool
	if !opts.IncludePinned {
		pins, err = c.Pins(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn().Err(err).Msg("Failed to list pinned packages, pinned updates may be shown")
		}
	}

	filtered := Filter(pkgs, pins, opts)
	c.logger.Debug().
		Int("raw", len(pkgs)).
		Int("pending", len(filtered)).
		Int("pins", len(pins)).
		Msg("Parsed winget upgrade list")
	return filtered, nil
}

func (c *Client) listRaw(ctx context.Context) ([]Package, error) {
	if c.TryJSON {
		for _, args := range jsonListArgs {
			res, err := c.run(ctx, c.Timeout, args...)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrWingetNotFound) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				c.logger.Debug().Err(err).Strs("args", args).Msg("JSON listing failed")
				continue
			}
			if res.ExitCode != 0 {
				continue
			}
			if pkgs, ok := ParseUpgradeJSON(res.Stdout); ok {
				c.logger.Debug().Strs("args", args).Msg("Using JSON output")
				return pkgs, nil
			}
		}
	}

	res, err := c.run(ctx, c.Timeout, listArgs...)
	if err != nil {
		return nil, err
	}

	switch {
	case NoUpdates(res.Stdout):
		return []Package{}, nil
	case HasTable(res.Stdout):
		return ParseUpgradeTable(res.Stdout), nil
	case res.ExitCode != 0:
		return nil, &ExitError{Args: listArgs, ExitCode: res.ExitCode, Stderr: firstNonEmpty(res.Stderr, res.Stdout)}
	}
	return []Package{}, nil
}

// Pins returns the IDs of pinned packages. winget builds without the pin
// command yield an empty set.
func (c *Client) Pins(ctx context.Context) (map[string]bool, error) {
	res, err := c.run(ctx, c.Timeout, pinListArgs...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		c.logger.Debug().Int("exit_code", res.ExitCode).Msg("winget pin list unavailable")
		return map[string]bool{}, nil
	}
	return ParsePinList(res.Stdout), nil
}

// UpgradeAll upgrades every package winget will upgrade unattended, then
// lists again to report what is still pending.
func (c *Client) UpgradeAll(ctx context.Context, opts Options) (*UpgradeResult, error) {
	start := time.Now()
	c.logger.Info().Msg("Installing all available updates")

	res, err := c.run(ctx, c.UpgradeTimeout, upgradeAllArgs...)
	if err != nil {
		return nil, fmt.Errorf("upgrade failed: %w", err)
	}

	remaining, err := c.ListUpgrades(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("verifying upgrade: %w", err)
	}

	result := &UpgradeResult{
		ExitCode:  res.ExitCode,
		Output:    res.Stdout,
		Remaining: remaining,
		Duration:  time.Since(start).Round(time.Second).String(),
	}

	ev := c.logger.Info()
	if len(remaining) > 0 || res.ExitCode != 0 {
		ev = c.logger.Warn()
	}
	ev.Int("exit_code", res.ExitCode).
		Int("remaining", len(remaining)).
		Str("duration", result.Duration).
		Msg("Upgrade run finished")

	return result, nil
}

// Filter applies pin, unknown-version and version-comparison rules and
// drops duplicate IDs. pins may be nil.
func Filter(pkgs []Package, pins map[string]bool, opts Options) []Package {
	out := make([]Package, 0, len(pkgs))
	seen := make(map[string]bool, len(pkgs))

	for _, p := range pkgs {
		if pins[p.ID] {
			p.Pinned = true
		}
		if p.Pinned && !opts.IncludePinned {
			continue
		}
		if p.UnknownVersion && !opts.IncludeUnknown {
			continue
		}
		if !IsUpgrade(p.CurrentVersion, p.AvailableVersion, opts.IncludeUnknown) {
			continue
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// IDs returns the package IDs in order.
func IDs(pkgs []Package) []string {
	ids := make([]string, len(pkgs))
	for i, p := range pkgs {
		ids[i] = p.ID
	}
	return ids
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

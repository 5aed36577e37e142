// Package winget runs the winget command line client and parses its output.
package winget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrWingetNotFound is returned when winget.exe cannot be located.
var ErrWingetNotFound = errors.New("winget executable not found")

// DefaultTimeout bounds a single winget invocation made by Client. Source
// updates on a slow connection can take minutes; a full upgrade run is given
// UpgradeTimeout.
const (
	DefaultTimeout = 5 * time.Minute
	UpgradeTimeout = 2 * time.Hour
)

// Result is the captured outcome of one winget invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes winget with the given arguments.
// A non-zero exit code is reported in Result, not as an error; errors are
// reserved for failures to start the process or cancellation.
type Runner interface {
	Run(ctx context.Context, args ...string) (*Result, error)
}

// ExecRunner runs the real winget executable.
type ExecRunner struct {
	// Path is the executable. Empty means "winget" resolved from PATH.
	Path string
}

// NewExecRunner creates a runner for the winget on PATH.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	path := r.Path
	if path == "" {
		resolved, err := exec.LookPath("winget")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWingetNotFound, err)
		}
		path = resolved
	}

	cmd := exec.CommandContext(ctx, path, args...)
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("winget %s: %w", strings.Join(args, " "), ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrWingetNotFound, err)
		}
		return nil, fmt.Errorf("failed to run winget: %w", err)
	}

	return res, nil
}

// ExitError describes a winget run that failed without usable output.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("winget %s exited with code %d (0x%08X)", strings.Join(e.Args, " "), e.ExitCode, uint32(e.ExitCode))
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func lastLine(s string) string {
	lines := cleanLines(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return t
		}
	}
	return ""
}

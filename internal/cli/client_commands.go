package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/ipc"
)

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the checker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().GetStatus(cmd.Context())
			if err != nil {
				return daemonError(err)
			}

			out := cmd.OutOrStdout()
			now := time.Now()
			host := "standalone"
			if status.ServiceMode {
				host = "Windows service"
			}

			fmt.Fprintf(out, "Checker:     %s (%s, %s)\n", status.State, host, status.Version)
			if status.PID > 0 {
				fmt.Fprintf(out, "PID:         %d\n", status.PID)
			}
			if status.Uptime != "" {
				fmt.Fprintf(out, "Uptime:      %s\n", status.Uptime)
			}
			fmt.Fprint(out, "Updates:     ")
			if status.UpdateCount > 0 {
				warningColor.Fprintln(out, pluralUpdates(status.UpdateCount)+" available")
			} else {
				successColor.Fprintln(out, "No updates available")
			}
			fmt.Fprintf(out, "Last check:  %s\n", formatTime(status.LastCheck, now))
			if status.AutoCheck {
				fmt.Fprintf(out, "Next check:  %s\n", formatTime(status.NextCheck, now))
			} else {
				fmt.Fprintln(out, "Next check:  automatic checks disabled")
			}
			if status.CheckInProgress {
				dimColor.Fprintln(out, "A check is running")
			}
			if status.LastError != "" {
				printError(out, "Last check failed: %s", status.LastError)
			}
			return nil
		},
	}
}

// newCheckCmd creates the 'check' command.
func newCheckCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check for updates now",
		Long: `Ask the checker to run winget now and print the result.

Only one check runs at a time. Without --force the command fails while a
check is running; with --force it waits for the running check and starts a
new one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dimColor.Fprintln(out, "Checking for updates...")

			result, err := newClient().CheckUpdates(cmd.Context(), force)
			if err != nil {
				if errors.Is(err, ipc.ErrBusy) {
					printWarning(out, "A check is already running; try again shortly or use --force")
					return nil
				}
				return daemonError(err)
			}

			if result.UpdateCount == 0 {
				printSuccess(out, "No updates available (checked in %s)", result.Duration)
				return nil
			}
			warningColor.Fprintf(out, "%s (checked in %s)\n", pluralUpdates(result.UpdateCount)+" available", result.Duration)
			fmt.Fprintln(out, renderUpdates(result.Updates))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Wait for a running check and start a new one")

	return cmd
}

// newUpdatesCmd creates the 'updates' command.
func newUpdatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "List the updates found by the last check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().GetUpdates(cmd.Context())
			if err != nil {
				return daemonError(err)
			}

			out := cmd.OutOrStdout()
			dimColor.Fprintf(out, "Last check: %s\n", formatTime(data.LastCheck, time.Now()))
			if len(data.Updates) == 0 {
				printSuccess(out, "No updates available")
				return nil
			}
			fmt.Fprintln(out, renderUpdates(data.Updates))
			return nil
		},
	}
}

// newUpgradeAllCmd creates the 'upgrade-all' command.
func newUpgradeAllCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "upgrade-all",
		Short: "Install all available updates",
		Long: `Run "winget upgrade --all" through the checker and re-check afterwards.

Some installers show their own windows or ask for elevation while this runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			out := cmd.OutOrStdout()

			data, err := client.GetUpdates(cmd.Context())
			if err != nil {
				return daemonError(err)
			}
			if len(data.Updates) == 0 {
				printSuccess(out, "No updates to install")
				return nil
			}

			if !yes {
				fmt.Fprintln(out, renderUpdates(data.Updates))
				ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Install %s?", pluralUpdates(len(data.Updates))))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			dimColor.Fprintln(out, "Installing updates, this can take a while...")
			result, err := client.InstallAll(cmd.Context())
			if err != nil {
				return daemonError(err)
			}

			if result.ExitCode != 0 {
				printWarning(out, "winget exited with code %d after %s", result.ExitCode, result.Duration)
			} else {
				printSuccess(out, "Upgrade finished in %s", result.Duration)
			}
			if len(result.Remaining) > 0 {
				warningColor.Fprintf(out, "%s still pending:\n", pluralUpdates(len(result.Remaining)))
				fmt.Fprintln(out, renderUpdates(result.Remaining))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func pluralUpdates(n int) string {
	if n == 1 {
		return "1 update"
	}
	return fmt.Sprintf("%d updates", n)
}

// newHistoryCmd creates the 'history' command.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent checks and upgrades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newClient().GetHistory(cmd.Context(), limit)
			if err != nil {
				return daemonError(err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No checks recorded yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")

	return cmd
}

// newLogsCmd creates the 'logs' command.
func newLogsCmd() *cobra.Command {
	var (
		count  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the checker's recent log entries",
		Long: `Print the most recent entries from the checker's in-memory log.

With --follow the command keeps polling and prints new entries until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			out := cmd.OutOrStdout()

			entries, err := client.GetRecentLogs(cmd.Context(), count)
			if err != nil {
				return daemonError(err)
			}
			for _, e := range entries {
				fmt.Fprintln(out, formatLogEntry(e))
			}
			if !follow {
				return nil
			}
			return followLogs(cmd.Context(), client, entries, func(e ipc.LogEntryData) {
				fmt.Fprintln(out, formatLogEntry(e))
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 100, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")

	return cmd
}

const (
	followInterval = 2 * time.Second
	followFetch    = 1000
)

// followLogs polls the daemon and emits entries newer than the last one seen.
func followLogs(ctx context.Context, client *ipc.Client, seen []ipc.LogEntryData, emit func(ipc.LogEntryData)) error {
	var last ipc.LogEntryData
	if len(seen) > 0 {
		last = seen[len(seen)-1]
	}

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		entries, err := client.GetRecentLogs(ctx, followFetch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return daemonError(err)
		}
		fresh := newEntries(entries, last)
		for _, e := range fresh {
			emit(e)
		}
		if len(fresh) > 0 {
			last = fresh[len(fresh)-1]
		}
	}
}

// newEntries returns the entries after last. The buffer only grows at the
// end, so the match is searched from the back.
func newEntries(entries []ipc.LogEntryData, last ipc.LogEntryData) []ipc.LogEntryData {
	if last.Timestamp == "" {
		return entries
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Timestamp == last.Timestamp && e.Message == last.Message {
			return entries[i+1:]
		}
	}
	// last rotated out of the buffer; everything newer is new.
	lastTime, err := time.Parse(time.RFC3339Nano, last.Timestamp)
	if err != nil {
		return entries
	}
	var out []ipc.LogEntryData
	for _, e := range entries {
		if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil && t.After(lastTime) {
			out = append(out, e)
		}
	}
	return out
}

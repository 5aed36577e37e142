package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.Faint)
	headerColor  = color.New(color.FgWhite, color.Bold)

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func init() {
	if !isTerminal(os.Stdout) {
		color.NoColor = true
	}
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	successColor.Fprintf(w, "✓ "+format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	warningColor.Fprintf(w, "! "+format+"\n", args...)
}

func printError(w io.Writer, format string, args ...interface{}) {
	errorColor.Fprintf(w, "✗ "+format+"\n", args...)
}

// newTable returns a bordered table with the shared styles.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

// renderUpdates formats the update list as a table.
func renderUpdates(pkgs []winget.Package) string {
	t := newTable("Name", "Id", "Version", "Available", "Source")
	for _, p := range pkgs {
		name := p.Name
		if p.Pinned {
			name += " (pinned)"
		}
		t.Row(name, p.ID, p.CurrentVersion, p.AvailableVersion, p.Source)
	}
	return t.String()
}

// renderHistory formats check history, newest first as returned by the daemon.
func renderHistory(entries []history.Entry) string {
	t := newTable("Started", "Kind", "Trigger", "Updates", "Duration", "Result")
	for _, e := range entries {
		result := "ok"
		if e.Error != "" {
			result = truncate(e.Error, 48)
		}
		kind := e.Kind
		if e.Forced {
			kind += " (forced)"
		}
		t.Row(
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			kind,
			e.Trigger,
			strconv.Itoa(e.UpdateCount),
			e.Duration.Round(time.Second).String(),
			result,
		)
	}
	return t.String()
}

// formatLogEntry renders one log entry the way the log file does.
func formatLogEntry(e ipc.LogEntryData) string {
	ts := e.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		ts = t.Local().Format("2006-01-02 15:04:05")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s", ts, e.Level, e.Stage, e.Message)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

// formatTime renders an optional timestamp with its age.
func formatTime(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	age := now.Sub(*t)
	if age < 0 {
		return fmt.Sprintf("%s (in %s)", t.Local().Format("2006-01-02 15:04"), (-age).Round(time.Minute))
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format("2006-01-02 15:04"), age.Round(time.Minute))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

var updateHeaders = []string{"Name", "Id", "Version", "Available", "Source"}

// updatesWindow lists the pending updates.
type updatesWindow struct {
	win    fyne.Window
	client *ipc.Client

	mu        sync.RWMutex
	updates   []winget.Package
	lastCheck *time.Time

	table      *widget.Table
	status     *widget.Label
	checkBtn   *widget.Button
	installBtn *widget.Button
}

func newUpdatesWindow(a fyne.App, client *ipc.Client) *updatesWindow {
	uw := &updatesWindow{
		win:    a.NewWindow("Winget Updater - Available Updates"),
		client: client,
	}

	uw.table = widget.NewTable(
		func() (int, int) {
			uw.mu.RLock()
			defer uw.mu.RUnlock()
			return len(uw.updates) + 1, len(updateHeaders)
		},
		func() fyne.CanvasObject {
			return widget.NewLabel("cell")
		},
		func(cell widget.TableCellID, obj fyne.CanvasObject) {
			label := obj.(*widget.Label)
			if cell.Row == 0 {
				label.TextStyle = fyne.TextStyle{Bold: true}
			} else {
				label.TextStyle = fyne.TextStyle{}
			}
			uw.mu.RLock()
			defer uw.mu.RUnlock()
			label.SetText(cellText(uw.updates, cell.Row, cell.Col))
		},
	)
	for col, width := range []float32{220, 220, 110, 110, 80} {
		uw.table.SetColumnWidth(col, width)
	}

	uw.status = widget.NewLabel("Loading...")
	uw.checkBtn = widget.NewButton("Check Now", uw.check)
	uw.installBtn = widget.NewButton("Install All", uw.confirmInstall)
	uw.installBtn.Importance = widget.HighImportance
	uw.installBtn.Disable()

	buttons := container.NewHBox(uw.checkBtn, uw.installBtn)
	uw.win.SetContent(container.NewBorder(
		nil,
		container.NewBorder(nil, nil, nil, buttons, uw.status),
		nil, nil,
		uw.table,
	))
	uw.win.Resize(fyne.NewSize(780, 420))

	go uw.load()
	return uw
}

// cellText returns the text of one table cell; row 0 is the header.
func cellText(pkgs []winget.Package, row, col int) string {
	if row == 0 {
		if col < len(updateHeaders) {
			return updateHeaders[col]
		}
		return ""
	}
	if row-1 >= len(pkgs) {
		return ""
	}
	p := pkgs[row-1]
	switch col {
	case 0:
		if p.Pinned {
			return p.Name + " (pinned)"
		}
		return p.Name
	case 1:
		return p.ID
	case 2:
		return p.CurrentVersion
	case 3:
		return p.AvailableVersion
	case 4:
		return p.Source
	}
	return ""
}

// statusText summarises the list for the status label.
func statusText(count int, lastCheck *time.Time) string {
	var b strings.Builder
	switch count {
	case 0:
		b.WriteString("No updates available")
	case 1:
		b.WriteString("1 update available")
	default:
		fmt.Fprintf(&b, "%d updates available", count)
	}
	if lastCheck == nil {
		b.WriteString(" (not checked yet)")
	} else {
		fmt.Fprintf(&b, " (last check %s)", lastCheck.Local().Format("2006-01-02 15:04"))
	}
	return b.String()
}

func (uw *updatesWindow) setUpdates(pkgs []winget.Package, lastCheck *time.Time) {
	uw.mu.Lock()
	uw.updates = pkgs
	uw.lastCheck = lastCheck
	uw.mu.Unlock()

	fyne.Do(func() {
		uw.table.Refresh()
		uw.status.SetText(statusText(len(pkgs), lastCheck))
		uw.setBusy(false)
	})
}

// setBusy must run on the UI goroutine.
func (uw *updatesWindow) setBusy(busy bool) {
	uw.mu.RLock()
	count := len(uw.updates)
	uw.mu.RUnlock()

	if busy {
		uw.checkBtn.Disable()
		uw.installBtn.Disable()
		return
	}
	uw.checkBtn.Enable()
	if count > 0 {
		uw.installBtn.Enable()
	} else {
		uw.installBtn.Disable()
	}
}

func (uw *updatesWindow) showError(msg string, err error) {
	guiLogger.Error().Err(err).Msg(msg)
	fyne.Do(func() {
		uw.status.SetText(msg)
		uw.setBusy(false)
		dialog.ShowError(fmt.Errorf("%s: %w", msg, err), uw.win)
	})
}

func (uw *updatesWindow) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := uw.client.GetUpdates(ctx)
	if err != nil {
		uw.showError("Could not reach the update checker", err)
		return
	}
	uw.setUpdates(data.Updates, data.LastCheck)
}

func (uw *updatesWindow) check() {
	uw.setBusy(true)
	uw.status.SetText("Checking for updates...")

	go func() {
		result, err := uw.client.CheckUpdates(context.Background(), false)
		if err != nil {
			if errors.Is(err, ipc.ErrBusy) {
				fyne.Do(func() {
					uw.status.SetText("A check is already running")
					uw.setBusy(false)
				})
				return
			}
			uw.showError("Update check failed", err)
			return
		}
		checkedAt := result.CheckedAt
		uw.setUpdates(result.Updates, &checkedAt)
	}()
}

func (uw *updatesWindow) confirmInstall() {
	uw.mu.RLock()
	count := len(uw.updates)
	uw.mu.RUnlock()

	msg := fmt.Sprintf("Install %d updates now?\n\nSome installers may open their own windows.", count)
	if count == 1 {
		msg = "Install 1 update now?\n\nThe installer may open its own window."
	}
	dialog.ShowConfirm("Install All Updates", msg, func(ok bool) {
		if ok {
			uw.install()
		}
	}, uw.win)
}

func (uw *updatesWindow) install() {
	uw.setBusy(true)
	uw.status.SetText("Installing updates, this can take a while...")

	go func() {
		result, err := uw.client.InstallAll(context.Background())
		if err != nil {
			uw.showError("Installing updates failed", err)
			return
		}
		now := time.Now()
		uw.setUpdates(result.Remaining, &now)

		msg := fmt.Sprintf("winget finished in %s.", result.Duration)
		if result.ExitCode != 0 {
			msg = fmt.Sprintf("winget exited with code %d after %s.", result.ExitCode, result.Duration)
		}
		if n := len(result.Remaining); n > 0 {
			msg += fmt.Sprintf("\n%d updates are still pending.", n)
		}
		fyne.Do(func() {
			dialog.ShowInformation("Install All Updates", msg, uw.win)
		})
	}()
}

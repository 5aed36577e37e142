package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/ipc"
)

// settingsForm holds the raw values of the settings window.
type settingsForm struct {
	MorningCheck    string
	AfternoonCheck  string
	NotifyOnUpdates bool
	AutoCheck       bool
	IncludePinned   bool
	IncludeUnknown  bool
}

func formFromSettings(s *config.Settings) settingsForm {
	return settingsForm{
		MorningCheck:    s.MorningCheck,
		AfternoonCheck:  s.AfternoonCheck,
		NotifyOnUpdates: s.NotifyOnUpdates,
		AutoCheck:       s.AutoCheck,
		IncludePinned:   s.IncludePinned,
		IncludeUnknown:  s.IncludeUnknown,
	}
}

// apply validates f and writes it into a copy of base.
func (f settingsForm) apply(base *config.Settings) (*config.Settings, error) {
	out := base.Clone()
	values := []struct{ key, value string }{
		{"morning_check", f.MorningCheck},
		{"afternoon_check", f.AfternoonCheck},
		{"notify_on_updates", strconv.FormatBool(f.NotifyOnUpdates)},
		{"auto_check", strconv.FormatBool(f.AutoCheck)},
		{"include_pinned_updates", strconv.FormatBool(f.IncludePinned)},
		{"include_unknown_versions", strconv.FormatBool(f.IncludeUnknown)},
	}
	for _, v := range values {
		if err := out.Set(v.key, v.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateClock(s string) error {
	_, err := config.ParseClock(s)
	return err
}

// settingsWindow edits settings.ini through the checker.
type settingsWindow struct {
	win    fyne.Window
	client *ipc.Client
	loaded *config.Settings

	morning   *widget.Entry
	afternoon *widget.Entry
	notify    *widget.Check
	auto      *widget.Check
	pinned    *widget.Check
	unknown   *widget.Check
	lastCheck *widget.Label
	saveBtn   *widget.Button
}

func newSettingsWindow(a fyne.App, client *ipc.Client) *settingsWindow {
	sw := &settingsWindow{
		win:    a.NewWindow("Winget Updater - Settings"),
		client: client,
	}

	sw.morning = widget.NewEntry()
	sw.morning.SetPlaceHolder("HH:MM")
	sw.morning.Validator = validateClock
	sw.afternoon = widget.NewEntry()
	sw.afternoon.SetPlaceHolder("HH:MM")
	sw.afternoon.Validator = validateClock

	sw.notify = widget.NewCheck("Show a notification when updates are found", nil)
	sw.auto = widget.NewCheck("Check automatically at the times above", nil)
	sw.pinned = widget.NewCheck("List packages held by a winget pin", nil)
	sw.unknown = widget.NewCheck("List packages with an unknown installed version", nil)
	sw.lastCheck = widget.NewLabel("")

	form := widget.NewForm(
		widget.NewFormItem("Morning check", sw.morning),
		widget.NewFormItem("Afternoon check", sw.afternoon),
	)

	sw.saveBtn = widget.NewButton("Save", sw.save)
	sw.saveBtn.Importance = widget.HighImportance
	sw.saveBtn.Disable()
	cancelBtn := widget.NewButton("Close", sw.win.Close)

	sw.win.SetContent(container.NewVBox(
		widget.NewLabelWithStyle("Check schedule", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		form,
		sw.auto,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Notifications and filters", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		sw.notify,
		sw.pinned,
		sw.unknown,
		widget.NewSeparator(),
		sw.lastCheck,
		container.NewHBox(sw.saveBtn, cancelBtn),
	))
	sw.win.Resize(fyne.NewSize(440, 0))

	go sw.load()
	return sw
}

func (sw *settingsWindow) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := sw.client.GetSettings(ctx)
	if err != nil {
		guiLogger.Error().Err(err).Msg("Failed to load settings")
		fyne.Do(func() {
			sw.lastCheck.SetText("The update checker is not running")
			dialog.ShowError(fmt.Errorf("could not load settings: %w", err), sw.win)
		})
		return
	}
	fyne.Do(func() { sw.show(s) })
}

// show must run on the UI goroutine.
func (sw *settingsWindow) show(s *config.Settings) {
	sw.loaded = s
	f := formFromSettings(s)
	sw.morning.SetText(f.MorningCheck)
	sw.afternoon.SetText(f.AfternoonCheck)
	sw.notify.SetChecked(f.NotifyOnUpdates)
	sw.auto.SetChecked(f.AutoCheck)
	sw.pinned.SetChecked(f.IncludePinned)
	sw.unknown.SetChecked(f.IncludeUnknown)

	if s.LastCheck != nil {
		sw.lastCheck.SetText("Last check: " + s.LastCheck.Local().Format("2006-01-02 15:04"))
	} else {
		sw.lastCheck.SetText("Last check: never")
	}
	sw.saveBtn.Enable()
}

func (sw *settingsWindow) save() {
	f := settingsForm{
		MorningCheck:    sw.morning.Text,
		AfternoonCheck:  sw.afternoon.Text,
		NotifyOnUpdates: sw.notify.Checked,
		AutoCheck:       sw.auto.Checked,
		IncludePinned:   sw.pinned.Checked,
		IncludeUnknown:  sw.unknown.Checked,
	}
	s, err := f.apply(sw.loaded)
	if err != nil {
		dialog.ShowError(err, sw.win)
		return
	}

	sw.saveBtn.Disable()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		saved, err := sw.client.SaveSettings(ctx, s)
		fyne.Do(func() {
			sw.saveBtn.Enable()
			if err != nil {
				guiLogger.Error().Err(err).Msg("Failed to save settings")
				dialog.ShowError(fmt.Errorf("could not save settings: %w", err), sw.win)
				return
			}
			sw.show(saved)
			dialog.ShowInformation("Settings", "Settings saved.", sw.win)
		})
	}()
}

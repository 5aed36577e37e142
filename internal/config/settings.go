package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

// Settings represents settings.ini.
//
// INI format:
//
//	[Settings]
//	morning_check = 08:00
//	afternoon_check = 16:00
//	notify_on_updates = true
//	auto_check = true
//	include_pinned_updates = false
//	include_unknown_versions = false
//	last_check = 2025-03-01T08:00:12+01:00
type Settings struct {
	// MorningCheck is the first daily check time (HH:MM).
	MorningCheck string `json:"morning_check"`

	// AfternoonCheck is the second daily check time (HH:MM).
	AfternoonCheck string `json:"afternoon_check"`

	// NotifyOnUpdates enables desktop notifications.
	NotifyOnUpdates bool `json:"notify_on_updates"`

	// AutoCheck enables the scheduled checks. Manual checks always work.
	AutoCheck bool `json:"auto_check"`

	// IncludePinned keeps packages held by a winget pin in the update list.
	IncludePinned bool `json:"include_pinned_updates"`

	// IncludeUnknown keeps packages whose installed version winget cannot determine.
	IncludeUnknown bool `json:"include_unknown_versions"`

	// LastCheck is the time of the last successful check. Nil if never.
	LastCheck *time.Time `json:"last_check,omitempty"`
}

// SectionName is the single INI section used by the settings file.
const SectionName = "Settings"

// Defaults
const (
	DefaultMorningCheck   = "08:00"
	DefaultAfternoonCheck = "16:00"
)

// Settings validation errors
var (
	ErrInvalidMorningCheck   = errors.New("morning_check must be in HH:MM format")
	ErrInvalidAfternoonCheck = errors.New("afternoon_check must be in HH:MM format")
)

// NewSettings returns settings with default values.
func NewSettings() *Settings {
	return &Settings{
		MorningCheck:    DefaultMorningCheck,
		AfternoonCheck:  DefaultAfternoonCheck,
		NotifyOnUpdates: true,
		AutoCheck:       true,
	}
}

// Validate checks the two check times.
func (s *Settings) Validate() error {
	if _, err := ParseClock(s.MorningCheck); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMorningCheck, s.MorningCheck)
	}
	if _, err := ParseClock(s.AfternoonCheck); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAfternoonCheck, s.AfternoonCheck)
	}
	return nil
}

// CheckTimes returns the parsed morning and afternoon times.
// Invalid values fall back to the defaults.
func (s *Settings) CheckTimes() []Clock {
	morning, err := ParseClock(s.MorningCheck)
	if err != nil {
		morning, _ = ParseClock(DefaultMorningCheck)
	}
	afternoon, err := ParseClock(s.AfternoonCheck)
	if err != nil {
		afternoon, _ = ParseClock(DefaultAfternoonCheck)
	}
	return []Clock{morning, afternoon}
}

// EditableKeys lists the INI keys accepted by Set, in file order.
var EditableKeys = []string{
	"morning_check",
	"afternoon_check",
	"notify_on_updates",
	"auto_check",
	"include_pinned_updates",
	"include_unknown_versions",
}

// Set assigns one setting by its INI key. Times must be HH:MM and booleans
// anything strconv.ParseBool accepts.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)

	var target *bool
	switch key {
	case "morning_check", "afternoon_check":
		c, err := ParseClock(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == "morning_check" {
			s.MorningCheck = c.String()
		} else {
			s.AfternoonCheck = c.String()
		}
		return nil
	case "notify_on_updates":
		target = &s.NotifyOnUpdates
	case "auto_check":
		target = &s.AutoCheck
	case "include_pinned_updates":
		target = &s.IncludePinned
	case "include_unknown_versions":
		target = &s.IncludeUnknown
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: expected true or false, got %q", key, value)
	}
	*target = b
	return nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	c := *s
	if s.LastCheck != nil {
		t := *s.LastCheck
		c.LastCheck = &t
	}
	return &c
}

// Store reads and writes settings.ini on a filesystem.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore creates a store for path on fs.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// NewOSStore creates a store on the real filesystem.
// If path is empty, uses SettingsPath().
func NewOSStore(path string) *Store {
	if path == "" {
		path = SettingsPath()
	}
	return NewStore(afero.NewOsFs(), path)
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file.
// If the file doesn't exist, returns defaults and no error.
// Unparseable check times are replaced by their defaults.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Settings, error) {
	cfg := NewSettings()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	iniFile, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	sec := iniFile.Section(SectionName)
	cfg.MorningCheck = sec.Key("morning_check").MustString(DefaultMorningCheck)
	cfg.AfternoonCheck = sec.Key("afternoon_check").MustString(DefaultAfternoonCheck)
	cfg.NotifyOnUpdates = sec.Key("notify_on_updates").MustBool(true)
	cfg.AutoCheck = sec.Key("auto_check").MustBool(true)
	cfg.IncludePinned = sec.Key("include_pinned_updates").MustBool(false)
	cfg.IncludeUnknown = sec.Key("include_unknown_versions").MustBool(false)

	if c, err := ParseClock(cfg.MorningCheck); err != nil {
		cfg.MorningCheck = DefaultMorningCheck
	} else {
		cfg.MorningCheck = c.String()
	}
	if c, err := ParseClock(cfg.AfternoonCheck); err != nil {
		cfg.AfternoonCheck = DefaultAfternoonCheck
	} else {
		cfg.AfternoonCheck = c.String()
	}

	if raw := sec.Key("last_check").String(); raw != "" {
		if t, err := parseLastCheck(raw); err == nil {
			cfg.LastCheck = &t
		}
	}

	return cfg, nil
}

// LoadOrCreate loads the settings and writes a default file when none exists.
func (s *Store) LoadOrCreate() (*Settings, error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings: %w", err)
	}
	if !exists {
		cfg := NewSettings()
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return s.Load()
}

// Save validates and writes the settings file.
// Creates parent directories if they don't exist.
func (s *Store) Save(cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg *Settings) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	iniFile := ini.Empty()
	sec, err := iniFile.NewSection(SectionName)
	if err != nil {
		return fmt.Errorf("failed to create settings section: %w", err)
	}

	morning, _ := ParseClock(cfg.MorningCheck)
	afternoon, _ := ParseClock(cfg.AfternoonCheck)
	sec.Key("morning_check").SetValue(morning.String())
	sec.Key("afternoon_check").SetValue(afternoon.String())
	sec.Key("notify_on_updates").SetValue(strconv.FormatBool(cfg.NotifyOnUpdates))
	sec.Key("auto_check").SetValue(strconv.FormatBool(cfg.AutoCheck))
	sec.Key("include_pinned_updates").SetValue(strconv.FormatBool(cfg.IncludePinned))
	sec.Key("include_unknown_versions").SetValue(strconv.FormatBool(cfg.IncludeUnknown))
	lastCheck := ""
	if cfg.LastCheck != nil {
		lastCheck = cfg.LastCheck.Format(time.RFC3339)
	}
	sec.Key("last_check").SetValue(lastCheck)

	// Temporary file + rename for atomicity
	tmpPath := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if _, err := iniFile.WriteTo(f); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := s.fs.Chmod(tmpPath, 0600); err != nil {
			s.fs.Remove(tmpPath)
			return fmt.Errorf("failed to set settings permissions: %w", err)
		}
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// SetLastCheck records the time of a successful check, keeping every other key.
func (s *Store) SetLastCheck(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	cfg.LastCheck = &t
	return s.saveLocked(cfg)
}

// parseLastCheck accepts RFC3339 and the naive ISO format written by older versions.
func parseLastCheck(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized last_check value %q", raw)
}

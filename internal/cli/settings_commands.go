package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/config"
)

// newSettingsCmd creates the 'settings' command group.
func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		Long: `Show or change the settings in settings.ini.

When a checker is running the change goes through it, so the new schedule
takes effect immediately. Otherwise the file is edited directly.

Keys:
  morning_check             First daily check (HH:MM)
  afternoon_check           Second daily check (HH:MM)
  notify_on_updates         Show desktop notifications (true/false)
  auto_check                Run the scheduled checks (true/false)
  include_pinned_updates    List packages held by a winget pin (true/false)
  include_unknown_versions  List packages with an unknown installed version (true/false)`,
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsPathCmd())

	return cmd
}

// settingsSource loads and saves settings through the daemon when it
// answers and through the file otherwise.
type settingsSource struct {
	store   *config.Store
	viaIPC  bool
	timeout time.Duration
}

func newSettingsSource(ctx context.Context) *settingsSource {
	src := &settingsSource{store: config.NewOSStore(""), timeout: 2 * time.Second}

	pingCtx, cancel := context.WithTimeout(ctx, src.timeout)
	defer cancel()
	src.viaIPC = newClient().Ping(pingCtx) == nil
	return src
}

func (s *settingsSource) load(ctx context.Context) (*config.Settings, error) {
	if s.viaIPC {
		cfg, err := newClient().GetSettings(ctx)
		return cfg, daemonError(err)
	}
	return s.store.Load()
}

func (s *settingsSource) save(ctx context.Context, cfg *config.Settings) (*config.Settings, error) {
	if s.viaIPC {
		saved, err := newClient().SaveSettings(ctx, cfg)
		return saved, daemonError(err)
	}
	if err := s.store.Save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := newSettingsSource(cmd.Context())
			cfg, err := src.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			printSettings(cmd.OutOrStdout(), cfg)
			if !src.viaIPC {
				dimColor.Fprintf(cmd.OutOrStdout(), "\nRead from %s (no checker running)\n", src.store.Path())
			}
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Change one or more settings",
		Example: `  winget-updater settings set morning_check=07:30
  winget-updater settings set notify_on_updates=false auto_check=true`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := newSettingsSource(cmd.Context())
			cfg, err := src.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			if err := applySettings(cfg, args); err != nil {
				return err
			}

			saved, err := src.save(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
			printSuccess(cmd.OutOrStdout(), "Settings saved")
			printSettings(cmd.OutOrStdout(), saved)
			return nil
		},
	}
}

// applySettings applies key=value pairs in order.
func applySettings(cfg *config.Settings, pairs []string) error {
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		if err := cfg.Set(strings.TrimSpace(key), value); err != nil {
			return err
		}
	}
	return nil
}

func newSettingsPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the settings, log and history file locations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Settings:     %s\n", config.SettingsPath())
			fmt.Fprintf(out, "History:      %s\n", config.HistoryPath())
			fmt.Fprintf(out, "Service log:  %s\n", config.LogFilePath(true))
			fmt.Fprintf(out, "Session log:  %s\n", config.LogFilePath(false))
		},
	}
}

func printSettings(out io.Writer, cfg *config.Settings) {
	t := newTable("Setting", "Value").
		Row("morning_check", cfg.MorningCheck).
		Row("afternoon_check", cfg.AfternoonCheck).
		Row("notify_on_updates", strconv.FormatBool(cfg.NotifyOnUpdates)).
		Row("auto_check", strconv.FormatBool(cfg.AutoCheck)).
		Row("include_pinned_updates", strconv.FormatBool(cfg.IncludePinned)).
		Row("include_unknown_versions", strconv.FormatBool(cfg.IncludeUnknown))

	last := "never"
	if cfg.LastCheck != nil {
		last = cfg.LastCheck.Local().Format("2006-01-02 15:04:05")
	}
	t.Row("last_check", last)

	fmt.Fprintln(out, t.String())
}

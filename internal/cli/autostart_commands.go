package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/autostart"
)

// newAutostartCmd creates the 'autostart' command group.
func newAutostartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start the tray icon at logon",
		Long: `Manage the per-user Run key entry that starts the tray icon at logon.

No administrator rights are needed.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add",
		Short: "Start the tray icon at logon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tray, err := autostart.TrayExecutablePath()
			if err != nil {
				return err
			}
			if err := autostart.NewManager().Add(tray); err != nil {
				return fmt.Errorf("failed to add autostart entry: %w", err)
			}
			GetLogger().Debug().Str("path", tray).Msg("Autostart entry written")
			printSuccess(cmd.OutOrStdout(), "Tray will start at logon")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Stop starting the tray icon at logon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := autostart.NewManager().Remove(); err != nil {
				return fmt.Errorf("failed to remove autostart entry: %w", err)
			}
			printSuccess(cmd.OutOrStdout(), "Autostart entry removed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the tray starts at logon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := autostart.NewManager().Status()
			if err != nil {
				return fmt.Errorf("failed to read autostart entry: %w", err)
			}
			out := cmd.OutOrStdout()
			if !state.Enabled {
				warningColor.Fprintln(out, "Autostart: disabled")
				return nil
			}
			successColor.Fprintln(out, "Autostart: enabled")
			fmt.Fprintf(out, "Command:   %s\n", state.Command)
			return nil
		},
	})

	return cmd
}

// Package cli provides the command-line interface for winget-updater.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wingetupdater/winget-updater/internal/ipc"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/version"
)

var (
	// Global flags
	verbose bool
	debug   bool
	address string

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command. Without a subcommand it does what the
// Start menu shortcut does: bring up the tray next to whichever daemon is
// available.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "winget-updater",
		Short: "Winget Updater - Windows package update monitor",
		Long: `Winget Updater ` + version.String() + `
Checks for winget package updates twice a day and shows the result in the
notification area.

The checker runs either as a Windows service or as a standalone process in
your session. The tray and the commands below talk to whichever one is
running.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.EnableDebug()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "Daemon pipe name or socket path")
	rootCmd.PersistentFlags().MarkHidden("address")

	rootCmd.Version = version.String()
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// legacyActions maps the original top-level flags to subcommands, in the
// order they were evaluated.
var legacyActions = []struct {
	flag string
	args []string
}{
	{"--add-autostart", []string{"autostart", "add"}},
	{"--remove-autostart", []string{"autostart", "remove"}},
	{"--install", []string{"service", "install"}},
	{"--uninstall", []string{"service", "uninstall"}},
	{"--start", []string{"service", "start"}},
	{"--stop", []string{"service", "stop"}},
	{"--restart", []string{"service", "restart"}},
	{"--service", []string{"service", "run"}},
	{"--ui", []string{"ui"}},
	{"--debug", []string{"run", "--mode", "debug"}},
	{"--standalone", []string{"launch"}},
}

// TranslateLegacyArgs rewrites flag-only invocations such as "--install" or
// "--standalone --debug" into the equivalent subcommand. Arguments that
// already name a subcommand are returned unchanged.
func TranslateLegacyArgs(args []string) []string {
	present := make(map[string]bool, len(args))
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return args
		}
		present[a] = true
	}

	for _, action := range legacyActions {
		if !present[action.flag] {
			continue
		}
		out := append([]string(nil), action.args...)
		for _, a := range args {
			if isLegacyAction(a) {
				continue
			}
			out = append(out, a)
		}
		return out
	}
	return args
}

// isLegacyAction reports whether flag selects an action. --debug also sets
// the log level, so it is passed through.
func isLegacyAction(flag string) bool {
	if flag == "--debug" {
		return false
	}
	for _, action := range legacyActions {
		if action.flag == flag {
			return true
		}
	}
	return false
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	rootCmd.SetArgs(TranslateLegacyArgs(os.Args[1:]))
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServiceCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLaunchCmd())
	rootCmd.AddCommand(newUICmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newUpdatesCmd())
	rootCmd.AddCommand(newUpgradeAllCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newAutostartCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// newClient returns an IPC client for --address or the default endpoint.
func newClient() *ipc.Client {
	if address != "" {
		return ipc.NewClientWithPath(address)
	}
	return ipc.NewClient()
}

// daemonAddress is the endpoint the CLI talks to.
func daemonAddress() string {
	if address != "" {
		return address
	}
	return ipc.DefaultAddress()
}

// daemonError adds a hint to connection failures. Errors reported by the
// daemon itself pass through.
func daemonError(err error) error {
	if err == nil || errors.Is(err, ipc.ErrServerError) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("cannot reach the winget updater daemon at %s (is the service or 'winget-updater run' active?): %w", daemonAddress(), err)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "winget-updater %s\n", version.String())
		},
	}
}

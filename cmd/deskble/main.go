package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// from leaking between test executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deskble",
		Short: "Control standing desks using Bluetooth",
		Long: `Control Bluetooth Low Energy standing desks (Uplift/Jiecang and Omnidesk families):

- Find nearby desks and identify their protocol dialect
- Move up/down, to presets or to an exact height
- Manage height limits, calibration and display units
- Watch height and status notifications

Without --address the only desk in range is used.`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("address", "a", "", "Desk BLE address (e.g., AA:BB:CC:DD:EE:FF, or a UUID on macOS)")
	flags.String("config", "", "Config file (default ~/.config/deskble/config.yaml)")
	flags.String("backend", "", "BLE backend (go-ble, tinygo); default depends on platform")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Verbose output (same as --log-level debug)")
	flags.StringP("format", "f", "", "Output format (table, json)")
	flags.Duration("scan-timeout", 0, "How long to scan for desks")
	flags.Duration("validate-timeout", 0, "How long to probe each scanned device")
	flags.Duration("connect-timeout", 0, "How long to wait for the desk connection")
	flags.Duration("notification-timeout", 0, "How long to wait for notifications after each command")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(newAboutCmd())
	rootCmd.AddCommand(newFindCmd())
	for _, dc := range deskCommands {
		rootCmd.AddCommand(dc.command())
	}
	rootCmd.AddCommand(newHeightCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

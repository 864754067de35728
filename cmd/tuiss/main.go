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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tuiss",
	Short: "Tuiss / Blinds2go Smartview blind controller",
	Long: fmt.Sprintf(`Command-line controller for Tuiss and Blinds2go Smartview motorised blinds.

- Discover nearby motors
- Open, close and position a blind, including the favourite position
- Query battery and position, stop a moving blind
- Change the motor speed on models that support it
- Move every configured blind at once

A blind is selected with --address (optionally --name) or, when a config file
is given, with --blind <name>. A config file with a single blind needs neither.

%s`, deviceAddressNote),
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(exactCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(batteryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(speedCmd)
	rootCmd.AddCommand(moveAllCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file with the blinds")
	rootCmd.PersistentFlags().StringVarP(&blindAddress, "address", "a", "", "Blind address: "+exampleDeviceAddress)
	rootCmd.PersistentFlags().StringVar(&blindName, "name", "", "Display name for --address")
	rootCmd.PersistentFlags().StringVarP(&blindSelector, "blind", "b", "", "Configured blind name (requires --config)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

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
	Use:   "flexlink",
	Short: "Flex-sensor glove BLE client",
	Long: `Connects to an ESP32 flex-sensor glove over Bluetooth Low Energy and
streams its decoded readings:

- Discover the glove by its GATT service and connect
- Subscribe to the flex, battery and accelerometer characteristics
- Print readings as text or JSON, optionally as calibrated bend angles
- Mirror the stream onto a pseudo-terminal for serial console tools
- Drive a browser's Web Bluetooth stack when no native adapter is usable
- Suggest letters from previously recorded hand shapes`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("flexlink {{.Version}} (commit %s, built %s)\n", commit, date))
}

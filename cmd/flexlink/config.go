package main

import (
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration stream would use: built-in glove defaults merged
with --config, as YAML. The output is a valid config file.

Examples:
  flexlink config > flexlink.yaml
  flexlink config --config flexlink.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

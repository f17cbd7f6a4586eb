package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/flexlink/internal/suggest"
)

// suggestCmd represents the suggest command
var suggestCmd = &cobra.Command{
	Use:   "suggest <v1,v2,...>",
	Short: "Suggest the recorded letter closest to a flex reading",
	Long: `Compares a flex reading with the letters a user recorded earlier and prints
the closest one when it is similar enough.

The snapshot file is YAML, keyed by user:

  alice:
    - letter: A
      values: [10, 80, 85, 82, 79]

Examples:
  flexlink suggest --db letters.yaml --user alice 12,78,86,80,81
  flexlink suggest --db letters.yaml --user alice --threshold 0.5 --json 12,78,86,80,81`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggest,
}

var (
	suggestDB        string
	suggestUser      string
	suggestThreshold float64
	suggestJSON      bool
)

func init() {
	suggestCmd.Flags().StringVar(&suggestDB, "db", "", "YAML file with recorded letter snapshots")
	suggestCmd.Flags().StringVar(&suggestUser, "user", "default", "User whose snapshots are searched")
	suggestCmd.Flags().Float64Var(&suggestThreshold, "threshold", suggest.DefaultThreshold, "Minimum similarity (0..1)")
	suggestCmd.Flags().BoolVar(&suggestJSON, "json", false, "Print the match as JSON")
	_ = suggestCmd.MarkFlagRequired("db")
}

func parseValues(csv string) ([]float64, error) {
	parts := strings.Split(csv, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no values given")
	}
	return values, nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	values, err := parseValues(args[0])
	if err != nil {
		return err
	}
	if suggestThreshold < 0 || suggestThreshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %g", suggestThreshold)
	}

	logger, err := configureLogger(cmd, "", nil)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	f, err := os.Open(suggestDB)
	if err != nil {
		return fmt.Errorf("failed to open snapshots: %w", err)
	}
	defer f.Close()

	store := suggest.New(suggest.WithThreshold(suggestThreshold))
	n, err := store.Load(f)
	if err != nil {
		return err
	}
	logger.WithField("snapshots", n).Debug("Loaded letter snapshots")

	out := cmd.OutOrStdout()
	match, ok := store.Suggest(suggestUser, values)
	if suggestJSON {
		var payload any = match
		if !ok {
			payload = nil
		}
		enc := json.NewEncoder(out)
		return enc.Encode(payload)
	}
	if !ok {
		fmt.Fprintln(out, "- (no match)")
		return nil
	}
	fmt.Fprintf(out, "%s (%d%% match)\n", match.Letter, match.Percent())
	return nil
}

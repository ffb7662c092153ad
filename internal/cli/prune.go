package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"auxite-wallet/internal/app"
)

var (
	pruneOlderThan string
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recorded ticks older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := parseDuration("--older-than", pruneOlderThan)
		if err != nil {
			return err
		}
		return getApp().Prune(cmd.Context(), app.PruneOptions{OlderThan: olderThan, DryRun: pruneDryRun})
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "720h", "Retention window (Go duration)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report without deleting")
}

func parseDuration(flag, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return d, nil
}

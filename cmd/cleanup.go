package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cleanupStaleAfter time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktrees inactive past the staleness threshold",
	Long: `Force-remove every worktree whose last_active timestamp is older than
the threshold. Failures on individual worktrees are logged and skipped
so one stuck worktree cannot block cleanup of the rest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cleanupRun()
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupStaleAfter, "stale-after", 0, "Inactivity threshold (default from config, 60m)")
	rootCmd.AddCommand(cleanupCmd)
}

func cleanupRun() error {
	m, err := getManager()
	if err != nil {
		return err
	}

	threshold := cleanupStaleAfter
	if threshold == 0 {
		threshold = viper.GetDuration("stale_after")
	}

	if dryRun {
		records, err := m.List(rootCmd.Context())
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, rec := range records {
			if rec.IsStale(now, threshold) {
				ui.DryRunMsg("Would remove stale worktree %s (inactive %s)",
					rec.AgentID, now.Sub(rec.LastActive).Round(time.Second))
			}
		}
		return nil
	}

	cleaned, err := m.CleanupStale(rootCmd.Context(), threshold)
	if err != nil {
		return err
	}

	ui.Success("Removed %d stale worktree(s)", cleaned)
	return nil
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchline/wtm/internal/manager"
)

var pruneApply bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Reconcile git worktrees against the registry",
	Long: `Diff actual git worktrees against registry records. Orphaned
worktrees (on disk, no record — e.g. after a crash mid-create) and
dangling records (recorded, worktree gone) are reported; with --apply
the orphans are removed via git and the dangling records deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pruneRun()
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false, "Remove orphans and delete dangling records")
	rootCmd.AddCommand(pruneCmd)
}

func pruneRun() error {
	m, err := getManager()
	if err != nil {
		return err
	}

	var report *manager.ReconcileReport
	if pruneApply && !dryRun {
		report, err = m.Prune(rootCmd.Context())
	} else {
		report, err = m.Reconcile(rootCmd.Context())
	}
	if err != nil {
		return err
	}

	if len(report.Orphaned) == 0 && len(report.Dangling) == 0 {
		ui.Success("Registry and git worktrees are in agreement.")
		return nil
	}

	for _, wt := range report.Orphaned {
		if pruneApply && !dryRun {
			ui.Info("Pruned orphaned worktree %s (branch %s)", wt.Path, wt.Branch)
		} else {
			ui.Warning("Orphaned worktree: %s (branch %s)", wt.Path, wt.Branch)
		}
	}
	for _, rec := range report.Dangling {
		if pruneApply && !dryRun {
			ui.Info("Pruned dangling record %s (worktree %s missing)", rec.AgentID, rec.Path)
		} else {
			ui.Warning("Dangling record: %s (worktree %s missing)", rec.AgentID, rec.Path)
		}
	}

	if !pruneApply {
		ui.Info("Run with --apply to fix.")
	}
	return nil
}

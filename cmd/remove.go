package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchline/wtm/internal/output"
)

var removeForce bool

var removeCmd = &cobra.Command{
	Use:     "remove <agent-id>",
	Aliases: []string{"rm"},
	Short:   "Remove an agent's worktree, branch, and registry record",
	Long: `Remove the agent's worktree and branch, then delete its registry
record. If the git step fails the record is kept so the command can be
retried, or forced with --force when the worktree has uncommitted
changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeRun(args[0])
	},
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Remove even with uncommitted changes")
	rootCmd.AddCommand(removeCmd)
}

func removeRun(agentID string) error {
	m, err := getManager()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove worktree for %s (force=%v)", agentID, removeForce)
		return nil
	}

	if err := m.Remove(rootCmd.Context(), agentID, removeForce); err != nil {
		return err
	}

	ui.Success("Removed worktree for %s", output.Cyan(agentID))
	return nil
}

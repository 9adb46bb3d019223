package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchline/wtm/internal/output"
)

var conflictsTarget string

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <agent-id>",
	Short: "Check whether an agent's branch merges cleanly",
	Long: `Dry-run merge the agent's branch into the target branch and list the
files that would conflict. No working directory or index is touched, so
this is safe to run at any time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return conflictsRun(args[0])
	},
}

func init() {
	conflictsCmd.Flags().StringVarP(&conflictsTarget, "target", "t", "main", "Target branch to merge into")
	rootCmd.AddCommand(conflictsCmd)
}

func conflictsRun(agentID string) error {
	m, err := getManager()
	if err != nil {
		return err
	}

	conflicts, err := m.DetectConflicts(rootCmd.Context(), agentID, conflictsTarget)
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		ui.Success("No conflicts: %s merges cleanly into %s", output.Cyan(agentID), output.Cyan(conflictsTarget))
		return nil
	}

	ui.Warning("%d file(s) would conflict merging %s into %s", len(conflicts), agentID, conflictsTarget)
	table := ui.Table([]string{"Path", "Type", "Ours", "Theirs", "Base"})
	for _, cf := range conflicts {
		_ = table.Append([]string{
			cf.Path,
			string(cf.ConflictType),
			short(cf.OurVersion),
			short(cf.TheirVersion),
			short(cf.BaseVersion),
		})
	}
	_ = table.Render()
	return nil
}

// short abbreviates an object hash for display.
func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

package cmd

import (
	"github.com/spf13/cobra"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent-id>",
	Short: "Record agent activity",
	Long: `Advance the agent's last_active timestamp. Agents (or their
supervisors) should call this periodically so the staleness sweep does
not reclaim a live worktree. Unknown agents are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return heartbeatRun(args[0])
	},
}

func init() {
	rootCmd.AddCommand(heartbeatCmd)
}

func heartbeatRun(agentID string) error {
	m, err := getManager()
	if err != nil {
		return err
	}

	if err := m.Heartbeat(rootCmd.Context(), agentID); err != nil {
		return err
	}

	ui.VerboseLog("heartbeat recorded for %s", agentID)
	return nil
}

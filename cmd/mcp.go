package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchline/wtm/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents and their orchestrators drive worktree
bookkeeping natively. Configure in the agent runtime with:

  {
    "mcpServers": {
      "wtm": { "command": "wtm", "args": ["mcp"] }
    }
  }

Available tools: wtm_create_worktree, wtm_remove_worktree,
wtm_list_worktrees, wtm_heartbeat, wtm_detect_conflicts,
wtm_cleanup_stale`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := getManager()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(m)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

package cmd

import (
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/branchline/wtm/internal/output"
)

var createBaseBranch string

var createCmd = &cobra.Command{
	Use:   "create [agent-id]",
	Short: "Create a worktree and branch for an agent",
	Long: `Create an isolated worktree for an agent, on a new branch forked from
the base branch. The worktree path and branch name are derived from the
agent id. Without an argument a ULID agent id is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := ""
		if len(args) > 0 {
			agentID = args[0]
		}
		return createRun(agentID)
	},
}

func init() {
	createCmd.Flags().StringVarP(&createBaseBranch, "base", "b", "main", "Base branch to fork from")
	rootCmd.AddCommand(createCmd)
}

// newAgentID mints a lowercase ULID for agents that don't bring an id.
func newAgentID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0))
	return strings.ToLower(id.String())
}

func createRun(agentID string) error {
	m, err := getManager()
	if err != nil {
		return err
	}

	if agentID == "" {
		agentID = newAgentID()
		ui.VerboseLog("generated agent id %s", agentID)
	}

	if dryRun {
		ui.DryRunMsg("Would create worktree for %s from %s", agentID, createBaseBranch)
		return nil
	}

	path, err := m.Create(rootCmd.Context(), agentID, createBaseBranch)
	if err != nil {
		return err
	}

	ui.Success("Created worktree for %s", output.Cyan(agentID))
	ui.Info("Path:   %s", path)
	ui.Info("Branch: %s", m.BranchName(agentID))
	return nil
}

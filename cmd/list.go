package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/branchline/wtm/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered agent worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRun()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listRun() error {
	m, err := getManager()
	if err != nil {
		return err
	}

	records, err := m.List(rootCmd.Context())
	if err != nil {
		return err
	}

	if len(records) == 0 {
		ui.Info("No worktrees registered.")
		return nil
	}

	threshold := viper.GetDuration("stale_after")
	now := time.Now().UTC()

	table := ui.Table([]string{"Agent", "Branch", "Path", "Status", "Last Active"})
	for _, rec := range records {
		status := string(rec.Status)
		if rec.IsStale(now, threshold) {
			status = "stale"
		}
		_ = table.Append([]string{
			output.Cyan(rec.AgentID),
			rec.Branch,
			rec.Path,
			output.StatusColor(status),
			rec.LastActive.Local().Format("2006-01-02 15:04:05"),
		})
	}
	_ = table.Render()
	return nil
}

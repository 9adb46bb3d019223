package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/branchline/wtm/internal/git"
	"github.com/branchline/wtm/internal/manager"
	"github.com/branchline/wtm/internal/output"
	"github.com/branchline/wtm/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	mgr       *manager.Manager

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "wtm",
	Short: "Worktree manager for parallel coding agents",
	Long: `wtm coordinates isolated git worktrees for multiple coding agents
working against one shared repository. Each agent gets its own working
directory and branch backed by the shared history store, a heartbeat
keeps its registry record fresh, and a dry-run conflict check tells an
orchestrator whether the agent's branch merges cleanly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/wtm/config.yaml)")
	rootCmd.PersistentFlags().String("repo", "", "Repository path (default: current directory)")
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "wtm")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WTM")
	viper.AutomaticEnv()

	viper.SetDefault("repo", ".")
	viper.SetDefault("worktree_dir", "")
	viper.SetDefault("db_path", "")
	viper.SetDefault("stale_after", "60m")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and manager are initialized lazily so config/version
	// commands run without a repository.
}

// repoPath resolves the configured repository path to an absolute path.
func repoPath() (string, error) {
	repo := viper.GetString("repo")
	if repo == "" {
		repo = "."
	}
	return filepath.Abs(repo)
}

// getManager returns the shared manager, initializing the store and git
// client on first call.
func getManager() (*manager.Manager, error) {
	if mgr != nil {
		return mgr, nil
	}

	repo, err := repoPath()
	if err != nil {
		return nil, err
	}

	dbPath := viper.GetString("db_path")
	if dbPath == "" {
		dbPath = filepath.Join(repo, ".worktrees.db")
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	dataStore = s

	m, err := manager.New(s, git.NewClient(repo), ui, manager.Options{
		RepoPath:    repo,
		WorktreeDir: viper.GetString("worktree_dir"),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	mgr = m
	return mgr, nil
}

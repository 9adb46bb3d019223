package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/branchline/wtm/internal/git"
	"github.com/branchline/wtm/internal/models"
	"github.com/branchline/wtm/internal/output"
	"github.com/branchline/wtm/internal/store"
)

var (
	// ErrNotRepository is returned when the configured repo path carries
	// no git metadata.
	ErrNotRepository = errors.New("not a git repository")

	// ErrAlreadyExists is returned by Create when the agent already has
	// a worktree.
	ErrAlreadyExists = errors.New("worktree already exists for agent")
)

// Options configures a Manager.
type Options struct {
	// RepoPath is the main repository root.
	RepoPath string

	// WorktreeDir is the base directory agent worktrees are created
	// under. Defaults to a "worktrees" directory next to the repo.
	WorktreeDir string
}

// Manager keeps the git worktree/branch state and the registry in
// lock-step: records are created together with their worktrees and
// removed together with them. All calls are synchronous and block on
// the store round trip plus any git invocations.
type Manager struct {
	store store.Store
	git   git.Client
	ui    *output.UI

	repoPath    string
	worktreeDir string
}

// New validates the repository, ensures the worktree base directory
// exists, and returns a Manager.
func New(s store.Store, g git.Client, ui *output.UI, opts Options) (*Manager, error) {
	repoPath, err := filepath.Abs(opts.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	if !git.IsRepository(repoPath) {
		return nil, fmt.Errorf("%s: %w", repoPath, ErrNotRepository)
	}

	worktreeDir := opts.WorktreeDir
	if worktreeDir == "" {
		worktreeDir = filepath.Join(filepath.Dir(repoPath), "worktrees")
	}
	if err := os.MkdirAll(worktreeDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree dir: %w", err)
	}

	return &Manager{
		store:       s,
		git:         g,
		ui:          ui,
		repoPath:    repoPath,
		worktreeDir: worktreeDir,
	}, nil
}

// WorktreePath returns the deterministic worktree path for an agent.
func (m *Manager) WorktreePath(agentID string) string {
	return filepath.Join(m.worktreeDir, "worktree-"+agentID)
}

// BranchName returns the deterministic branch name for an agent.
func (m *Manager) BranchName(agentID string) string {
	return "agent-" + agentID
}

// Create materializes a new worktree and branch for agentID forked from
// baseBranch, records it in the registry, and returns the worktree
// path. The git step runs before the registry insert, so a failed git
// call persists nothing; a crash between the two leaves an orphaned
// worktree that Reconcile can find later.
func (m *Manager) Create(ctx context.Context, agentID, baseBranch string) (string, error) {
	existing, err := m.store.GetWorktree(ctx, agentID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("agent %s at %s: %w", agentID, existing.Path, ErrAlreadyExists)
	}

	path := m.WorktreePath(agentID)
	branch := m.BranchName(agentID)

	m.ui.VerboseLog("git worktree add %s (branch %s from %s)", path, branch, baseBranch)
	if err := m.git.WorktreeAdd(path, branch, baseBranch); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	rec := &models.WorktreeRecord{
		AgentID:    agentID,
		Path:       path,
		Branch:     branch,
		CreatedAt:  now,
		LastActive: now,
		Status:     models.StatusActive,
	}
	if err := m.store.CreateWorktree(ctx, rec); err != nil {
		return "", err
	}

	return path, nil
}

// Remove tears down the agent's worktree and branch, then deletes the
// registry record. A git failure leaves the record intact so the caller
// can retry or force.
func (m *Manager) Remove(ctx context.Context, agentID string, force bool) error {
	rec, err := m.store.GetWorktree(ctx, agentID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}

	m.ui.VerboseLog("git worktree remove %s (force=%v)", rec.Path, force)
	if err := m.git.WorktreeRemove(rec.Path, force); err != nil {
		return err
	}
	if err := m.git.BranchDelete(rec.Branch); err != nil {
		return err
	}

	return m.store.DeleteWorktree(ctx, agentID)
}

// List returns all worktree records, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.WorktreeRecord, error) {
	return m.store.ListWorktrees(ctx)
}

// Heartbeat advances the agent's last_active timestamp. An unknown
// agent is not an error: a heartbeat can race removal and pollers
// should not crash on it.
func (m *Manager) Heartbeat(ctx context.Context, agentID string) error {
	err := m.store.TouchWorktree(ctx, agentID, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// CleanupStale force-removes every worktree whose last_active is older
// than threshold and returns the number removed. Per-agent failures are
// logged and skipped so one bad worktree cannot block the sweep.
func (m *Manager) CleanupStale(ctx context.Context, threshold time.Duration) (int, error) {
	records, err := m.store.ListWorktrees(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	cleaned := 0
	for _, rec := range records {
		if !rec.IsStale(now, threshold) {
			continue
		}
		m.ui.VerboseLog("removing stale worktree %s (inactive %s)", rec.AgentID, now.Sub(rec.LastActive).Round(time.Second))
		if err := m.Remove(ctx, rec.AgentID, true); err != nil {
			m.ui.Warning("cleanup %s: %v", rec.AgentID, err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// ReconcileReport is the diff between git's worktree state and the
// registry.
type ReconcileReport struct {
	// Orphaned worktrees exist on disk under the base dir but have no
	// registry record (e.g. a crash between worktree add and insert).
	Orphaned []git.WorktreeInfo

	// Dangling records exist in the registry but their worktree is gone.
	Dangling []*models.WorktreeRecord
}

// Reconcile diffs actual git worktrees against registry records without
// changing anything.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	records, err := m.store.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	worktrees, err := m.git.WorktreeList()
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]bool, len(records))
	for _, rec := range records {
		recorded[rec.Path] = true
	}
	actual := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		actual[wt.Path] = true
	}

	report := &ReconcileReport{}
	for _, wt := range worktrees {
		// Only worktrees under our base dir are ours to judge.
		if !strings.HasPrefix(wt.Path, m.worktreeDir+string(filepath.Separator)) {
			continue
		}
		if !recorded[wt.Path] {
			report.Orphaned = append(report.Orphaned, wt)
		}
	}
	for _, rec := range records {
		if !actual[rec.Path] {
			report.Dangling = append(report.Dangling, rec)
		}
	}
	return report, nil
}

// Prune applies a reconciliation: orphaned worktrees are removed via
// git (branch included) and dangling records are deleted. Best-effort
// like the staleness sweep.
func (m *Manager) Prune(ctx context.Context) (*ReconcileReport, error) {
	report, err := m.Reconcile(ctx)
	if err != nil {
		return nil, err
	}

	for _, wt := range report.Orphaned {
		m.ui.VerboseLog("pruning orphaned worktree %s", wt.Path)
		if err := m.git.WorktreeRemove(wt.Path, true); err != nil {
			m.ui.Warning("prune %s: %v", wt.Path, err)
			continue
		}
		if wt.Branch != "" {
			if err := m.git.BranchDelete(wt.Branch); err != nil {
				m.ui.Warning("prune branch %s: %v", wt.Branch, err)
			}
		}
	}
	for _, rec := range report.Dangling {
		m.ui.VerboseLog("pruning dangling record %s", rec.AgentID)
		if err := m.store.DeleteWorktree(ctx, rec.AgentID); err != nil {
			m.ui.Warning("prune record %s: %v", rec.AgentID, err)
		}
	}
	return report, nil
}

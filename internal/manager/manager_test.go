package manager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchline/wtm/internal/git"
	"github.com/branchline/wtm/internal/models"
	"github.com/branchline/wtm/internal/output"
	"github.com/branchline/wtm/internal/store"
)

// fakeGit implements git.Client with call recording and error injection.
type fakeGit struct {
	added           []string // worktree paths
	removed         []string
	forced          []bool
	deletedBranches []string

	worktrees []git.WorktreeInfo

	addErr       error
	removeErrFor map[string]error
	branchErr    error

	mergeResult git.MergeTreeResult
	mergeErr    error
	mergeCalls  [][2]string // target, source
}

func (f *fakeGit) WorktreeAdd(path, newBranch, baseBranch string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, path)
	return nil
}

func (f *fakeGit) WorktreeRemove(path string, force bool) error {
	if err, ok := f.removeErrFor[path]; ok {
		return err
	}
	f.removed = append(f.removed, path)
	f.forced = append(f.forced, force)
	return nil
}

func (f *fakeGit) WorktreeList() ([]git.WorktreeInfo, error) {
	return f.worktrees, nil
}

func (f *fakeGit) BranchDelete(name string) error {
	if f.branchErr != nil {
		return f.branchErr
	}
	f.deletedBranches = append(f.deletedBranches, name)
	return nil
}

func (f *fakeGit) MergeTree(targetBranch, sourceBranch string) (git.MergeTreeResult, error) {
	f.mergeCalls = append(f.mergeCalls, [2]string{targetBranch, sourceBranch})
	if f.mergeErr != nil {
		return git.MergeTreeResult{}, f.mergeErr
	}
	return f.mergeResult, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeGit, store.Store) {
	t.Helper()
	dir := t.TempDir()

	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))

	s, err := store.NewSQLiteStore(filepath.Join(dir, "worktrees.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	g := &fakeGit{}
	ui := &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}

	m, err := New(s, g, ui, Options{
		RepoPath:    repo,
		WorktreeDir: filepath.Join(dir, "worktrees"),
	})
	require.NoError(t, err)
	return m, g, s
}

func TestNew_NotARepository(t *testing.T) {
	dir := t.TempDir()
	ui := &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}

	_, err := New(nil, &fakeGit{}, ui, Options{RepoPath: dir})
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestNew_CreatesWorktreeDir(t *testing.T) {
	m, _, _ := newTestManager(t)

	info, err := os.Stat(filepath.Dir(m.WorktreePath("x")))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreate(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	assert.Equal(t, m.WorktreePath("a1"), path)
	assert.Equal(t, "worktree-a1", filepath.Base(path))
	assert.Equal(t, []string{path}, g.added)

	rec, err := s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "agent-a1", rec.Branch)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.True(t, rec.CreatedAt.Equal(rec.LastActive))
}

func TestCreate_AlreadyExists(t *testing.T) {
	m, g, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	_, err = m.Create(ctx, "a1", "main")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Len(t, g.added, 1, "second create must not touch git")
}

func TestCreate_GitFailurePersistsNothing(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	g.addErr = &git.OpError{Op: "worktree add", Diagnostic: "invalid reference: nope"}

	_, err := m.Create(ctx, "a1", "nope")
	require.Error(t, err)

	var opErr *git.OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Contains(t, opErr.Diagnostic, "invalid reference")

	rec, err := s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, rec, "no registry record after a failed git step")
}

func TestRemove(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "a1", false))
	assert.Equal(t, []string{path}, g.removed)
	assert.Equal(t, []bool{false}, g.forced)
	assert.Equal(t, []string{"agent-a1"}, g.deletedBranches)

	rec, err := s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRemove_NotFound(t *testing.T) {
	m, g, _ := newTestManager(t)

	err := m.Remove(context.Background(), "nope", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, g.removed, "no git calls for unknown agent")
}

func TestRemove_GitFailureKeepsRecord(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	g.removeErrFor = map[string]error{
		path: &git.OpError{Op: "worktree remove", Diagnostic: "contains modified or untracked files"},
	}

	err = m.Remove(ctx, "a1", false)
	require.Error(t, err)

	rec, err := s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	assert.NotNil(t, rec, "record stays so the caller can retry or force")
}

func TestHeartbeat(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	// Age the record, then heartbeat.
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.TouchWorktree(ctx, "a1", past))

	require.NoError(t, m.Heartbeat(ctx, "a1"))

	rec, err := s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, rec.LastActive.After(past), "heartbeat must advance last_active")
}

func TestHeartbeat_UnknownAgentIsNotAnError(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Heartbeat(context.Background(), "nope")
	assert.NoError(t, err, "heartbeat may race removal")
}

func TestCleanupStale(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"old1", "old2", "fresh"} {
		_, err := m.Create(ctx, id, "main")
		require.NoError(t, err)
	}

	past := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.TouchWorktree(ctx, "old1", past))
	require.NoError(t, s.TouchWorktree(ctx, "old2", past))

	// old2's git removal fails; the sweep must carry on.
	g.removeErrFor = map[string]error{
		m.WorktreePath("old2"): &git.OpError{Op: "worktree remove", Diagnostic: "locked"},
	}

	cleaned, err := m.CleanupStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned, "count only successful removals")

	records, err := s.ListWorktrees(ctx)
	require.NoError(t, err)
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.AgentID
	}
	assert.ElementsMatch(t, []string{"old2", "fresh"}, ids)

	assert.Equal(t, []bool{true}, g.forced, "sweep removals are forced")
}

func TestCleanupStale_NothingStale(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)

	cleaned, err := m.CleanupStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, cleaned)
}

func TestReconcile(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	// a1 exists both sides, orphan only in git, dangler only in registry.
	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)
	_, err = m.Create(ctx, "dangler", "main")
	require.NoError(t, err)

	g.worktrees = []git.WorktreeInfo{
		{Path: filepath.Dir(path), Branch: "main"}, // main checkout, outside base dir
		{Path: path, Branch: "agent-a1"},
		{Path: m.WorktreePath("orphan"), Branch: "agent-orphan"},
	}

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)

	require.Len(t, report.Orphaned, 1)
	assert.Equal(t, m.WorktreePath("orphan"), report.Orphaned[0].Path)

	require.Len(t, report.Dangling, 1)
	assert.Equal(t, "dangler", report.Dangling[0].AgentID)

	// Reconcile alone changes nothing.
	records, err := s.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPrune(t *testing.T) {
	m, g, s := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)
	_, err = m.Create(ctx, "dangler", "main")
	require.NoError(t, err)

	orphanPath := m.WorktreePath("orphan")
	g.worktrees = []git.WorktreeInfo{
		{Path: path, Branch: "agent-a1"},
		{Path: orphanPath, Branch: "agent-orphan"},
	}

	report, err := m.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, report.Orphaned, 1)
	require.Len(t, report.Dangling, 1)

	assert.Contains(t, g.removed, orphanPath)
	assert.Contains(t, g.deletedBranches, "agent-orphan")

	rec, err := s.GetWorktree(ctx, "dangler")
	require.NoError(t, err)
	assert.Nil(t, rec, "dangling record deleted")

	rec, err = s.GetWorktree(ctx, "a1")
	require.NoError(t, err)
	assert.NotNil(t, rec, "matched record untouched")
}

func TestLifecycleRoundTrip(t *testing.T) {
	m, g, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "a1", "main")
	require.NoError(t, err)
	assert.Equal(t, "worktree-a1", filepath.Base(path))

	g.mergeResult = git.MergeTreeResult{ExitCode: 0, Report: "abc123\n"}
	conflicts, err := m.DetectConflicts(ctx, "a1", "main")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	require.NoError(t, m.Remove(ctx, "a1", false))

	records, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDerivedNames(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.Equal(t, "worktree-a1", filepath.Base(m.WorktreePath("a1")))
	assert.Equal(t, "agent-a1", m.BranchName("a1"))
}

package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// OpError is a failed git invocation. Diagnostic carries the tool's
// stderr/stdout text unchanged so callers can surface it.
type OpError struct {
	Op         string
	Diagnostic string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("git %s: %s", e.Op, e.Diagnostic)
}

// MergeTreeResult is the raw outcome of a dry-run merge: the process
// exit status and its textual report.
type MergeTreeResult struct {
	ExitCode int
	Report   string
}

// WorktreeInfo holds parsed metadata from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	HEAD   string
}

// Client is the versioned-storage surface the manager drives. All
// operations act on one repository; implementations serialize nothing —
// git's own filesystem locking is the only coordination.
type Client interface {
	// WorktreeAdd materializes a worktree at path on newBranch forked
	// from baseBranch.
	WorktreeAdd(path, newBranch, baseBranch string) error

	// WorktreeRemove deletes the worktree at path. force overrides
	// uncommitted-change protection.
	WorktreeRemove(path string, force bool) error

	// WorktreeList returns all worktrees attached to the repository,
	// including the main one.
	WorktreeList() ([]WorktreeInfo, error)

	// BranchDelete force-deletes a local branch.
	BranchDelete(name string) error

	// MergeTree performs a dry-run three-way merge of sourceBranch into
	// targetBranch. It touches no working directory or index and is safe
	// to run concurrently with anything. A conflicted merge is a normal
	// result (nonzero ExitCode), not an error.
	MergeTree(targetBranch, sourceBranch string) (MergeTreeResult, error)
}

// RealClient implements Client by shelling out to git, bound to a
// single repository path.
type RealClient struct {
	repoPath string
}

// NewClient returns a Client bound to the repository at repoPath.
func NewClient(repoPath string) *RealClient {
	return &RealClient{repoPath: repoPath}
}

// IsRepository reports whether path carries git metadata (a .git
// directory, or a .git file for linked worktrees).
func IsRepository(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func (c *RealClient) git(args ...string) (string, error) {
	fullArgs := append([]string{"-C", c.repoPath}, args...)
	out, err := exec.Command("git", fullArgs...).CombinedOutput()
	if err != nil {
		return "", &OpError{
			Op:         strings.Join(args, " "),
			Diagnostic: strings.TrimSpace(string(out)),
		}
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) WorktreeAdd(path, newBranch, baseBranch string) error {
	_, err := c.git("worktree", "add", "-b", newBranch, path, baseBranch)
	return err
}

func (c *RealClient) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.git(args...)
	return err
}

func (c *RealClient) WorktreeList() ([]WorktreeInfo, error) {
	out, err := c.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(out), nil
}

func (c *RealClient) BranchDelete(name string) error {
	_, err := c.git("branch", "-D", name)
	return err
}

func (c *RealClient) MergeTree(targetBranch, sourceBranch string) (MergeTreeResult, error) {
	cmd := exec.Command("git", "-C", c.repoPath, "merge-tree", targetBranch, sourceBranch)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return MergeTreeResult{}, &OpError{
				Op:         "merge-tree " + targetBranch + " " + sourceBranch,
				Diagnostic: err.Error(),
			}
		}
		// Exit 1 means the merge would conflict; anything higher is a
		// real failure (bad ref, corrupt repo).
		if exitErr.ExitCode() > 1 {
			return MergeTreeResult{}, &OpError{
				Op:         "merge-tree " + targetBranch + " " + sourceBranch,
				Diagnostic: strings.TrimSpace(string(out)),
			}
		}
		return MergeTreeResult{ExitCode: exitErr.ExitCode(), Report: string(out)}, nil
	}
	return MergeTreeResult{ExitCode: 0, Report: string(out)}, nil
}

// ParseWorktreeListPorcelain parses the output of `git worktree list --porcelain`.
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

package models

import "time"

// WorktreeStatus represents the stored state of a worktree record.
//
// Only StatusActive is ever written today: a record is active for its
// whole life and disappears on removal. Stale and Merged are reserved
// for cross-process status if it is ever needed; staleness is currently
// a derived view over LastActive (see IsStale).
type WorktreeStatus string

const (
	StatusActive WorktreeStatus = "active"
	StatusStale  WorktreeStatus = "stale"
	StatusMerged WorktreeStatus = "merged"
)

// WorktreeRecord is one row in the registry: the worktree assigned to a
// single agent. AgentID is the primary key; Path and Branch are derived
// deterministically from it at creation and never change.
type WorktreeRecord struct {
	AgentID    string
	Path       string
	Branch     string
	CreatedAt  time.Time
	LastActive time.Time
	Status     WorktreeStatus
}

// IsStale reports whether the record's last activity is older than
// threshold, measured from now.
func (r *WorktreeRecord) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastActive) > threshold
}

// ConflictType classifies a merge conflict.
type ConflictType string

const (
	ConflictContent ConflictType = "content"
	ConflictRename  ConflictType = "rename"
	ConflictDelete  ConflictType = "delete"
)

// ConflictFile is one file that would conflict in a merge. Built fresh
// on every conflict check, never persisted. The version fields are
// object hashes and are filled only when the dry-run report exposes
// them.
type ConflictFile struct {
	Path         string
	ConflictType ConflictType
	OurVersion   string
	TheirVersion string
	BaseVersion  string
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/branchline/wtm/internal/models"
)

var (
	// ErrNotFound is returned when an operation targets an agent with no
	// registry record.
	ErrNotFound = errors.New("worktree record not found")

	// ErrDuplicateAgent is returned when an insert collides with an
	// existing record for the same agent. The agent_id primary key
	// enforces this even when two creators race past the precheck.
	ErrDuplicateAgent = errors.New("worktree record already exists")
)

// Store is the durable registry of worktree records. Every call is a
// self-contained round trip to the database; there is no in-memory
// cache, so concurrent callers observe each other's completed writes.
type Store interface {
	// CreateWorktree inserts a new record. ErrDuplicateAgent if a record
	// for the same agent already exists.
	CreateWorktree(ctx context.Context, rec *models.WorktreeRecord) error

	// GetWorktree returns the record for agentID, or (nil, nil) when no
	// record exists. Absence is a normal result, not an error.
	GetWorktree(ctx context.Context, agentID string) (*models.WorktreeRecord, error)

	// ListWorktrees returns all records ordered by created_at descending.
	ListWorktrees(ctx context.Context) ([]*models.WorktreeRecord, error)

	// TouchWorktree sets last_active. ErrNotFound if the agent is unknown.
	TouchWorktree(ctx context.Context, agentID string, t time.Time) error

	// DeleteWorktree removes the record. ErrNotFound if absent.
	DeleteWorktree(ctx context.Context, agentID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

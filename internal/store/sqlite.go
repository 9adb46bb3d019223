package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/branchline/wtm/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is a fixed-width UTC ISO-8601 layout. Fractional seconds
// are always nine digits so lexicographic ordering of stored strings
// matches chronological ordering (RFC3339Nano trims trailing zeros and
// breaks ORDER BY).
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent agents.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateWorktree(ctx context.Context, rec *models.WorktreeRecord) error {
	if rec.Status == "" {
		rec.Status = models.StatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worktrees (agent_id, path, branch, created_at, last_active, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.Path, rec.Branch,
		formatTime(rec.CreatedAt), formatTime(rec.LastActive), string(rec.Status),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("agent %s: %w", rec.AgentID, ErrDuplicateAgent)
		}
		return fmt.Errorf("create worktree record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorktree(ctx context.Context, agentID string) (*models.WorktreeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, path, branch, created_at, last_active, status
		FROM worktrees WHERE agent_id = ?`, agentID)

	rec, err := scanWorktree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worktree record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListWorktrees(ctx context.Context) ([]*models.WorktreeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, path, branch, created_at, last_active, status
		FROM worktrees ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list worktree records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*models.WorktreeRecord
	for rows.Next() {
		rec, err := scanWorktree(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worktree record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) TouchWorktree(ctx context.Context, agentID string, t time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE worktrees SET last_active = ? WHERE agent_id = ?",
		formatTime(t), agentID)
	if err != nil {
		return fmt.Errorf("touch worktree record: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorktree(ctx context.Context, agentID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM worktrees WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("delete worktree record: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorktree(row scanner) (*models.WorktreeRecord, error) {
	rec := &models.WorktreeRecord{}
	var createdAt, lastActive, status string

	if err := row.Scan(&rec.AgentID, &rec.Path, &rec.Branch, &createdAt, &lastActive, &status); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.LastActive, err = parseTime(lastActive); err != nil {
		return nil, fmt.Errorf("parse last_active: %w", err)
	}
	rec.Status = models.WorktreeStatus(status)
	return rec, nil
}

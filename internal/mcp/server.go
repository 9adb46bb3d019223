package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/branchline/wtm/internal/manager"
	"github.com/branchline/wtm/internal/models"
)

// Server exposes the worktree manager as MCP tools so orchestrator
// agents can drive worktree bookkeeping natively over stdio.
type Server struct {
	mgr *manager.Manager
}

// NewServer wraps a manager for MCP serving.
func NewServer(mgr *manager.Manager) *Server {
	return &Server{mgr: mgr}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("wtm", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createWorktreeTool())
	srv.AddTool(s.removeWorktreeTool())
	srv.AddTool(s.listWorktreesTool())
	srv.AddTool(s.heartbeatTool())
	srv.AddTool(s.detectConflictsTool())
	srv.AddTool(s.cleanupStaleTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// worktreeOut is the JSON shape for a worktree record.
type worktreeOut struct {
	AgentID    string `json:"agent_id"`
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
	Status     string `json:"status"`
}

func recordOut(rec *models.WorktreeRecord) worktreeOut {
	return worktreeOut{
		AgentID:    rec.AgentID,
		Path:       rec.Path,
		Branch:     rec.Branch,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		LastActive: rec.LastActive.Format(time.RFC3339),
		Status:     string(rec.Status),
	}
}

// wtm_create_worktree
func (s *Server) createWorktreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_create_worktree",
		mcp.WithDescription("Create an isolated git worktree and branch for an agent. Returns JSON with the worktree path and branch name."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Unique agent identifier")),
		mcp.WithString("base_branch", mcp.Description("Branch to fork from (default: main)")),
	)
	return tool, s.handleCreateWorktree
}

func (s *Server) handleCreateWorktree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent_id"), nil
	}
	baseBranch := request.GetString("base_branch", "main")

	path, err := s.mgr.Create(ctx, agentID, baseBranch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create worktree: %v", err)), nil
	}

	result := map[string]string{
		"agent_id": agentID,
		"path":     path,
		"branch":   s.mgr.BranchName(agentID),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wtm_remove_worktree
func (s *Server) removeWorktreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_remove_worktree",
		mcp.WithDescription("Remove an agent's worktree and branch and delete its registry record. On failure the record is kept so the call can be retried or forced."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identifier")),
		mcp.WithBoolean("force", mcp.Description("Remove even with uncommitted changes")),
	)
	return tool, s.handleRemoveWorktree
}

func (s *Server) handleRemoveWorktree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent_id"), nil
	}
	force := request.GetBool("force", false)

	if err := s.mgr.Remove(ctx, agentID, force); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove worktree: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"removed":%q}`, agentID)), nil
}

// wtm_list_worktrees
func (s *Server) listWorktreesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_list_worktrees",
		mcp.WithDescription("List all registered agent worktrees, newest first. Returns a JSON array with agent_id, path, branch, created_at, last_active, and status."),
	)
	return tool, s.handleListWorktrees
}

func (s *Server) handleListWorktrees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.mgr.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list worktrees: %v", err)), nil
	}

	out := make([]worktreeOut, len(records))
	for i, rec := range records {
		out[i] = recordOut(rec)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal worktrees: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wtm_heartbeat
func (s *Server) heartbeatTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_heartbeat",
		mcp.WithDescription("Record agent activity by advancing its last_active timestamp. Unknown agents are ignored so a heartbeat can safely race removal."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identifier")),
	)
	return tool, s.handleHeartbeat
}

func (s *Server) handleHeartbeat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent_id"), nil
	}

	if err := s.mgr.Heartbeat(ctx, agentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("heartbeat failed: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// wtm_detect_conflicts
func (s *Server) detectConflictsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_detect_conflicts",
		mcp.WithDescription("Dry-run merge an agent's branch into a target branch and report would-be conflicts without touching any working directory. Returns JSON with clean flag and conflict list."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identifier")),
		mcp.WithString("target_branch", mcp.Description("Branch to merge into (default: main)")),
	)
	return tool, s.handleDetectConflicts
}

func (s *Server) handleDetectConflicts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent_id"), nil
	}
	targetBranch := request.GetString("target_branch", "main")

	conflicts, err := s.mgr.DetectConflicts(ctx, agentID, targetBranch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to detect conflicts: %v", err)), nil
	}

	type conflictOut struct {
		Path         string `json:"path"`
		ConflictType string `json:"conflict_type"`
		OurVersion   string `json:"our_version,omitempty"`
		TheirVersion string `json:"their_version,omitempty"`
		BaseVersion  string `json:"base_version,omitempty"`
	}

	out := make([]conflictOut, len(conflicts))
	for i, cf := range conflicts {
		out[i] = conflictOut{
			Path:         cf.Path,
			ConflictType: string(cf.ConflictType),
			OurVersion:   cf.OurVersion,
			TheirVersion: cf.TheirVersion,
			BaseVersion:  cf.BaseVersion,
		}
	}

	result := map[string]any{
		"clean":     len(conflicts) == 0,
		"conflicts": out,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal conflicts: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wtm_cleanup_stale
func (s *Server) cleanupStaleTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wtm_cleanup_stale",
		mcp.WithDescription("Force-remove worktrees inactive past a threshold. Individual failures are skipped; returns the number removed."),
		mcp.WithNumber("threshold_minutes", mcp.Description("Inactivity threshold in minutes (default: 60)")),
	)
	return tool, s.handleCleanupStale
}

func (s *Server) handleCleanupStale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := request.GetFloat("threshold_minutes", 60)
	threshold := time.Duration(minutes * float64(time.Minute))

	cleaned, err := s.mgr.CleanupStale(ctx, threshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cleanup failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"removed":%d}`, cleaned)), nil
}

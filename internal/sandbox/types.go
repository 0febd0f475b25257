package sandbox

import "time"

// Workspace is an isolated git worktree leased to one bug agent.
// Agents running in separate workspaces never share HEAD, index or working tree,
// so they can be resolved concurrently against the same repository.
type Workspace struct {
	// AgentID is the agent the workspace is leased to
	AgentID string

	// Path is the absolute path to the worktree
	Path string

	// Base is the commit the worktree was created at
	Base string

	// ParentRepo is the original repository path
	ParentRepo string

	// Created is when this workspace was created
	Created time.Time

	// Status is the current status of this workspace
	Status WorkspaceStatus
}

// WorkspaceStatus represents the lifecycle state of a workspace
type WorkspaceStatus string

const (
	// WorkspaceStatusActive indicates the workspace is leased to a running agent
	WorkspaceStatusActive WorkspaceStatus = "active"

	// WorkspaceStatusReleased indicates the worktree has been removed
	WorkspaceStatusReleased WorkspaceStatus = "released"
)

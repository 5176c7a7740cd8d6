package models

import "time"

// WorkspaceRole represents the per-workspace roles in the access control table.
type WorkspaceRole string

const (
	WorkspaceRoleAdmin  WorkspaceRole = "ADMIN"
	WorkspaceRoleMember WorkspaceRole = "MEMBER"
	WorkspaceRoleEditor WorkspaceRole = "EDITOR"
	WorkspaceRoleViewer WorkspaceRole = "VIEWER"
)

// ValidWorkspaceRole reports whether the role is one of the known roles.
func ValidWorkspaceRole(r WorkspaceRole) bool {
	switch r {
	case WorkspaceRoleAdmin, WorkspaceRoleMember, WorkspaceRoleEditor, WorkspaceRoleViewer:
		return true
	}
	return false
}

// DefaultStorageLimitBytes is granted to every new workspace (10 GiB).
const DefaultStorageLimitBytes int64 = 10 * 1024 * 1024 * 1024

// Workspace is the top-level tenant boundary. Workspaces are never deleted,
// only deactivated.
type Workspace struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	OwnerID           string    `db:"owner_id" json:"owner_id"`
	MetadataRef       string    `db:"metadata_ref" json:"metadata_ref"`
	StorageLimitBytes int64     `db:"storage_limit_bytes" json:"storage_limit_bytes"`
	StorageUsedBytes  int64     `db:"storage_used_bytes" json:"storage_used_bytes"`
	Active            bool      `db:"active" json:"active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Member is a role assignment scoped to one workspace. Removal flips the
// active flag; the row is kept for audit history.
type Member struct {
	WorkspaceID int64         `db:"workspace_id" json:"workspace_id"`
	UserID      string        `db:"user_id" json:"user_id"`
	Role        WorkspaceRole `db:"role" json:"role"`
	JoinedAt    time.Time     `db:"joined_at" json:"joined_at"`
	Active      bool          `db:"active" json:"active"`
}

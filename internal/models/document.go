package models

import "time"

// PermissionLevel is a document-scoped permission under the strict total
// order NONE < VIEWER < EDITOR < ADMIN.
type PermissionLevel string

const (
	PermissionNone   PermissionLevel = "NONE"
	PermissionViewer PermissionLevel = "VIEWER"
	PermissionEditor PermissionLevel = "EDITOR"
	PermissionAdmin  PermissionLevel = "ADMIN"
)

// Rank maps a level onto the total order. Unknown levels rank as NONE.
func (p PermissionLevel) Rank() int {
	switch p {
	case PermissionViewer:
		return 1
	case PermissionEditor:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether p satisfies the required level.
func (p PermissionLevel) AtLeast(required PermissionLevel) bool {
	return p.Rank() >= required.Rank()
}

// ValidPermissionLevel reports whether the level is grantable.
func ValidPermissionLevel(p PermissionLevel) bool {
	switch p {
	case PermissionViewer, PermissionEditor, PermissionAdmin:
		return true
	}
	return false
}

// Document is a versioned record owned by a workspace. The version counter
// starts at 1 and increases by exactly 1 per update; deletion is logical.
type Document struct {
	ID          int64     `db:"id" json:"id"`
	WorkspaceID int64     `db:"workspace_id" json:"workspace_id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Title       string    `db:"title" json:"title"`
	ContentRef  string    `db:"content_ref" json:"content_ref"`
	Version     int       `db:"version" json:"version"`
	Deleted     bool      `db:"deleted" json:"deleted"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentRevision is one entry in a document's append-only history.
// The invariant version == count(revisions) holds for every document.
type DocumentRevision struct {
	DocumentID int64     `db:"document_id" json:"document_id"`
	Version    int       `db:"version" json:"version"`
	ContentRef string    `db:"content_ref" json:"content_ref"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DocumentPermission is a per-user grant on one document. A nil ExpiresAt
// never expires; a past ExpiresAt demotes the effective level to NONE at
// query time.
type DocumentPermission struct {
	DocumentID int64           `db:"document_id" json:"document_id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Level      PermissionLevel `db:"level" json:"level"`
	GrantedAt  time.Time       `db:"granted_at" json:"granted_at"`
	ExpiresAt  *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
}

// EffectiveLevel applies expiry at the provided instant.
func (p *DocumentPermission) EffectiveLevel(now time.Time) PermissionLevel {
	if p == nil {
		return PermissionNone
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return PermissionNone
	}
	return p.Level
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/workspace-hub-api/internal/models"
)

// WorkspaceRepository owns the workspaces and members tables, including the
// per-workspace access control records. Every mutation runs in one
// transaction together with its event record.
type WorkspaceRepository struct {
	db *sqlx.DB
}

// NewWorkspaceRepository creates a new instance of WorkspaceRepository.
func NewWorkspaceRepository(db *sqlx.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// Create allocates a workspace id, stores the workspace and its owner's
// ADMIN membership, and records the creation event atomically.
func (r *WorkspaceRepository) Create(ctx context.Context, ws *models.Workspace, owner *models.Member, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := nextSequence(ctx, tx, seqWorkspace)
	if err != nil {
		return err
	}
	ws.ID = id
	owner.WorkspaceID = id
	evt.EntityID = fmt.Sprintf("%d", id)

	now := time.Now().UTC()
	ws.CreatedAt = now
	ws.UpdatedAt = now
	owner.JoinedAt = now

	const insertWorkspace = `INSERT INTO workspaces (id, name, owner_id, metadata_ref, storage_limit_bytes, storage_used_bytes, active, created_at, updated_at)
		VALUES (:id, :name, :owner_id, :metadata_ref, :storage_limit_bytes, :storage_used_bytes, :active, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, insertWorkspace, ws); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	const insertOwner = `INSERT INTO members (workspace_id, user_id, role, joined_at, active)
		VALUES (:workspace_id, :user_id, :role, :joined_at, :active)`
	if _, err = sqlx.NamedExecContext(ctx, tx, insertOwner, owner); err != nil {
		return fmt.Errorf("create workspace owner: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create workspace: %w", err)
	}
	return nil
}

// FindByID returns a workspace by identifier.
func (r *WorkspaceRepository) FindByID(ctx context.Context, id int64) (*models.Workspace, error) {
	const query = `SELECT id, name, owner_id, metadata_ref, storage_limit_bytes, storage_used_bytes, active, created_at, updated_at FROM workspaces WHERE id = $1 LIMIT 1`
	var ws models.Workspace
	if err := r.db.GetContext(ctx, &ws, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find workspace by id: %w", err)
	}
	return &ws, nil
}

// FindMember returns the active membership record for a user, or
// sql.ErrNoRows when the user holds no active role in the workspace.
func (r *WorkspaceRepository) FindMember(ctx context.Context, workspaceID int64, userID string) (*models.Member, error) {
	const query = `SELECT workspace_id, user_id, role, joined_at, active FROM members WHERE workspace_id = $1 AND user_id = $2 AND active = TRUE LIMIT 1`
	var m models.Member
	if err := r.db.GetContext(ctx, &m, query, workspaceID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &m, nil
}

// ListMembers returns the active members of a workspace.
func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID int64) ([]models.Member, error) {
	const query = `SELECT workspace_id, user_id, role, joined_at, active FROM members WHERE workspace_id = $1 AND active = TRUE ORDER BY joined_at ASC`
	var members []models.Member
	if err := r.db.SelectContext(ctx, &members, query, workspaceID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// AddMember grants a role, reactivating a previously removed membership row
// if one exists so audit history stays on a single record.
func (r *WorkspaceRepository) AddMember(ctx context.Context, m *models.Member, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}

	const query = `INSERT INTO members (workspace_id, user_id, role, joined_at, active)
		VALUES (:workspace_id, :user_id, :role, :joined_at, :active)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role, joined_at = EXCLUDED.joined_at, active = TRUE`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, m); err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes the role on an active membership.
func (r *WorkspaceRepository) UpdateMemberRole(ctx context.Context, workspaceID int64, userID string, role models.WorkspaceRole, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update member role: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE members SET role = $3 WHERE workspace_id = $1 AND user_id = $2 AND active = TRUE`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update member role: %w", err)
	}
	return nil
}

// RemoveMember performs a logical delete on the membership record.
func (r *WorkspaceRepository) RemoveMember(ctx context.Context, workspaceID int64, userID string, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE members SET active = FALSE WHERE workspace_id = $1 AND user_id = $2 AND active = TRUE`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit remove member: %w", err)
	}
	return nil
}

// UpdateStorageUsed overwrites the stored usage value (last writer wins).
func (r *WorkspaceRepository) UpdateStorageUsed(ctx context.Context, workspaceID int64, used int64, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update storage used: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE workspaces SET storage_used_bytes = $2, updated_at = $3 WHERE id = $1`, workspaceID, used, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update storage used: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update storage used: %w", err)
	}
	return nil
}

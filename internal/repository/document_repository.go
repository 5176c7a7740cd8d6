package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/workspace-hub-api/internal/models"
)

// DocumentRepository owns the documents, document_revisions and
// document_permissions tables. Revisions are append-only; the document row
// carries the current version and content ref.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new instance of DocumentRepository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores a document at version 1 with its first revision and the
// creator's ADMIN permission, all in one transaction.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document, perm *models.DocumentPermission, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := nextSequence(ctx, tx, seqDocument)
	if err != nil {
		return err
	}
	doc.ID = id
	perm.DocumentID = id
	evt.EntityID = fmt.Sprintf("%d", id)

	now := time.Now().UTC()
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	perm.GrantedAt = now

	const insertDoc = `INSERT INTO documents (id, workspace_id, owner_id, title, content_ref, version, deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :owner_id, :title, :content_ref, :version, :deleted, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, insertDoc, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO document_revisions (document_id, version, content_ref, created_at) VALUES ($1, $2, $3, $4)`,
		doc.ID, 1, doc.ContentRef, now); err != nil {
		return fmt.Errorf("create document revision: %w", err)
	}

	const insertPerm = `INSERT INTO document_permissions (document_id, user_id, level, granted_at, expires_at)
		VALUES (:document_id, :user_id, :level, :granted_at, :expires_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, insertPerm, perm); err != nil {
		return fmt.Errorf("create document permission: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

// FindByID returns a document by identifier, deleted or not.
func (r *DocumentRepository) FindByID(ctx context.Context, id int64) (*models.Document, error) {
	const query = `SELECT id, workspace_id, owner_id, title, content_ref, version, deleted, created_at, updated_at FROM documents WHERE id = $1 LIMIT 1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document by id: %w", err)
	}
	return &doc, nil
}

// History returns the ordered revision history of a document.
func (r *DocumentRepository) History(ctx context.Context, documentID int64) ([]models.DocumentRevision, error) {
	const query = `SELECT document_id, version, content_ref, created_at FROM document_revisions WHERE document_id = $1 ORDER BY version ASC`
	var revisions []models.DocumentRevision
	if err := r.db.SelectContext(ctx, &revisions, query, documentID); err != nil {
		return nil, fmt.Errorf("document history: %w", err)
	}
	return revisions, nil
}

// AppendRevision bumps the version by exactly one and appends the new
// content ref to the history, returning the updated document.
func (r *DocumentRepository) AppendRevision(ctx context.Context, documentID int64, contentRef string, evt *models.Event) (*models.Document, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append revision: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var doc models.Document
	if err = tx.GetContext(ctx, &doc, `SELECT id, workspace_id, owner_id, title, content_ref, version, deleted, created_at, updated_at FROM documents WHERE id = $1 FOR UPDATE`, documentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock document: %w", err)
	}

	now := time.Now().UTC()
	doc.Version++
	doc.ContentRef = contentRef
	doc.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `UPDATE documents SET content_ref = $2, version = $3, updated_at = $4 WHERE id = $1`,
		documentID, contentRef, doc.Version, now); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO document_revisions (document_id, version, content_ref, created_at) VALUES ($1, $2, $3, $4)`,
		documentID, doc.Version, contentRef, now); err != nil {
		return nil, fmt.Errorf("append revision: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append revision: %w", err)
	}
	return &doc, nil
}

// MarkDeleted performs a logical delete; revisions are retained.
func (r *DocumentRepository) MarkDeleted(ctx context.Context, documentID int64, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE documents SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`, documentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}

// FindPermission returns the stored grant for a user on a document, or
// sql.ErrNoRows when none exists. Expiry is evaluated by the caller.
func (r *DocumentRepository) FindPermission(ctx context.Context, documentID int64, userID string) (*models.DocumentPermission, error) {
	const query = `SELECT document_id, user_id, level, granted_at, expires_at FROM document_permissions WHERE document_id = $1 AND user_id = $2 LIMIT 1`
	var perm models.DocumentPermission
	if err := r.db.GetContext(ctx, &perm, query, documentID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find permission: %w", err)
	}
	return &perm, nil
}

// UpsertPermission stores a grant, unconditionally overwriting any prior
// grant for the same user.
func (r *DocumentRepository) UpsertPermission(ctx context.Context, perm *models.DocumentPermission, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grant permission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}

	const query = `INSERT INTO document_permissions (document_id, user_id, level, granted_at, expires_at)
		VALUES (:document_id, :user_id, :level, :granted_at, :expires_at)
		ON CONFLICT (document_id, user_id) DO UPDATE SET level = EXCLUDED.level, granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, perm); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit grant permission: %w", err)
	}
	return nil
}

// DeletePermission removes a user's grant on a document.
func (r *DocumentRepository) DeletePermission(ctx context.Context, documentID int64, userID string, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke permission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM document_permissions WHERE document_id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke permission: %w", err)
	}
	return nil
}

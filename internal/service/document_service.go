package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

type documentRepository interface {
	Create(ctx context.Context, doc *models.Document, perm *models.DocumentPermission, evt *models.Event) error
	FindByID(ctx context.Context, id int64) (*models.Document, error)
	History(ctx context.Context, documentID int64) ([]models.DocumentRevision, error)
	AppendRevision(ctx context.Context, documentID int64, contentRef string, evt *models.Event) (*models.Document, error)
	MarkDeleted(ctx context.Context, documentID int64, evt *models.Event) error
	FindPermission(ctx context.Context, documentID int64, userID string) (*models.DocumentPermission, error)
	UpsertPermission(ctx context.Context, perm *models.DocumentPermission, evt *models.Event) error
	DeletePermission(ctx context.Context, documentID int64, userID string, evt *models.Event) error
}

// CreateDocumentRequest describes payload for creating a document.
type CreateDocumentRequest struct {
	WorkspaceID int64  `json:"workspace_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	ContentRef  string `json:"content_ref" validate:"required"`
}

// UpdateDocumentRequest appends a new revision.
type UpdateDocumentRequest struct {
	ContentRef string `json:"content_ref" validate:"required"`
}

// GrantPermissionRequest grants a document-level permission, optionally
// time-bound.
type GrantPermissionRequest struct {
	UserID    string                 `json:"user_id" validate:"required"`
	Level     models.PermissionLevel `json:"level" validate:"required"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// DocumentService orchestrates the versioned document registry and its
// per-document permission grants.
type DocumentService struct {
	repo       documentRepository
	workspaces workspaceMembers
	events     eventSink
	guard      *guard.Guard
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewDocumentService creates a new document service instance.
func NewDocumentService(repo documentRepository, workspaces workspaceMembers, events eventSink, g *guard.Guard, validate *validator.Validate, logger *zap.Logger) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New()
	}
	return &DocumentService{
		repo:       repo,
		workspaces: workspaces,
		events:     events,
		guard:      g,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a document at version 1. The creator must be an active
// member of the owning workspace and receives a non-expiring ADMIN grant.
func (s *DocumentService) Create(ctx context.Context, actorID string, req CreateDocumentRequest) (*models.Document, error) {
	release, err := s.guard.Acquire("document", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	if _, err := s.workspaces.FindByID(ctx, req.WorkspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workspace")
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, req.WorkspaceID, actorID); err != nil {
		return nil, err
	}

	doc := &models.Document{
		WorkspaceID: req.WorkspaceID,
		OwnerID:     actorID,
		Title:       req.Title,
		ContentRef:  req.ContentRef,
	}
	perm := &models.DocumentPermission{
		UserID: actorID,
		Level:  models.PermissionAdmin,
	}
	evt := &models.Event{
		Kind:    models.EventDocumentCreated,
		ActorID: actorID,
		Payload: eventPayload(map[string]interface{}{"workspace_id": req.WorkspaceID, "title": req.Title}),
	}

	if err := s.repo.Create(ctx, doc, perm, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	s.events.Publish(evt)
	s.logger.Info("document created", zap.Int64("document_id", doc.ID), zap.Int64("workspace_id", doc.WorkspaceID))
	return doc, nil
}

// Get returns a document readable by the caller. Deleted documents behave as
// if they do not exist.
func (s *DocumentService) Get(ctx context.Context, actorID string, documentID int64) (*models.Document, error) {
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionViewer); err != nil {
		return nil, err
	}
	return doc, nil
}

// History returns the full revision history, including revisions of deleted
// documents, for callers with at least VIEWER access.
func (s *DocumentService) History(ctx context.Context, actorID string, documentID int64) ([]models.DocumentRevision, error) {
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionViewer); err != nil {
		return nil, err
	}

	revisions, err := s.repo.History(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document history")
	}
	return revisions, nil
}

// Update appends a revision, bumping the version by exactly one. Requires
// EDITOR access; deleted documents cannot be updated.
func (s *DocumentService) Update(ctx context.Context, actorID string, documentID int64, req UpdateDocumentRequest) (*models.Document, error) {
	release, err := s.guard.Acquire("document", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revision payload")
	}

	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "document is deleted")
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionEditor); err != nil {
		return nil, err
	}

	evt := &models.Event{
		Kind:     models.EventDocumentUpdated,
		EntityID: strconv.FormatInt(documentID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]string{"content_ref": req.ContentRef}),
	}

	updated, err := s.repo.AppendRevision(ctx, documentID, req.ContentRef, evt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
	}

	s.events.Publish(evt)
	return updated, nil
}

// Delete marks a document deleted. Requires ADMIN access; revisions and
// permission grants are retained.
func (s *DocumentService) Delete(ctx context.Context, actorID string, documentID int64) error {
	release, err := s.guard.Acquire("document", actorID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Deleted {
		return appErrors.Clone(appErrors.ErrInvalidState, "document is already deleted")
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionAdmin); err != nil {
		return err
	}

	evt := &models.Event{
		Kind:     models.EventDocumentDeleted,
		EntityID: strconv.FormatInt(documentID, 10),
		ActorID:  actorID,
	}

	if err := s.repo.MarkDeleted(ctx, documentID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "document is already deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}

	s.events.Publish(evt)
	return nil
}

// GrantPermission stores a grant, unconditionally overwriting any prior
// grant for the same user. Requires ADMIN access on the document.
func (s *DocumentService) GrantPermission(ctx context.Context, actorID string, documentID int64, req GrantPermissionRequest) error {
	release, err := s.guard.Acquire("document", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission payload")
	}
	if !models.ValidPermissionLevel(req.Level) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown permission level")
	}

	doc, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Deleted {
		return appErrors.Clone(appErrors.ErrInvalidState, "document is deleted")
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionAdmin); err != nil {
		return err
	}

	perm := &models.DocumentPermission{
		DocumentID: documentID,
		UserID:     req.UserID,
		Level:      req.Level,
		ExpiresAt:  req.ExpiresAt,
	}
	evt := &models.Event{
		Kind:     models.EventPermissionGranted,
		EntityID: strconv.FormatInt(documentID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]interface{}{"user_id": req.UserID, "level": req.Level, "expires_at": req.ExpiresAt}),
	}

	if err := s.repo.UpsertPermission(ctx, perm, evt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant permission")
	}

	s.events.Publish(evt)
	return nil
}

// RevokePermission removes a user's grant. Requires ADMIN access; the
// document owner's grant can never be revoked.
func (s *DocumentService) RevokePermission(ctx context.Context, actorID string, documentID int64, userID string) error {
	release, err := s.guard.Acquire("document", actorID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.requireLevel(ctx, doc, actorID, models.PermissionAdmin); err != nil {
		return err
	}
	if doc.OwnerID == userID {
		return appErrors.Clone(appErrors.ErrOwnerProtected, "document owner's permission cannot be revoked")
	}

	evt := &models.Event{
		Kind:     models.EventPermissionRevoked,
		EntityID: strconv.FormatInt(documentID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]string{"user_id": userID}),
	}

	if err := s.repo.DeletePermission(ctx, documentID, userID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "permission not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke permission")
	}

	s.events.Publish(evt)
	return nil
}

// CheckAccess reports whether the user's effective level satisfies the
// required level at the time of the call.
func (s *DocumentService) CheckAccess(ctx context.Context, documentID int64, userID string, required models.PermissionLevel) (bool, error) {
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return false, err
	}
	level, err := s.effectiveLevel(ctx, doc, userID)
	if err != nil {
		return false, err
	}
	return level.AtLeast(required), nil
}

func (s *DocumentService) load(ctx context.Context, documentID int64) (*models.Document, error) {
	doc, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

// effectiveLevel resolves the user's level at the current instant. The owner
// always holds ADMIN. A stored grant governs whenever one exists, demoted to
// NONE once it has expired; without a grant the user falls back to the level
// implied by their workspace role.
func (s *DocumentService) effectiveLevel(ctx context.Context, doc *models.Document, userID string) (models.PermissionLevel, error) {
	if doc.OwnerID == userID {
		return models.PermissionAdmin, nil
	}
	perm, err := s.repo.FindPermission(ctx, doc.ID, userID)
	if err == nil {
		return perm.EffectiveLevel(s.now()), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.PermissionNone, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load permission")
	}

	m, err := s.workspaces.FindMember(ctx, doc.WorkspaceID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PermissionNone, nil
		}
		return models.PermissionNone, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check workspace membership")
	}
	return workspaceLevel(m.Role), nil
}

// workspaceLevel maps a workspace role onto the document permission order.
// MEMBER and VIEWER can read workspace documents; EDITOR and ADMIN carry
// their level across.
func workspaceLevel(role models.WorkspaceRole) models.PermissionLevel {
	switch role {
	case models.WorkspaceRoleAdmin:
		return models.PermissionAdmin
	case models.WorkspaceRoleEditor:
		return models.PermissionEditor
	case models.WorkspaceRoleMember, models.WorkspaceRoleViewer:
		return models.PermissionViewer
	}
	return models.PermissionNone
}

func (s *DocumentService) requireLevel(ctx context.Context, doc *models.Document, userID string, required models.PermissionLevel) error {
	level, err := s.effectiveLevel(ctx, doc, userID)
	if err != nil {
		return err
	}
	if !level.AtLeast(required) {
		return appErrors.Clone(appErrors.ErrForbidden, "caller lacks the required document permission")
	}
	return nil
}

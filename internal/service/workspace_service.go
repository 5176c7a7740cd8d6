package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

type workspaceRepository interface {
	Create(ctx context.Context, ws *models.Workspace, owner *models.Member, evt *models.Event) error
	FindByID(ctx context.Context, id int64) (*models.Workspace, error)
	FindMember(ctx context.Context, workspaceID int64, userID string) (*models.Member, error)
	ListMembers(ctx context.Context, workspaceID int64) ([]models.Member, error)
	AddMember(ctx context.Context, m *models.Member, evt *models.Event) error
	UpdateMemberRole(ctx context.Context, workspaceID int64, userID string, role models.WorkspaceRole, evt *models.Event) error
	RemoveMember(ctx context.Context, workspaceID int64, userID string, evt *models.Event) error
	UpdateStorageUsed(ctx context.Context, workspaceID int64, used int64, evt *models.Event) error
}

// workspaceMembers is the read-only access-control surface other services
// depend on for membership checks.
type workspaceMembers interface {
	FindByID(ctx context.Context, id int64) (*models.Workspace, error)
	FindMember(ctx context.Context, workspaceID int64, userID string) (*models.Member, error)
}

// requireWorkspaceRole rejects callers whose active role does not exactly
// match the required role. Role checks are exact, not hierarchical: an ADMIN
// does not implicitly satisfy a MEMBER requirement.
func requireWorkspaceRole(ctx context.Context, members workspaceMembers, workspaceID int64, userID string, role models.WorkspaceRole) error {
	return requireAnyWorkspaceRole(ctx, members, workspaceID, userID, role)
}

// requireAnyWorkspaceRole rejects callers whose active role matches none of
// the given roles. Each candidate is still an exact match.
func requireAnyWorkspaceRole(ctx context.Context, members workspaceMembers, workspaceID int64, userID string, roles ...models.WorkspaceRole) error {
	m, err := members.FindMember(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "caller is not a workspace member")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check workspace role")
	}
	for _, role := range roles {
		if m.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "caller lacks the required workspace role")
}

// requireWorkspaceMember rejects callers without any active membership.
func requireWorkspaceMember(ctx context.Context, members workspaceMembers, workspaceID int64, userID string) error {
	if _, err := members.FindMember(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "caller is not a workspace member")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check workspace membership")
	}
	return nil
}

// CreateWorkspaceRequest describes payload for creating a workspace.
type CreateWorkspaceRequest struct {
	Name        string `json:"name" validate:"required"`
	MetadataRef string `json:"metadata_ref"`
}

// AddMemberRequest grants a workspace role to a user.
type AddMemberRequest struct {
	UserID string               `json:"user_id" validate:"required"`
	Role   models.WorkspaceRole `json:"role" validate:"required"`
}

// UpdateMemberRoleRequest changes an existing member's role.
type UpdateMemberRoleRequest struct {
	Role models.WorkspaceRole `json:"role" validate:"required"`
}

// UpdateStorageUsedRequest reports new storage usage for a workspace.
type UpdateStorageUsedRequest struct {
	UsedBytes int64 `json:"used_bytes" validate:"gte=0"`
}

// WorkspaceService orchestrates workspace and membership workflows.
type WorkspaceService struct {
	repo      workspaceRepository
	events    eventSink
	guard     *guard.Guard
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkspaceService creates a new workspace service instance.
func NewWorkspaceService(repo workspaceRepository, events eventSink, g *guard.Guard, validate *validator.Validate, logger *zap.Logger) *WorkspaceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New()
	}
	return &WorkspaceService{repo: repo, events: events, guard: g, validator: validate, logger: logger}
}

// Create stores a new workspace. The creator becomes both owner and the
// workspace's first ADMIN member.
func (s *WorkspaceService) Create(ctx context.Context, actorID string, req CreateWorkspaceRequest) (*models.Workspace, error) {
	release, err := s.guard.Acquire("workspace", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid workspace payload")
	}

	ws := &models.Workspace{
		Name:              req.Name,
		OwnerID:           actorID,
		MetadataRef:       req.MetadataRef,
		StorageLimitBytes: models.DefaultStorageLimitBytes,
		Active:            true,
	}
	owner := &models.Member{
		UserID: actorID,
		Role:   models.WorkspaceRoleAdmin,
		Active: true,
	}
	evt := &models.Event{
		Kind:    models.EventWorkspaceCreated,
		ActorID: actorID,
		Payload: eventPayload(map[string]string{"name": req.Name}),
	}

	if err := s.repo.Create(ctx, ws, owner, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create workspace")
	}

	s.events.Publish(evt)
	s.logger.Info("workspace created", zap.Int64("workspace_id", ws.ID), zap.String("owner_id", actorID))
	return ws, nil
}

// Get returns a workspace by ID.
func (s *WorkspaceService) Get(ctx context.Context, id int64) (*models.Workspace, error) {
	ws, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workspace")
	}
	return ws, nil
}

// HasRole reports whether the user's active role exactly matches the given
// role.
func (s *WorkspaceService) HasRole(ctx context.Context, workspaceID int64, userID string, role models.WorkspaceRole) (bool, error) {
	m, err := s.repo.FindMember(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role")
	}
	return m.Role == role, nil
}

// ListMembers returns the active members of a workspace. Any active member
// may list.
func (s *WorkspaceService) ListMembers(ctx context.Context, actorID string, workspaceID int64) ([]models.Member, error) {
	if _, err := s.Get(ctx, workspaceID); err != nil {
		return nil, err
	}
	if err := requireWorkspaceMember(ctx, s.repo, workspaceID, actorID); err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	return members, nil
}

// AddMember grants a role inside the workspace. Only an ADMIN may add
// members; adding a user who already holds an active role is a conflict.
func (s *WorkspaceService) AddMember(ctx context.Context, actorID string, workspaceID int64, req AddMemberRequest) (*models.Member, error) {
	release, err := s.guard.Acquire("workspace", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid member payload")
	}
	if !models.ValidWorkspaceRole(req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown workspace role")
	}

	ws, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !ws.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace is not active")
	}
	if err := requireWorkspaceRole(ctx, s.repo, workspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindMember(ctx, workspaceID, req.UserID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "user is already a workspace member")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing membership")
	}

	m := &models.Member{
		WorkspaceID: workspaceID,
		UserID:      req.UserID,
		Role:        req.Role,
		Active:      true,
	}
	evt := &models.Event{
		Kind:     models.EventMemberAdded,
		EntityID: strconv.FormatInt(workspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]interface{}{"user_id": req.UserID, "role": req.Role}),
	}

	if err := s.repo.AddMember(ctx, m, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add member")
	}

	s.events.Publish(evt)
	return m, nil
}

// UpdateMemberRole changes an active member's role. Only an ADMIN may update
// roles; the owner's role can be changed like any other member's.
func (s *WorkspaceService) UpdateMemberRole(ctx context.Context, actorID string, workspaceID int64, userID string, req UpdateMemberRoleRequest) error {
	release, err := s.guard.Acquire("workspace", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if !models.ValidWorkspaceRole(req.Role) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown workspace role")
	}

	if _, err := s.Get(ctx, workspaceID); err != nil {
		return err
	}
	if err := requireWorkspaceRole(ctx, s.repo, workspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
		return err
	}

	evt := &models.Event{
		Kind:     models.EventMemberRoleUpdated,
		EntityID: strconv.FormatInt(workspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]interface{}{"user_id": userID, "role": req.Role}),
	}

	if err := s.repo.UpdateMemberRole(ctx, workspaceID, userID, req.Role, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update member role")
	}

	s.events.Publish(evt)
	return nil
}

// RemoveMember revokes a member's access. Only an ADMIN may remove members,
// and the workspace owner can never be removed.
func (s *WorkspaceService) RemoveMember(ctx context.Context, actorID string, workspaceID int64, userID string) error {
	release, err := s.guard.Acquire("workspace", actorID)
	if err != nil {
		return err
	}
	defer release()

	ws, err := s.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := requireWorkspaceRole(ctx, s.repo, workspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
		return err
	}
	if ws.OwnerID == userID {
		return appErrors.Clone(appErrors.ErrOwnerProtected, "workspace owner cannot be removed")
	}

	evt := &models.Event{
		Kind:     models.EventMemberRemoved,
		EntityID: strconv.FormatInt(workspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]string{"user_id": userID}),
	}

	if err := s.repo.RemoveMember(ctx, workspaceID, userID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove member")
	}

	s.events.Publish(evt)
	return nil
}

// UpdateStorageUsed overwrites the reported usage value. Last writer wins;
// an ADMIN or EDITOR may report usage.
func (s *WorkspaceService) UpdateStorageUsed(ctx context.Context, actorID string, workspaceID int64, req UpdateStorageUsedRequest) error {
	release, err := s.guard.Acquire("workspace", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid storage payload")
	}

	if _, err := s.Get(ctx, workspaceID); err != nil {
		return err
	}
	if err := requireAnyWorkspaceRole(ctx, s.repo, workspaceID, actorID, models.WorkspaceRoleAdmin, models.WorkspaceRoleEditor); err != nil {
		return err
	}

	evt := &models.Event{
		Kind:     models.EventStorageUsedUpdated,
		EntityID: strconv.FormatInt(workspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]int64{"used_bytes": req.UsedBytes}),
	}

	if err := s.repo.UpdateStorageUsed(ctx, workspaceID, req.UsedBytes, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "workspace not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update storage usage")
	}

	s.events.Publish(evt)
	return nil
}

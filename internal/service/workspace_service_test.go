package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

type mockEventSink struct {
	published []*models.Event
}

func (m *mockEventSink) Publish(evt *models.Event) {
	m.published = append(m.published, evt)
}

func (m *mockEventSink) kinds() []string {
	out := make([]string, 0, len(m.published))
	for _, evt := range m.published {
		out = append(out, evt.Kind)
	}
	return out
}

type mockWorkspaceRepo struct {
	nextID     int64
	workspaces map[int64]*models.Workspace
	members    map[string]*models.Member
}

func newMockWorkspaceRepo() *mockWorkspaceRepo {
	return &mockWorkspaceRepo{
		workspaces: make(map[int64]*models.Workspace),
		members:    make(map[string]*models.Member),
	}
}

func memberKey(workspaceID int64, userID string) string {
	return fmt.Sprintf("%d|%s", workspaceID, userID)
}

func (m *mockWorkspaceRepo) seedWorkspace(id int64, ownerID string) {
	m.workspaces[id] = &models.Workspace{ID: id, Name: "ws", OwnerID: ownerID, Active: true}
	m.members[memberKey(id, ownerID)] = &models.Member{WorkspaceID: id, UserID: ownerID, Role: models.WorkspaceRoleAdmin, Active: true}
}

func (m *mockWorkspaceRepo) seedMember(workspaceID int64, userID string, role models.WorkspaceRole) {
	m.members[memberKey(workspaceID, userID)] = &models.Member{WorkspaceID: workspaceID, UserID: userID, Role: role, Active: true}
}

func (m *mockWorkspaceRepo) Create(ctx context.Context, ws *models.Workspace, owner *models.Member, evt *models.Event) error {
	m.nextID++
	ws.ID = m.nextID
	ws.CreatedAt = time.Now().UTC()
	ws.UpdatedAt = ws.CreatedAt
	owner.WorkspaceID = ws.ID
	evt.EntityID = fmt.Sprintf("%d", ws.ID)
	cp := *ws
	m.workspaces[ws.ID] = &cp
	mc := *owner
	m.members[memberKey(ws.ID, owner.UserID)] = &mc
	return nil
}

func (m *mockWorkspaceRepo) FindByID(ctx context.Context, id int64) (*models.Workspace, error) {
	if ws, ok := m.workspaces[id]; ok {
		cp := *ws
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWorkspaceRepo) FindMember(ctx context.Context, workspaceID int64, userID string) (*models.Member, error) {
	if mem, ok := m.members[memberKey(workspaceID, userID)]; ok && mem.Active {
		cp := *mem
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWorkspaceRepo) ListMembers(ctx context.Context, workspaceID int64) ([]models.Member, error) {
	var out []models.Member
	for _, mem := range m.members {
		if mem.WorkspaceID == workspaceID && mem.Active {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockWorkspaceRepo) AddMember(ctx context.Context, mem *models.Member, evt *models.Event) error {
	cp := *mem
	m.members[memberKey(mem.WorkspaceID, mem.UserID)] = &cp
	return nil
}

func (m *mockWorkspaceRepo) UpdateMemberRole(ctx context.Context, workspaceID int64, userID string, role models.WorkspaceRole, evt *models.Event) error {
	mem, ok := m.members[memberKey(workspaceID, userID)]
	if !ok || !mem.Active {
		return sql.ErrNoRows
	}
	mem.Role = role
	return nil
}

func (m *mockWorkspaceRepo) RemoveMember(ctx context.Context, workspaceID int64, userID string, evt *models.Event) error {
	mem, ok := m.members[memberKey(workspaceID, userID)]
	if !ok || !mem.Active {
		return sql.ErrNoRows
	}
	mem.Active = false
	return nil
}

func (m *mockWorkspaceRepo) UpdateStorageUsed(ctx context.Context, workspaceID int64, used int64, evt *models.Event) error {
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.StorageUsedBytes = used
	return nil
}

func newWorkspaceService(repo *mockWorkspaceRepo, sink *mockEventSink) *WorkspaceService {
	return NewWorkspaceService(repo, sink, guard.New(), validator.New(), zap.NewNop())
}

func TestWorkspaceServiceCreateMakesOwnerAdmin(t *testing.T) {
	repo := newMockWorkspaceRepo()
	sink := &mockEventSink{}
	svc := newWorkspaceService(repo, sink)

	ws, err := svc.Create(context.Background(), "owner-1", CreateWorkspaceRequest{Name: "Research"})
	require.NoError(t, err)
	assert.NotZero(t, ws.ID)
	assert.Equal(t, "owner-1", ws.OwnerID)
	assert.Equal(t, models.DefaultStorageLimitBytes, ws.StorageLimitBytes)

	owner, err := repo.FindMember(context.Background(), ws.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkspaceRoleAdmin, owner.Role)
	assert.Equal(t, []string{models.EventWorkspaceCreated}, sink.kinds())
}

func TestWorkspaceServiceHasRoleIsExactMatch(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	svc := newWorkspaceService(repo, &mockEventSink{})

	ok, err := svc.HasRole(context.Background(), 1, "owner-1", models.WorkspaceRoleAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasRole(context.Background(), 1, "owner-1", models.WorkspaceRoleMember)
	require.NoError(t, err)
	assert.False(t, ok, "ADMIN must not satisfy a MEMBER check")

	ok, err = svc.HasRole(context.Background(), 1, "stranger", models.WorkspaceRoleViewer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkspaceServiceAddMemberRequiresAdmin(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "member-1", models.WorkspaceRoleMember)
	svc := newWorkspaceService(repo, &mockEventSink{})

	_, err := svc.AddMember(context.Background(), "member-1", 1, AddMemberRequest{UserID: "new-user", Role: models.WorkspaceRoleViewer})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkspaceServiceAddMemberDuplicate(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "member-1", models.WorkspaceRoleViewer)
	svc := newWorkspaceService(repo, &mockEventSink{})

	_, err := svc.AddMember(context.Background(), "owner-1", 1, AddMemberRequest{UserID: "member-1", Role: models.WorkspaceRoleEditor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
}

func TestWorkspaceServiceAddMemberPublishesEvent(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	sink := &mockEventSink{}
	svc := newWorkspaceService(repo, sink)

	mem, err := svc.AddMember(context.Background(), "owner-1", 1, AddMemberRequest{UserID: "new-user", Role: models.WorkspaceRoleEditor})
	require.NoError(t, err)
	assert.Equal(t, models.WorkspaceRoleEditor, mem.Role)
	assert.True(t, mem.Active)
	assert.Equal(t, []string{models.EventMemberAdded}, sink.kinds())
}

func TestWorkspaceServiceUpdateMemberRoleAllowsOwner(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "admin-2", models.WorkspaceRoleAdmin)
	svc := newWorkspaceService(repo, &mockEventSink{})

	// The owner's own role can be downgraded like any other member's.
	err := svc.UpdateMemberRole(context.Background(), "admin-2", 1, "owner-1", UpdateMemberRoleRequest{Role: models.WorkspaceRoleViewer})
	require.NoError(t, err)

	owner, err := repo.FindMember(context.Background(), 1, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkspaceRoleViewer, owner.Role)
}

func TestWorkspaceServiceUpdateMemberRoleUnknownMember(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	svc := newWorkspaceService(repo, &mockEventSink{})

	err := svc.UpdateMemberRole(context.Background(), "owner-1", 1, "ghost", UpdateMemberRoleRequest{Role: models.WorkspaceRoleViewer})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWorkspaceServiceRemoveMemberOwnerProtected(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "admin-2", models.WorkspaceRoleAdmin)
	svc := newWorkspaceService(repo, &mockEventSink{})

	err := svc.RemoveMember(context.Background(), "admin-2", 1, "owner-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOwnerProtected.Code, appErrors.FromError(err).Code)
}

func TestWorkspaceServiceRemoveMember(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "member-1", models.WorkspaceRoleMember)
	sink := &mockEventSink{}
	svc := newWorkspaceService(repo, sink)

	err := svc.RemoveMember(context.Background(), "owner-1", 1, "member-1")
	require.NoError(t, err)

	_, err = repo.FindMember(context.Background(), 1, "member-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, []string{models.EventMemberRemoved}, sink.kinds())
}

func TestWorkspaceServiceAddMemberInactiveWorkspace(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.workspaces[1].Active = false
	svc := newWorkspaceService(repo, &mockEventSink{})

	_, err := svc.AddMember(context.Background(), "owner-1", 1, AddMemberRequest{UserID: "new-user", Role: models.WorkspaceRoleViewer})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWorkspaceServiceUpdateStorageUsed(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	sink := &mockEventSink{}
	svc := newWorkspaceService(repo, sink)

	err := svc.UpdateStorageUsed(context.Background(), "owner-1", 1, UpdateStorageUsedRequest{UsedBytes: 2048})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), repo.workspaces[1].StorageUsedBytes)
	assert.Equal(t, []string{models.EventStorageUsedUpdated}, sink.kinds())
}

func TestWorkspaceServiceUpdateStorageUsedAllowsEditor(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "editor-1", models.WorkspaceRoleEditor)
	svc := newWorkspaceService(repo, &mockEventSink{})

	err := svc.UpdateStorageUsed(context.Background(), "editor-1", 1, UpdateStorageUsedRequest{UsedBytes: 4096})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), repo.workspaces[1].StorageUsedBytes)
}

func TestWorkspaceServiceUpdateStorageUsedRejectsViewer(t *testing.T) {
	repo := newMockWorkspaceRepo()
	repo.seedWorkspace(1, "owner-1")
	repo.seedMember(1, "viewer-1", models.WorkspaceRoleViewer)
	svc := newWorkspaceService(repo, &mockEventSink{})

	err := svc.UpdateStorageUsed(context.Background(), "viewer-1", 1, UpdateStorageUsedRequest{UsedBytes: 4096})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

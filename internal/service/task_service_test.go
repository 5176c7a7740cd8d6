package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/storage"
)

type mockTaskRepo struct {
	nextProjectID int64
	nextTaskID    int64
	projects      map[int64]*models.Project
	tasks         map[int64]*models.Task
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{
		projects: make(map[int64]*models.Project),
		tasks:    make(map[int64]*models.Task),
	}
}

func (m *mockTaskRepo) CreateProject(ctx context.Context, p *models.Project, evt *models.Event) error {
	m.nextProjectID++
	p.ID = m.nextProjectID
	p.CreatedAt = time.Now().UTC()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockTaskRepo) FindProject(ctx context.Context, id int64) (*models.Project, error) {
	if p, ok := m.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTaskRepo) CreateTask(ctx context.Context, t *models.Task, evt *models.Event) error {
	m.nextTaskID++
	t.ID = m.nextTaskID
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTaskRepo) FindTask(ctx context.Context, id int64) (*models.Task, error) {
	if t, ok := m.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTaskRepo) ListByProject(ctx context.Context, projectID int64) ([]models.Task, error) {
	var out []models.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTaskRepo) TaskStatuses(ctx context.Context, ids []int64) (map[int64]models.TaskStatus, error) {
	out := make(map[int64]models.TaskStatus, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			out[id] = t.Status
		}
	}
	return out, nil
}

func (m *mockTaskRepo) UpdateStatus(ctx context.Context, taskID int64, status models.TaskStatus, completedAt *time.Time, events []*models.Event) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Status = status
	if completedAt != nil && t.CompletedAt == nil {
		t.CompletedAt = completedAt
	}
	return nil
}

func (m *mockTaskRepo) UpdateAssignee(ctx context.Context, taskID int64, assigneeID string, evt *models.Event) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.AssigneeID = assigneeID
	return nil
}

func (m *mockTaskRepo) AppendDependency(ctx context.Context, taskID, dependencyID int64, evt *models.Event) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Dependencies = append(t.Dependencies, dependencyID)
	return nil
}

func (m *mockTaskRepo) AppendSubtask(ctx context.Context, taskID, subtaskID int64, evt *models.Event) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Subtasks = append(t.Subtasks, subtaskID)
	return nil
}

func (m *mockTaskRepo) AppendAttachment(ctx context.Context, taskID int64, contentRef string, evt *models.Event) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Attachments = append(t.Attachments, contentRef)
	return nil
}

func newTaskFixture(t *testing.T) (*mockTaskRepo, *mockWorkspaceRepo, *mockEventSink, *TaskService) {
	t.Helper()
	repo := newMockTaskRepo()
	members := newMockWorkspaceRepo()
	members.seedWorkspace(1, "owner-1")
	sink := &mockEventSink{}

	blobs, err := storage.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSigner("test-secret", time.Minute)

	svc := NewTaskService(repo, members, sink, guard.New(), blobs, signer, 1024, validator.New(), zap.NewNop())
	return repo, members, sink, svc
}

func mustCreateTask(t *testing.T, svc *TaskService, projectID int64, title string) *models.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), "owner-1", CreateTaskRequest{ProjectID: projectID, Title: title})
	require.NoError(t, err)
	return task
}

func mustCreateProject(t *testing.T, svc *TaskService) *models.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), "owner-1", CreateProjectRequest{WorkspaceID: 1, Name: "Board"})
	require.NoError(t, err)
	return p
}

func TestTaskServiceCreateTaskDefaults(t *testing.T) {
	_, _, sink, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)

	task := mustCreateTask(t, svc, p.ID, "First")
	assert.Equal(t, models.TaskStatusTodo, task.Status)
	assert.Equal(t, models.TaskPriorityMedium, task.Priority)
	assert.Empty(t, task.Dependencies)
	assert.Empty(t, task.Subtasks)
	assert.Empty(t, task.Attachments)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, []string{models.EventProjectCreated, models.EventTaskCreated}, sink.kinds())
}

func TestTaskServiceDoneGateBlocksUnmetDependencies(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Parent")
	dep := mustCreateTask(t, svc, p.ID, "Dep")

	require.NoError(t, svc.AddDependency(context.Background(), "owner-1", task.ID, AddDependencyRequest{DependencyID: dep.ID}))

	_, err := svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusDone})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDependenciesUnmet.Code, appErrors.FromError(err).Code)

	// Non-DONE transitions are never gated.
	_, err = svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusInProgress})
	require.NoError(t, err)
}

func TestTaskServiceCompletedAtSetOnce(t *testing.T) {
	repo, _, sink, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Work")

	done, err := svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusDone})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	firstCompletion := *done.CompletedAt
	assert.Contains(t, sink.kinds(), models.EventTaskCompleted)

	// Reopen and complete again: the timestamp must not move and no second
	// completion event is emitted.
	_, err = svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusInProgress})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusDone})
	require.NoError(t, err)

	stored := repo.tasks[task.ID]
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, firstCompletion, *stored.CompletedAt)

	completions := 0
	for _, kind := range sink.kinds() {
		if kind == models.EventTaskCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestTaskServiceDependencyMustShareProject(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p1 := mustCreateProject(t, svc)
	p2, err := svc.CreateProject(context.Background(), "owner-1", CreateProjectRequest{WorkspaceID: 1, Name: "Other"})
	require.NoError(t, err)

	task := mustCreateTask(t, svc, p1.ID, "Parent")
	foreign := mustCreateTask(t, svc, p2.ID, "Foreign")

	err = svc.AddDependency(context.Background(), "owner-1", task.ID, AddDependencyRequest{DependencyID: foreign.ID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceDuplicateDependencyRejected(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Parent")
	dep := mustCreateTask(t, svc, p.ID, "Dep")

	require.NoError(t, svc.AddDependency(context.Background(), "owner-1", task.ID, AddDependencyRequest{DependencyID: dep.ID}))
	err := svc.AddDependency(context.Background(), "owner-1", task.ID, AddDependencyRequest{DependencyID: dep.ID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceSelfDependencyIsIncompletable(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Ouroboros")

	// Self references are accepted; the DONE gate then makes the task
	// permanently incompletable.
	require.NoError(t, svc.AddDependency(context.Background(), "owner-1", task.ID, AddDependencyRequest{DependencyID: task.ID}))

	_, err := svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusDone})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDependenciesUnmet.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceDuplicateSubtaskRejected(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Parent")
	sub := mustCreateTask(t, svc, p.ID, "Child")

	require.NoError(t, svc.AddSubtask(context.Background(), "owner-1", task.ID, AddSubtaskRequest{SubtaskID: sub.ID}))
	err := svc.AddSubtask(context.Background(), "owner-1", task.ID, AddSubtaskRequest{SubtaskID: sub.ID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceCreateTaskInactiveProject(t *testing.T) {
	repo, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	repo.projects[p.ID].Active = false

	_, err := svc.CreateTask(context.Background(), "owner-1", CreateTaskRequest{ProjectID: p.ID, Title: "Late"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceUpdateStatusRequiresAssigneeOrAdmin(t *testing.T) {
	_, members, _, svc := newTaskFixture(t)
	members.seedMember(1, "assignee-1", models.WorkspaceRoleMember)
	members.seedMember(1, "bystander-1", models.WorkspaceRoleMember)

	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Assigned work")
	require.NoError(t, svc.Assign(context.Background(), "owner-1", task.ID, AssignTaskRequest{AssigneeID: "assignee-1"}))

	// A member who is neither assignee nor ADMIN cannot move the task.
	_, err := svc.UpdateStatus(context.Background(), "bystander-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusInProgress})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// The assignee can.
	updated, err := svc.UpdateStatus(context.Background(), "assignee-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, updated.Status)

	// So can a workspace ADMIN who is not the assignee.
	updated, err = svc.UpdateStatus(context.Background(), "owner-1", task.ID, UpdateTaskStatusRequest{Status: models.TaskStatusDone})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, updated.Status)
}

func TestTaskServiceNonMemberForbidden(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "Private")

	_, err := svc.GetTask(context.Background(), "stranger", task.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceAttachmentRoundTrip(t *testing.T) {
	_, _, sink, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "With files")

	ref, err := svc.AddAttachment(context.Background(), "owner-1", task.ID, "notes.txt", 11, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Contains(t, sink.kinds(), models.EventAttachmentAdded)

	token, expiresAt, err := svc.AttachmentURL(context.Background(), "owner-1", task.ID, ref)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	reader, filename, err := svc.ResolveAttachment(token)
	require.NoError(t, err)
	defer reader.Close() //nolint:errcheck

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.NotEmpty(t, filename)
}

func TestTaskServiceAttachmentTooLarge(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "With files")

	_, err := svc.AddAttachment(context.Background(), "owner-1", task.ID, "big.bin", 4096, strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTaskServiceAttachmentURLUnknownRef(t *testing.T) {
	_, _, _, svc := newTaskFixture(t)
	p := mustCreateProject(t, svc)
	task := mustCreateTask(t, svc, p.ID, "No files")

	_, _, err := svc.AttachmentURL(context.Background(), "owner-1", task.ID, "tasks/99/ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

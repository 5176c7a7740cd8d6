package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/storage"
)

type taskRepository interface {
	CreateProject(ctx context.Context, p *models.Project, evt *models.Event) error
	FindProject(ctx context.Context, id int64) (*models.Project, error)
	CreateTask(ctx context.Context, t *models.Task, evt *models.Event) error
	FindTask(ctx context.Context, id int64) (*models.Task, error)
	ListByProject(ctx context.Context, projectID int64) ([]models.Task, error)
	TaskStatuses(ctx context.Context, ids []int64) (map[int64]models.TaskStatus, error)
	UpdateStatus(ctx context.Context, taskID int64, status models.TaskStatus, completedAt *time.Time, events []*models.Event) error
	UpdateAssignee(ctx context.Context, taskID int64, assigneeID string, evt *models.Event) error
	AppendDependency(ctx context.Context, taskID, dependencyID int64, evt *models.Event) error
	AppendSubtask(ctx context.Context, taskID, subtaskID int64, evt *models.Event) error
	AppendAttachment(ctx context.Context, taskID int64, contentRef string, evt *models.Event) error
}

// CreateProjectRequest describes payload for creating a project.
type CreateProjectRequest struct {
	WorkspaceID int64  `json:"workspace_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
}

// CreateTaskRequest describes payload for creating a task.
type CreateTaskRequest struct {
	ProjectID  int64               `json:"project_id" validate:"required"`
	Title      string              `json:"title" validate:"required"`
	ContentRef string              `json:"content_ref"`
	AssigneeID string              `json:"assignee_id"`
	Priority   models.TaskPriority `json:"priority"`
	DueDate    *time.Time          `json:"due_date,omitempty"`
}

// UpdateTaskStatusRequest moves a task across the board.
type UpdateTaskStatusRequest struct {
	Status models.TaskStatus `json:"status" validate:"required"`
}

// AssignTaskRequest reassigns a task.
type AssignTaskRequest struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

// AddDependencyRequest appends a dependency to a task.
type AddDependencyRequest struct {
	DependencyID int64 `json:"dependency_id" validate:"required"`
}

// AddSubtaskRequest links an existing task as a subtask.
type AddSubtaskRequest struct {
	SubtaskID int64 `json:"subtask_id" validate:"required"`
}

// TaskService orchestrates projects, tasks and their dependency workflow.
type TaskService struct {
	repo       taskRepository
	workspaces workspaceMembers
	events     eventSink
	guard      *guard.Guard
	blobs      *storage.BlobStore
	signer     *storage.Signer
	maxUpload  int64
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTaskService creates a new task service instance.
func NewTaskService(repo taskRepository, workspaces workspaceMembers, events eventSink, g *guard.Guard, blobs *storage.BlobStore, signer *storage.Signer, maxUpload int64, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New()
	}
	return &TaskService{
		repo:       repo,
		workspaces: workspaces,
		events:     events,
		guard:      g,
		blobs:      blobs,
		signer:     signer,
		maxUpload:  maxUpload,
		validator:  validate,
		logger:     logger,
	}
}

// CreateProject stores a new project in the workspace. Any active member
// may create projects.
func (s *TaskService) CreateProject(ctx context.Context, actorID string, req CreateProjectRequest) (*models.Project, error) {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
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

	p := &models.Project{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		OwnerID:     actorID,
		Active:      true,
	}
	evt := &models.Event{
		Kind:    models.EventProjectCreated,
		ActorID: actorID,
		Payload: eventPayload(map[string]interface{}{"workspace_id": req.WorkspaceID, "name": req.Name}),
	}

	if err := s.repo.CreateProject(ctx, p, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}

	s.events.Publish(evt)
	return p, nil
}

// GetProject returns a project readable by the caller.
func (s *TaskService) GetProject(ctx context.Context, actorID string, projectID int64) (*models.Project, error) {
	p, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateTask stores a new task in TODO with empty dependency, subtask and
// attachment sets.
func (s *TaskService) CreateTask(ctx context.Context, actorID string, req CreateTaskRequest) (*models.Task, error) {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	priority := req.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}
	if !models.ValidTaskPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown task priority")
	}

	p, err := s.loadProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "project is not active")
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return nil, err
	}

	t := &models.Task{
		ProjectID:  req.ProjectID,
		Title:      req.Title,
		ContentRef: req.ContentRef,
		AssigneeID: req.AssigneeID,
		Status:     models.TaskStatusTodo,
		Priority:   priority,
		DueDate:    req.DueDate,
		CreatorID:  actorID,
	}
	evt := &models.Event{
		Kind:    models.EventTaskCreated,
		ActorID: actorID,
		Payload: eventPayload(map[string]interface{}{"project_id": req.ProjectID, "title": req.Title}),
	}

	if err := s.repo.CreateTask(ctx, t, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}

	s.events.Publish(evt)
	return t, nil
}

// GetTask returns a task readable by the caller.
func (s *TaskService) GetTask(ctx context.Context, actorID string, taskID int64) (*models.Task, error) {
	t, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns a project's tasks in id order.
func (s *TaskService) ListTasks(ctx context.Context, actorID string, projectID int64) ([]models.Task, error) {
	p, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return nil, err
	}

	tasks, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}
	return tasks, nil
}

// UpdateStatus moves a task to a new status. Only the assignee or a
// workspace ADMIN may move a task. The transition into DONE requires every
// dependency to already be DONE; the first such transition also stamps
// CompletedAt and emits a completion event. All other transitions are
// unconditional.
func (s *TaskService) UpdateStatus(ctx context.Context, actorID string, taskID int64, req UpdateTaskStatusRequest) (*models.Task, error) {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidTaskStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown task status")
	}

	t, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != t.AssigneeID {
		if err := requireWorkspaceRole(ctx, s.workspaces, p.WorkspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
			return nil, err
		}
	}

	if req.Status == models.TaskStatusDone && len(t.Dependencies) > 0 {
		statuses, err := s.repo.TaskStatuses(ctx, t.Dependencies)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check dependencies")
		}
		for _, depID := range t.Dependencies {
			if statuses[depID] != models.TaskStatusDone {
				return nil, appErrors.Clone(appErrors.ErrDependenciesUnmet, fmt.Sprintf("dependency %d is not done", depID))
			}
		}
	}

	entityID := strconv.FormatInt(taskID, 10)
	events := []*models.Event{{
		Kind:     models.EventTaskStatusChanged,
		EntityID: entityID,
		ActorID:  actorID,
		Payload:  eventPayload(map[string]interface{}{"from": t.Status, "to": req.Status}),
	}}

	var completedAt *time.Time
	if req.Status == models.TaskStatusDone && t.CompletedAt == nil {
		now := time.Now().UTC()
		completedAt = &now
		events = append(events, &models.Event{
			Kind:     models.EventTaskCompleted,
			EntityID: entityID,
			ActorID:  actorID,
			Payload:  eventPayload(map[string]interface{}{"completed_at": now}),
		})
	}

	if err := s.repo.UpdateStatus(ctx, taskID, req.Status, completedAt, events); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task status")
	}

	for _, evt := range events {
		s.events.Publish(evt)
	}

	t.Status = req.Status
	if completedAt != nil {
		t.CompletedAt = completedAt
	}
	return t, nil
}

// Assign sets the task's assignee.
func (s *TaskService) Assign(ctx context.Context, actorID string, taskID int64, req AssignTaskRequest) error {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	_, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return err
	}

	evt := &models.Event{
		Kind:     models.EventTaskAssigned,
		EntityID: strconv.FormatInt(taskID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]string{"assignee_id": req.AssigneeID}),
	}

	if err := s.repo.UpdateAssignee(ctx, taskID, req.AssigneeID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign task")
	}

	s.events.Publish(evt)
	return nil
}

// AddDependency appends a dependency to the task's ordered set. The
// dependency must exist in the same project. Cycles and self references are
// not rejected; the DONE gate makes such tasks permanently incompletable,
// which is treated as a modelling error by the caller.
func (s *TaskService) AddDependency(ctx context.Context, actorID string, taskID int64, req AddDependencyRequest) error {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dependency payload")
	}

	t, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return err
	}

	dep, err := s.repo.FindTask(ctx, req.DependencyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "dependency task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dependency task")
	}
	if dep.ProjectID != t.ProjectID {
		return appErrors.Clone(appErrors.ErrValidation, "dependency must belong to the same project")
	}
	for _, id := range t.Dependencies {
		if id == req.DependencyID {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "dependency already present")
		}
	}

	evt := &models.Event{
		Kind:     models.EventDependencyAdded,
		EntityID: strconv.FormatInt(taskID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]int64{"dependency_id": req.DependencyID}),
	}

	if err := s.repo.AppendDependency(ctx, taskID, req.DependencyID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add dependency")
	}

	s.events.Publish(evt)
	return nil
}

// AddSubtask links an existing task from the same project as a subtask.
func (s *TaskService) AddSubtask(ctx context.Context, actorID string, taskID int64, req AddSubtaskRequest) error {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subtask payload")
	}

	t, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return err
	}

	sub, err := s.repo.FindTask(ctx, req.SubtaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subtask not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subtask")
	}
	if sub.ProjectID != t.ProjectID {
		return appErrors.Clone(appErrors.ErrValidation, "subtask must belong to the same project")
	}
	for _, id := range t.Subtasks {
		if id == req.SubtaskID {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "subtask already linked")
		}
	}

	evt := &models.Event{
		Kind:     models.EventSubtaskAdded,
		EntityID: strconv.FormatInt(taskID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]int64{"subtask_id": req.SubtaskID}),
	}

	if err := s.repo.AppendSubtask(ctx, taskID, req.SubtaskID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add subtask")
	}

	s.events.Publish(evt)
	return nil
}

// AddAttachment streams the upload into blob storage and appends its content
// ref to the task.
func (s *TaskService) AddAttachment(ctx context.Context, actorID string, taskID int64, filename string, size int64, r io.Reader) (string, error) {
	release, err := s.guard.Acquire("tasks", actorID)
	if err != nil {
		return "", err
	}
	defer release()

	if s.maxUpload > 0 && size > s.maxUpload {
		return "", appErrors.Clone(appErrors.ErrValidation, "attachment exceeds maximum allowed size")
	}

	_, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return "", err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return "", err
	}

	relPath := fmt.Sprintf("tasks/%d/%s_%s", taskID, uuid.NewString(), filepath.Base(filename))
	ref, err := s.blobs.SaveStream(relPath, r)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	evt := &models.Event{
		Kind:     models.EventAttachmentAdded,
		EntityID: strconv.FormatInt(taskID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]string{"content_ref": ref}),
	}

	if err := s.repo.AppendAttachment(ctx, taskID, ref, evt); err != nil {
		if delErr := s.blobs.Delete(ref); delErr != nil {
			s.logger.Warn("failed to clean up orphaned attachment", zap.String("ref", ref), zap.Error(delErr))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attachment")
	}

	s.events.Publish(evt)
	return ref, nil
}

// AttachmentURL issues a signed, time-bound download token for an attachment
// already linked to the task.
func (s *TaskService) AttachmentURL(ctx context.Context, actorID string, taskID int64, contentRef string) (string, time.Time, error) {
	t, p, err := s.loadTaskWithProject(ctx, taskID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := requireWorkspaceMember(ctx, s.workspaces, p.WorkspaceID, actorID); err != nil {
		return "", time.Time{}, err
	}

	found := false
	for _, ref := range t.Attachments {
		if ref == contentRef {
			found = true
			break
		}
	}
	if !found {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "attachment not found on task")
	}

	token, expiresAt, err := s.signer.Generate(strconv.FormatInt(taskID, 10), contentRef)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment token")
	}
	return token, expiresAt, nil
}

// ResolveAttachment validates a signed token and opens the referenced blob.
func (s *TaskService) ResolveAttachment(token string) (io.ReadCloser, string, error) {
	_, contentRef, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired attachment token")
	}
	file, err := s.blobs.Open(contentRef)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment content not found")
	}
	return file, filepath.Base(contentRef), nil
}

func (s *TaskService) loadProject(ctx context.Context, projectID int64) (*models.Project, error) {
	p, err := s.repo.FindProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	return p, nil
}

func (s *TaskService) loadTaskWithProject(ctx context.Context, taskID int64) (*models.Task, *models.Project, error) {
	t, err := s.repo.FindTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	p, err := s.loadProject(ctx, t.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}


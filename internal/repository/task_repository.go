package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/workspace-hub-api/internal/models"
)

// TaskRepository owns the projects and tasks tables. Dependency, subtask
// and attachment sets are stored as ordered arrays on the task row and are
// append-only.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// CreateProject allocates a project id and stores the project.
func (r *TaskRepository) CreateProject(ctx context.Context, p *models.Project, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := nextSequence(ctx, tx, seqProject)
	if err != nil {
		return err
	}
	p.ID = id
	p.CreatedAt = time.Now().UTC()
	evt.EntityID = fmt.Sprintf("%d", id)

	const query = `INSERT INTO projects (id, workspace_id, name, owner_id, active, created_at)
		VALUES (:id, :workspace_id, :name, :owner_id, :active, :created_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

// FindProject returns a project by identifier.
func (r *TaskRepository) FindProject(ctx context.Context, id int64) (*models.Project, error) {
	const query = `SELECT id, workspace_id, name, owner_id, active, created_at FROM projects WHERE id = $1 LIMIT 1`
	var p models.Project
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project by id: %w", err)
	}
	return &p, nil
}

// CreateTask allocates a task id and stores the task.
func (r *TaskRepository) CreateTask(ctx context.Context, t *models.Task, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := nextSequence(ctx, tx, seqTask)
	if err != nil {
		return err
	}
	t.ID = id
	evt.EntityID = fmt.Sprintf("%d", id)

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Dependencies == nil {
		t.Dependencies = pq.Int64Array{}
	}
	if t.Subtasks == nil {
		t.Subtasks = pq.Int64Array{}
	}
	if t.Attachments == nil {
		t.Attachments = pq.StringArray{}
	}

	const query = `INSERT INTO tasks (id, project_id, title, content_ref, assignee_id, status, priority, due_date, dependencies, subtasks, attachments, creator_id, created_at, updated_at, completed_at)
		VALUES (:id, :project_id, :title, :content_ref, :assignee_id, :status, :priority, :due_date, :dependencies, :subtasks, :attachments, :creator_id, :created_at, :updated_at, :completed_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, t); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create task: %w", err)
	}
	return nil
}

// FindTask returns a task by identifier.
func (r *TaskRepository) FindTask(ctx context.Context, id int64) (*models.Task, error) {
	const query = `SELECT id, project_id, title, content_ref, assignee_id, status, priority, due_date, dependencies, subtasks, attachments, creator_id, created_at, updated_at, completed_at FROM tasks WHERE id = $1 LIMIT 1`
	var t models.Task
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	return &t, nil
}

// ListByProject returns a project's tasks ordered by id.
func (r *TaskRepository) ListByProject(ctx context.Context, projectID int64) ([]models.Task, error) {
	const query = `SELECT id, project_id, title, content_ref, assignee_id, status, priority, due_date, dependencies, subtasks, attachments, creator_id, created_at, updated_at, completed_at FROM tasks WHERE project_id = $1 ORDER BY id ASC`
	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, query, projectID); err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	return tasks, nil
}

// TaskStatuses returns the current status of each requested task id.
func (r *TaskRepository) TaskStatuses(ctx context.Context, ids []int64) (map[int64]models.TaskStatus, error) {
	statuses := make(map[int64]models.TaskStatus, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}
	rows := []struct {
		ID     int64             `db:"id"`
		Status models.TaskStatus `db:"status"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, status FROM tasks WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("task statuses: %w", err)
	}
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	return statuses, nil
}

// UpdateStatus stores a new status. completedAt is only provided on the
// first transition into DONE; COALESCE keeps an already-set completion
// timestamp untouched on later transitions.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID int64, status models.TaskStatus, completedAt *time.Time, events []*models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update task status: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = $2, updated_at = $3, completed_at = COALESCE(completed_at, $4) WHERE id = $1`,
		taskID, status, time.Now().UTC(), completedAt)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	for _, evt := range events {
		if err = insertEvent(ctx, tx, evt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update task status: %w", err)
	}
	return nil
}

// UpdateAssignee reassigns a task.
func (r *TaskRepository) UpdateAssignee(ctx context.Context, taskID int64, assigneeID string, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign task: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id = $2, updated_at = $3 WHERE id = $1`, taskID, assigneeID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assign task: %w", err)
	}
	return nil
}

// AppendDependency appends a dependency task id. No cycle or self-reference
// detection is performed; see the workflow service for the rationale.
func (r *TaskRepository) AppendDependency(ctx context.Context, taskID, dependencyID int64, evt *models.Event) error {
	return r.appendToArray(ctx, `UPDATE tasks SET dependencies = array_append(dependencies, $2), updated_at = $3 WHERE id = $1`, taskID, dependencyID, evt)
}

// AppendSubtask appends a subtask id to the parent task.
func (r *TaskRepository) AppendSubtask(ctx context.Context, taskID, subtaskID int64, evt *models.Event) error {
	return r.appendToArray(ctx, `UPDATE tasks SET subtasks = array_append(subtasks, $2), updated_at = $3 WHERE id = $1`, taskID, subtaskID, evt)
}

// AppendAttachment appends an attachment content ref to the task.
func (r *TaskRepository) AppendAttachment(ctx context.Context, taskID int64, contentRef string, evt *models.Event) error {
	return r.appendToArray(ctx, `UPDATE tasks SET attachments = array_append(attachments, $2), updated_at = $3 WHERE id = $1`, taskID, contentRef, evt)
}

func (r *TaskRepository) appendToArray(ctx context.Context, query string, taskID int64, value interface{}, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, query, taskID, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("task append: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit task append: %w", err)
	}
	return nil
}

package models

import (
	"time"

	"github.com/lib/pq"
)

// TaskStatus models lightweight Kanban movement. Only the transition into
// DONE is gated (all dependencies must be DONE); every other transition is
// unconditional.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusReview     TaskStatus = "REVIEW"
	TaskStatusDone       TaskStatus = "DONE"
	TaskStatusArchived   TaskStatus = "ARCHIVED"
)

// ValidTaskStatus reports whether the status is one of the known states.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone, TaskStatusArchived:
		return true
	}
	return false
}

// TaskPriority orders tasks within a board.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityUrgent TaskPriority = "URGENT"
)

// ValidTaskPriority reports whether the priority is known.
func ValidTaskPriority(p TaskPriority) bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// Project groups tasks inside a workspace.
type Project struct {
	ID          int64     `db:"id" json:"id"`
	WorkspaceID int64     `db:"workspace_id" json:"workspace_id"`
	Name        string    `db:"name" json:"name"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Task is a unit of work inside a project. Dependency, subtask and
// attachment sets are ordered and append-only. CompletedAt is set exactly
// once, at the first transition into DONE.
type Task struct {
	ID           int64          `db:"id" json:"id"`
	ProjectID    int64          `db:"project_id" json:"project_id"`
	Title        string         `db:"title" json:"title"`
	ContentRef   string         `db:"content_ref" json:"content_ref"`
	AssigneeID   string         `db:"assignee_id" json:"assignee_id"`
	Status       TaskStatus     `db:"status" json:"status"`
	Priority     TaskPriority   `db:"priority" json:"priority"`
	DueDate      *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Dependencies pq.Int64Array  `db:"dependencies" json:"dependencies"`
	Subtasks     pq.Int64Array  `db:"subtasks" json:"subtasks"`
	Attachments  pq.StringArray `db:"attachments" json:"attachments"`
	CreatorID    string         `db:"creator_id" json:"creator_id"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

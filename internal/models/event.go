package models

import "time"

// Event kinds emitted on successful mutations.
const (
	EventWorkspaceCreated   = "WORKSPACE_CREATED"
	EventMemberAdded        = "MEMBER_ADDED"
	EventMemberRemoved      = "MEMBER_REMOVED"
	EventMemberRoleUpdated  = "MEMBER_ROLE_UPDATED"
	EventStorageUsedUpdated = "STORAGE_USED_UPDATED"

	EventDocumentCreated   = "DOCUMENT_CREATED"
	EventDocumentUpdated   = "DOCUMENT_UPDATED"
	EventDocumentDeleted   = "DOCUMENT_DELETED"
	EventPermissionGranted = "PERMISSION_GRANTED"
	EventPermissionRevoked = "PERMISSION_REVOKED"

	EventProjectCreated    = "PROJECT_CREATED"
	EventTaskCreated       = "TASK_CREATED"
	EventTaskStatusChanged = "TASK_STATUS_CHANGED"
	EventTaskCompleted     = "TASK_COMPLETED"
	EventTaskAssigned      = "TASK_ASSIGNED"
	EventDependencyAdded   = "DEPENDENCY_ADDED"
	EventSubtaskAdded      = "SUBTASK_ADDED"
	EventAttachmentAdded   = "ATTACHMENT_ADDED"

	EventPlanCreated         = "PLAN_CREATED"
	EventPlanDeactivated     = "PLAN_DEACTIVATED"
	EventSubscribed          = "SUBSCRIBED"
	EventSubscriptionRenewed = "SUBSCRIPTION_RENEWED"
)

// Event is the structured record emitted on every successful mutation,
// persisted in the same transaction as the mutation and published to the
// event channel afterwards. Payload carries the changed fields as JSON.
type Event struct {
	ID        string    `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	EntityID  string    `db:"entity_id" json:"entity_id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Payload   []byte    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EventFilter captures query criteria for the event feed.
type EventFilter struct {
	Kind     string
	EntityID string
	Page     int
	PageSize int
}

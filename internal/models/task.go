package models

import "time"

// SyncStatus tracks whether a task still has to be reconciled with the remote.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Task is the record kept in sync with the remote authority.
type Task struct {
	ID           string     `json:"id"`
	ServerID     *string    `json:"server_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Completed    bool       `json:"completed"`
	IsDeleted    bool       `json:"is_deleted"`
	SyncStatus   SyncStatus `json:"sync_status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// TaskInput holds the fields accepted when creating a task.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TaskPatch holds optional field updates; nil fields are left untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Apply copies the non-nil fields of the patch onto the task.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

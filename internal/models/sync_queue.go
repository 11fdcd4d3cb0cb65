package models

import "time"

// Operation is the kind of local mutation recorded in the sync queue.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// QueueItem is one pending mutation awaiting reconciliation.
type QueueItem struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Operation    Operation `json:"operation"`
	Data         string    `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage *string   `json:"error_message"`
}

// QueueStats summarises the queue for status reporting.
type QueueStats struct {
	Pending      int        `json:"pending"`
	Failed       int        `json:"failed"`
	LastSyncedAt *time.Time `json:"last_sync"`
}

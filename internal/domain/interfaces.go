package domain

import (
	"context"
	"encoding/json"

	"tasksync/internal/models"
)

// TaskRepository is the local offline store.
type TaskRepository interface {
	ApplyMutation(ctx context.Context, task *models.Task, op models.Operation) (*models.QueueItem, error)
	Enqueue(ctx context.Context, taskID string, op models.Operation, data json.RawMessage) (*models.QueueItem, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	ListTasksBySyncStatus(ctx context.Context, statuses ...models.SyncStatus) ([]models.Task, error)
	Requeue(ctx context.Context, taskID string) (int, error)
	QueueStats(ctx context.Context, maxRetries int) (*models.QueueStats, error)
}

// TaskService is the caller-facing task API.
type TaskService interface {
	CreateTask(ctx context.Context, input models.TaskInput) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	ListTasksNeedingSync(ctx context.Context) ([]models.Task, error)
	AddToSyncQueue(ctx context.Context, taskID string, op models.Operation, data json.RawMessage) error
	RequeueTask(ctx context.Context, taskID string) (int, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// SyncRunner runs a guarded sync and reports remote reachability.
type SyncRunner interface {
	Run(ctx context.Context) (*models.SyncResult, error)
	Online(ctx context.Context) bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

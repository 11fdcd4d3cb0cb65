package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTitleTooLong is returned for titles above MaxTitleLength characters.
var ErrTitleTooLong = errors.New("title is too long")

const MaxTitleLength = 255

// TaskService applies local mutations. Every mutation stores the task and
// its sync queue item together, so nothing is lost while offline.
type TaskService struct {
	repo       domain.TaskRepository
	eventBus   domain.EventPublisher
	maxRetries int
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewTaskService(repo domain.TaskRepository, eventBus domain.EventPublisher, maxRetries int, logger *zerolog.Logger) *TaskService {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TaskService{
		repo:       repo,
		eventBus:   eventBus,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *TaskService) CreateTask(ctx context.Context, input models.TaskInput) (*models.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = models.DefaultUntitled
	}
	if len([]rune(title)) > MaxTitleLength {
		return nil, ErrTitleTooLong
	}

	now := s.now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: input.Description,
		SyncStatus:  models.SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.repo.ApplyMutation(ctx, task, models.OperationCreate); err != nil {
		s.logger.Error().Err(err).Msg("failed to create task")
		return nil, err
	}

	s.publish(events.EventTaskCreated, task, models.OperationCreate)
	return task, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(task)
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		task.Title = models.DefaultUntitled
	}
	if len([]rune(task.Title)) > MaxTitleLength {
		return nil, ErrTitleTooLong
	}
	s.touch(task)

	if _, err := s.repo.ApplyMutation(ctx, task, models.OperationUpdate); err != nil {
		s.logger.Error().Err(err).Str("task_id", id).Msg("failed to update task")
		return nil, err
	}

	s.publish(events.EventTaskUpdated, task, models.OperationUpdate)
	return task, nil
}

// DeleteTask soft-deletes a task; the deletion is synced like any other
// mutation.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}

	task.IsDeleted = true
	s.touch(task)

	if _, err := s.repo.ApplyMutation(ctx, task, models.OperationDelete); err != nil {
		s.logger.Error().Err(err).Str("task_id", id).Msg("failed to delete task")
		return err
	}

	s.publish(events.EventTaskDeleted, task, models.OperationDelete)
	return nil
}

// GetTask returns ErrTaskNotFound for unknown and soft-deleted tasks.
func (s *TaskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsDeleted {
		return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	return task, nil
}

func (s *TaskService) ListTasks(ctx context.Context) ([]models.Task, error) {
	return s.repo.ListTasks(ctx)
}

// ListTasksNeedingSync returns pending and errored tasks, deleted ones
// included since their deletion still has to reach the remote.
func (s *TaskService) ListTasksNeedingSync(ctx context.Context) ([]models.Task, error) {
	return s.repo.ListTasksBySyncStatus(ctx, models.SyncStatusPending, models.SyncStatusError)
}

// AddToSyncQueue enqueues an explicit mutation for an existing task. It is
// also the way to resume a task that failed permanently.
func (s *TaskService) AddToSyncQueue(ctx context.Context, taskID string, op models.Operation, data json.RawMessage) error {
	if len(data) == 0 {
		task, err := s.repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if data, err = json.Marshal(task); err != nil {
			return fmt.Errorf("encode task snapshot: %w", err)
		}
	}

	item, err := s.repo.Enqueue(ctx, taskID, op, data)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("task_id", taskID).Str("item_id", item.ID).Str("operation", string(op)).Msg("added to sync queue")
	return nil
}

// RequeueTask resets the retry budget of a task's queued items.
func (s *TaskService) RequeueTask(ctx context.Context, taskID string) (int, error) {
	n, err := s.repo.Requeue(ctx, taskID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("task_id", taskID).Int("items", n).Msg("task requeued")

	s.publishPayload(events.EventTaskRequeued, events.TaskEventPayload{
		TaskID:     taskID,
		SyncStatus: string(models.SyncStatusPending),
		UpdatedAt:  s.now().UTC(),
	})
	return n, nil
}

func (s *TaskService) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return s.repo.QueueStats(ctx, s.maxRetries)
}

// touch marks a mutated task pending with a strictly later updated_at.
func (s *TaskService) touch(task *models.Task) {
	now := s.now().UTC()
	if !now.After(task.UpdatedAt) {
		now = task.UpdatedAt.Add(time.Millisecond)
	}
	task.UpdatedAt = now
	task.SyncStatus = models.SyncStatusPending
}

func (s *TaskService) publish(eventType string, task *models.Task, op models.Operation) {
	s.publishPayload(eventType, events.TaskEventPayload{
		TaskID:     task.ID,
		Operation:  string(op),
		SyncStatus: string(task.SyncStatus),
		UpdatedAt:  task.UpdatedAt,
	})
}

func (s *TaskService) publishPayload(eventType string, payload events.TaskEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

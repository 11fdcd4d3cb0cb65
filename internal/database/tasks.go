package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/models"
)

const taskColumns = `id, server_id, title, description, completed, is_deleted, sync_status, created_at, updated_at, last_synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID,
		&t.ServerID,
		&t.Title,
		&t.Description,
		&t.Completed,
		&t.IsDeleted,
		&t.SyncStatus,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ApplyMutation persists a locally mutated task and enqueues the matching
// sync operation in the same transaction. Create inserts, update and delete
// overwrite the stored row.
func (db *DB) ApplyMutation(ctx context.Context, task *models.Task, op models.Operation) (*models.QueueItem, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidOperation, op)
	}

	snapshot, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task snapshot: %w", err)
	}

	var item *models.QueueItem
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if op == models.OperationCreate {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		} else if err := updateTask(ctx, tx, task); err != nil {
			return err
		}

		item, err = insertQueueItem(ctx, tx, task.ID, op, string(snapshot), task.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		task.ID,
		task.ServerID,
		task.Title,
		task.Description,
		task.Completed,
		task.IsDeleted,
		task.SyncStatus,
		task.CreatedAt,
		task.UpdatedAt,
		task.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func updateTask(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	query := `UPDATE tasks SET title = ?, description = ?, completed = ?, is_deleted = ?, sync_status = ?, updated_at = ?
              WHERE id = ?`
	res, err := tx.ExecContext(ctx, query,
		task.Title,
		task.Description,
		task.Completed,
		task.IsDeleted,
		task.SyncStatus,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectRow(res, task.ID)
}

func expectRow(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, taskID)
	}
	return nil
}

// GetTask returns a task by id, including soft-deleted ones.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks that are not soft-deleted, oldest first.
func (db *DB) ListTasks(ctx context.Context) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE is_deleted = 0 ORDER BY created_at ASC`
	return db.queryTasks(ctx, query)
}

// ListTasksBySyncStatus returns tasks, deleted ones included, in any of the given statuses.
func (db *DB) ListTasksBySyncStatus(ctx context.Context, statuses ...models.SyncStatus) ([]models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE sync_status IN (` + placeholders + `) ORDER BY updated_at ASC`
	return db.queryTasks(ctx, query, args...)
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// applyResolvedTask overwrites the business fields of a task with the
// version chosen by conflict resolution.
func applyResolvedTask(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	query := `UPDATE tasks SET title = ?, description = ?, completed = ?, is_deleted = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, query,
		task.Title,
		task.Description,
		task.Completed,
		task.IsDeleted,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply resolved task: %w", err)
	}
	return expectRow(res, task.ID)
}

func markTaskSynced(ctx context.Context, tx *sql.Tx, taskID string, status models.SyncStatus, serverID string, syncedAt time.Time) error {
	query := `UPDATE tasks SET sync_status = ?, last_synced_at = ?, server_id = COALESCE(NULLIF(?, ''), server_id) WHERE id = ?`
	res, err := tx.ExecContext(ctx, query, status, syncedAt, serverID, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task synced: %w", err)
	}
	return expectRow(res, taskID)
}

func setTaskSyncStatus(ctx context.Context, tx *sql.Tx, taskID string, status models.SyncStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET sync_status = ? WHERE id = ?`, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to set task sync status: %w", err)
	}
	return expectRow(res, taskID)
}

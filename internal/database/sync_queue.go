package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/models"

	"github.com/google/uuid"
)

const queueColumns = `seq, id, task_id, operation, data, created_at, retry_count, error_message`

// Enqueue appends a mutation for an existing task with retry_count 0 and
// moves the task back to pending, which is how a permanently failed task
// is explicitly resumed.
func (db *DB) Enqueue(ctx context.Context, taskID string, op models.Operation, data json.RawMessage) (*models.QueueItem, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidOperation, op)
	}
	if !json.Valid(data) {
		return nil, errors.New("sync queue data must be valid JSON")
	}

	var item *models.QueueItem
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := setTaskSyncStatus(ctx, tx, taskID, models.SyncStatusPending); err != nil {
			return err
		}
		var err error
		item, err = insertQueueItem(ctx, tx, taskID, op, string(data), time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func insertQueueItem(ctx context.Context, tx *sql.Tx, taskID string, op models.Operation, data string, createdAt time.Time) (*models.QueueItem, error) {
	item := &models.QueueItem{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Operation: op,
		Data:      data,
		CreatedAt: createdAt,
	}

	query := `INSERT INTO sync_queue (id, task_id, operation, data, created_at, retry_count) VALUES (?, ?, ?, ?, ?, 0)`
	result, err := tx.ExecContext(ctx, query, item.ID, item.TaskID, item.Operation, item.Data, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync queue item: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.Seq = seq
	return item, nil
}

// Drain returns a snapshot of the queue in insertion order. Items that
// already used up maxRetries are permanently failed and left out, and so
// is every item of a task in error status until it is explicitly resumed.
// A non-positive maxRetries returns everything.
func (db *DB) Drain(ctx context.Context, maxRetries int) ([]models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue`
	var args []any
	if maxRetries > 0 {
		query += ` WHERE retry_count < ? AND task_id NOT IN (SELECT id FROM tasks WHERE sync_status = ?)`
		args = append(args, maxRetries, models.SyncStatusError)
	}
	query += ` ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to drain sync queue: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		err := rows.Scan(
			&it.Seq, &it.ID, &it.TaskID, &it.Operation, &it.Data, &it.CreatedAt, &it.RetryCount, &it.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync queue item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetQueueItem returns a single queue item by id.
func (db *DB) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`
	var it models.QueueItem
	err := db.QueryRowContext(ctx, query, id).Scan(
		&it.Seq, &it.ID, &it.TaskID, &it.Operation, &it.Data, &it.CreatedAt, &it.RetryCount, &it.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync queue item: %w", err)
	}
	return &it, nil
}

// RemoveTask deletes the queue items of a task up to and including throughSeq.
// Items enqueued later carry newer snapshots and stay queued.
func (db *DB) RemoveTask(ctx context.Context, taskID string, throughSeq int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := removeTaskItems(ctx, tx, taskID, throughSeq)
		return err
	})
}

func removeTaskItems(ctx context.Context, tx *sql.Tx, taskID string, throughSeq int64) (remaining int, err error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE task_id = ? AND seq <= ?`, taskID, throughSeq); err != nil {
		return 0, fmt.Errorf("failed to remove sync queue items: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE task_id = ?`, taskID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to count sync queue items: %w", err)
	}
	return remaining, nil
}

// CommitSynced records a confirmed reconciliation atomically: the task's
// queue items through item.Seq are removed, an optional resolved version is
// written and the task is stamped as synced. A task with newer queued
// mutations stays pending and keeps its local fields, since those mutations
// are newer than anything the remote returned.
func (db *DB) CommitSynced(ctx context.Context, item models.QueueItem, serverID string, resolved *models.Task, syncedAt time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		remaining, err := removeTaskItems(ctx, tx, item.TaskID, item.Seq)
		if err != nil {
			return err
		}

		status := models.SyncStatusSynced
		if remaining > 0 {
			status = models.SyncStatusPending
		} else if resolved != nil {
			if err := applyResolvedTask(ctx, tx, resolved); err != nil {
				return err
			}
		}
		return markTaskSynced(ctx, tx, item.TaskID, status, serverID, syncedAt)
	})
}

// RecordFailure increments the retry counter and stores the error message.
// When permanent is set the owning task is marked as errored in the same
// transaction. The queue item itself is never deleted here.
func (db *DB) RecordFailure(ctx context.Context, item models.QueueItem, message string, permanent bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET retry_count = retry_count + 1, error_message = ? WHERE id = ?`,
			message, item.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to record sync failure: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			// Already superseded by a later success for the same task.
			db.logger.Debug().Str("item_id", item.ID).Msg("failure for removed queue item ignored")
			return nil
		}

		if permanent {
			return setTaskSyncStatus(ctx, tx, item.TaskID, models.SyncStatusError)
		}
		return nil
	})
}

// Requeue resets the retry budget of every queue item of a task and moves
// the task back to pending. It returns the number of items reset.
func (db *DB) Requeue(ctx context.Context, taskID string) (int, error) {
	var reset int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := setTaskSyncStatus(ctx, tx, taskID, models.SyncStatusPending); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET retry_count = 0, error_message = NULL WHERE task_id = ?`, taskID)
		if err != nil {
			return fmt.Errorf("failed to requeue task: %w", err)
		}
		reset, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(reset), nil
}

// QueueStats reports queued and permanently failed item counts together with
// the most recent successful sync time. Items of a task in error status
// count as failed.
func (db *DB) QueueStats(ctx context.Context, maxRetries int) (*models.QueueStats, error) {
	var stats models.QueueStats

	query := `SELECT
                COALESCE(SUM(CASE WHEN q.retry_count < ? AND t.sync_status != ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN q.retry_count >= ? OR t.sync_status = ? THEN 1 ELSE 0 END), 0)
              FROM sync_queue q JOIN tasks t ON t.id = q.task_id`
	err := db.QueryRowContext(ctx, query, maxRetries, models.SyncStatusError, maxRetries, models.SyncStatusError).
		Scan(&stats.Pending, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync queue: %w", err)
	}

	var last time.Time
	err = db.QueryRowContext(ctx,
		`SELECT last_synced_at FROM tasks WHERE last_synced_at IS NOT NULL ORDER BY last_synced_at DESC LIMIT 1`,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	default:
		stats.LastSyncedAt = &last
	}

	return &stats, nil
}

package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask(id string) *models.Task {
	return &models.Task{
		ID:         id,
		Title:      "title " + id,
		SyncStatus: models.SyncStatusPending,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

// seedTask inserts a task through the create path, which also enqueues it.
func seedTask(t *testing.T, db *DB, id string) *models.QueueItem {
	t.Helper()
	item, err := db.ApplyMutation(context.Background(), newTask(id), models.OperationCreate)
	require.NoError(t, err)
	return item
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_NilLogger(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDB_ForeignKeysEnforced(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.ExecContext(context.Background(),
		`INSERT INTO sync_queue (id, task_id, operation, data, created_at) VALUES ('q', 'missing', 'create', '{}', ?)`,
		baseTime)
	assert.Error(t, err)
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()

	_, err = db.Drain(ctx, 3)
	assert.Error(t, err)

	_, err = db.GetTask(ctx, "x")
	assert.Error(t, err)

	_, err = db.ApplyMutation(ctx, newTask("x"), models.OperationCreate)
	assert.Error(t, err)

	err = db.RecordFailure(ctx, models.QueueItem{ID: "x", TaskID: "x"}, "boom", false)
	assert.Error(t, err)

	_, err = db.QueueStats(ctx, 3)
	assert.Error(t, err)
}

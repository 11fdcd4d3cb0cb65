package database

import (
	"context"
	"encoding/json"
	"testing"

	"tasksync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMutation_CreateEnqueues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := seedTask(t, db, "t1")
	assert.Equal(t, models.OperationCreate, item.Operation)
	assert.Equal(t, 0, item.RetryCount)
	assert.NotEmpty(t, item.ID)

	var snapshot models.Task
	require.NoError(t, json.Unmarshal([]byte(item.Data), &snapshot))
	assert.Equal(t, "t1", snapshot.ID)
	assert.Equal(t, "title t1", snapshot.Title)

	task, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, task.SyncStatus)
	assert.True(t, task.UpdatedAt.Equal(baseTime))
	assert.Nil(t, task.ServerID)
	assert.Nil(t, task.LastSyncedAt)
}

func TestApplyMutation_UpdateAndSoftDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedTask(t, db, "t1")

	task, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)

	task.Title = "changed"
	task.Completed = true
	task.UpdatedAt = baseTime.Add(1)
	_, err = db.ApplyMutation(ctx, task, models.OperationUpdate)
	require.NoError(t, err)

	task.IsDeleted = true
	task.UpdatedAt = baseTime.Add(2)
	_, err = db.ApplyMutation(ctx, task, models.OperationDelete)
	require.NoError(t, err)

	stored, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "changed", stored.Title)
	assert.True(t, stored.Completed)
	assert.True(t, stored.IsDeleted)

	list, err := db.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "soft-deleted tasks are excluded from normal reads")

	items, err := db.Drain(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, models.OperationCreate, items[0].Operation)
	assert.Equal(t, models.OperationUpdate, items[1].Operation)
	assert.Equal(t, models.OperationDelete, items[2].Operation)
}

func TestApplyMutation_Errors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.ApplyMutation(ctx, newTask("ghost"), models.OperationUpdate)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	_, err = db.ApplyMutation(ctx, newTask("t1"), models.Operation("upsert"))
	assert.ErrorIs(t, err, models.ErrInvalidOperation)

	items, err := db.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items, "failed mutations must not leave queue items behind")
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestListTasksBySyncStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := seedTask(t, db, "a")
	seedTask(t, db, "b")
	seedTask(t, db, "c")

	require.NoError(t, db.CommitSynced(ctx, *a, "srv-a", nil, baseTime))

	items, err := db.Drain(ctx, 0)
	require.NoError(t, err)
	for _, it := range items {
		if it.TaskID == "b" {
			require.NoError(t, db.RecordFailure(ctx, it, "boom", true))
		}
	}

	pending, err := db.ListTasksBySyncStatus(ctx, models.SyncStatusPending, models.SyncStatusError)
	require.NoError(t, err)
	ids := []string{}
	for _, task := range pending {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)

	none, err := db.ListTasksBySyncStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

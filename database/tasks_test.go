/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/beacon/model"
)

func TestCreateAndGetTask(t *testing.T) {
	ds := newTestDatasource(t)
	ds.now = func() int64 { return 1700000000000 }

	id, err := ds.CreateTask("events/track", model.TaskTypeAPI, `{"resource":"events/track"}`)
	require.NoError(t, err)
	assert.Contains(t, id, "task_")

	task, err := ds.GetTask(id)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, id, task.ID)
	assert.Equal(t, "events/track", task.Name)
	assert.Equal(t, model.TaskTypeAPI, task.Type)
	assert.Equal(t, int64(1700000000000), task.CreatedAt)
	assert.Equal(t, int64(1700000000000), task.ScheduledAt)
	assert.Zero(t, task.Attempts)
	assert.False(t, task.Processing)
	assert.False(t, task.Failed)
	assert.False(t, task.Blocking)
	assert.Nil(t, task.Error)
}

func TestGetTask_NotFound(t *testing.T) {
	ds := newTestDatasource(t)

	task, err := ds.GetTask("task_missing")
	assert.NoError(t, err)
	assert.Nil(t, task)
}

func TestNextScheduledTask_FIFO(t *testing.T) {
	ds := newTestDatasource(t)
	ds.now = func() int64 { return 42 }

	var ids []string
	for _, name := range []string{"users/update", "commerce/trackPurchase", "events/track"} {
		id, err := ds.CreateTask(name, model.TaskTypeAPI, "{}")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		next, err := ds.NextScheduledTask()
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, want, next.ID)

		again, err := ds.NextScheduledTask()
		require.NoError(t, err)
		assert.Equal(t, want, again.ID)

		deleted, err := ds.DeleteTask(next.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
	}

	next, err := ds.NextScheduledTask()
	assert.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextScheduledTask_RespectsScheduledAt(t *testing.T) {
	ds := newTestDatasource(t)
	ds.now = func() int64 { return 100 }

	first, err := ds.CreateTask("events/track", model.TaskTypeAPI, "{}")
	require.NoError(t, err)
	second, err := ds.CreateTask("events/track", model.TaskTypeAPI, "{}")
	require.NoError(t, err)

	require.NoError(t, ds.UpdateTaskField(first, model.FieldScheduledAt, int64(500)))

	next, err := ds.NextScheduledTask()
	require.NoError(t, err)
	assert.Equal(t, second, next.ID)
}

func TestUpdateTaskFields(t *testing.T) {
	ds := newTestDatasource(t)
	ds.now = func() int64 { return 10 }

	id, err := ds.CreateTask("events/track", model.TaskTypeAPI, "{}")
	require.NoError(t, err)

	ds.now = func() int64 { return 20 }
	msg := "503 service unavailable"
	err = ds.UpdateTaskFields(id, map[model.TaskField]interface{}{
		model.FieldAttempts:        2,
		model.FieldFailed:          true,
		model.FieldProcessing:      false,
		model.FieldError:           msg,
		model.FieldScheduledAt:     int64(30),
		model.FieldLastAttemptedAt: int64(20),
	})
	require.NoError(t, err)

	task, err := ds.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempts)
	assert.True(t, task.Failed)
	assert.False(t, task.Processing)
	require.NotNil(t, task.Error)
	assert.Equal(t, msg, *task.Error)
	assert.Equal(t, int64(30), task.ScheduledAt)
	assert.Equal(t, int64(20), task.LastAttemptedAt)
	assert.Equal(t, int64(20), task.ModifiedAt)

	require.NoError(t, ds.UpdateTaskField(id, model.FieldError, nil))
	task, err = ds.GetTask(id)
	require.NoError(t, err)
	assert.Nil(t, task.Error)
}

func TestUpdateTaskField_UnknownField(t *testing.T) {
	ds := newTestDatasource(t)
	err := ds.UpdateTaskField("task_1", model.TaskField(42), 1)
	assert.Error(t, err)
}

func TestCountListAndPurgeTasks(t *testing.T) {
	ds := newTestDatasource(t)

	for i := 0; i < 5; i++ {
		_, err := ds.CreateTask("events/track", model.TaskTypeAPI, "{}")
		require.NoError(t, err)
	}

	count, err := ds.CountTasks()
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	tasks, err := ds.ListTasks(3)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	purged, err := ds.DeleteAllTasks()
	require.NoError(t, err)
	assert.Equal(t, int64(5), purged)

	count, err = ds.CountTasks()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteTask_Missing(t *testing.T) {
	ds := newTestDatasource(t)

	deleted, err := ds.DeleteTask("task_missing")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestCreateTask_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := NewDatasourceFromConn(db)

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(sqlmock.AnyArg(), "events/track", "API", "{}", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	id, err := ds.CreateTask("events/track", model.TaskTypeAPI, "{}")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create task")
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountTasks_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := NewDatasourceFromConn(db)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("database is locked"))

	_, err = ds.CountTasks()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextScheduledTask_ScanRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := NewDatasourceFromConn(db)

	rows := sqlmock.NewRows([]string{"id", "name", "type", "payload", "created_at", "modified_at", "scheduled_at",
		"requested_at", "last_attempted_at", "attempts", "processing", "failed", "blocking", "error"}).
		AddRow("task_1", "events/track", "API", "{}", 1, 1, 1, 0, 0, 3, false, true, false, "timeout")
	mock.ExpectQuery("SELECT (.+) FROM tasks ORDER BY scheduled_at ASC, rowid ASC LIMIT 1").WillReturnRows(rows)

	task, err := ds.NextScheduledTask()
	require.NoError(t, err)
	assert.Equal(t, "task_1", task.ID)
	assert.Equal(t, 3, task.Attempts)
	assert.True(t, task.Failed)
	require.NotNil(t, task.Error)
	assert.Equal(t, "timeout", *task.Error)
}

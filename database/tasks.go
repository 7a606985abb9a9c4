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
	"database/sql"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/jerry-enebeli/beacon/model"
)

const taskColumns = `id, name, type, payload, created_at, modified_at, scheduled_at,
	requested_at, last_attempted_at, attempts, processing, failed, blocking, error`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*model.TaskRecord, error) {
	var (
		t       model.TaskRecord
		taskErr sql.NullString
	)
	err := s.Scan(&t.ID, &t.Name, &t.Type, &t.Payload, &t.CreatedAt, &t.ModifiedAt, &t.ScheduledAt,
		&t.RequestedAt, &t.LastAttemptedAt, &t.Attempts, &t.Processing, &t.Failed, &t.Blocking, &taskErr)
	if err != nil {
		return nil, err
	}
	if taskErr.Valid {
		t.Error = &taskErr.String
	}
	return &t, nil
}

// CreateTask persists a new task scheduled for immediate dispatch.
//
// Parameters:
// - name string: The resource path the task calls.
// - taskType model.TaskType: The kind of task.
// - payload string: The serialized request.
//
// Returns:
// - string: The id of the new task.
// - error: An error if the insert fails.
func (d *Datasource) CreateTask(name string, taskType model.TaskType, payload string) (string, error) {
	if err := d.acquire("create_task"); err != nil {
		return "", err
	}
	defer d.release()

	id := model.GenerateUUIDWithSuffix("task")
	now := d.nowMillis()

	_, err := d.Conn.Exec(`
		INSERT INTO tasks (id, name, type, payload, created_at, modified_at, scheduled_at,
			requested_at, last_attempted_at, attempts, processing, failed, blocking, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, 0, NULL)
	`, id, name, string(taskType), payload, now, now, now)
	if err != nil {
		return "", errors.Wrap(err, "failed to create task")
	}

	return id, nil
}

// GetTask returns the task with the given id, or nil when it does not exist.
func (d *Datasource) GetTask(id string) (*model.TaskRecord, error) {
	if err := d.acquire("get_task"); err != nil {
		return nil, err
	}
	defer d.release()

	row := d.Conn.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return t, nil
}

// DeleteTask removes a task and reports whether a row was deleted.
func (d *Datasource) DeleteTask(id string) (bool, error) {
	if err := d.acquire("delete_task"); err != nil {
		return false, err
	}
	defer d.release()

	result, err := d.Conn.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete task %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read deleted rows")
	}
	return affected > 0, nil
}

// NextScheduledTask returns the task with the lowest scheduled_at, ties going to
// the earliest inserted row. It has no side effects.
func (d *Datasource) NextScheduledTask() (*model.TaskRecord, error) {
	if err := d.acquire("next_scheduled_task"); err != nil {
		return nil, err
	}
	defer d.release()

	row := d.Conn.QueryRow("SELECT " + taskColumns + " FROM tasks ORDER BY scheduled_at ASC, rowid ASC LIMIT 1")
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read next scheduled task")
	}
	return t, nil
}

// CountTasks returns the number of queued tasks.
func (d *Datasource) CountTasks() (int, error) {
	if err := d.acquire("count_tasks"); err != nil {
		return 0, err
	}
	defer d.release()

	var count int
	if err := d.Conn.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count tasks")
	}
	return count, nil
}

// UpdateTaskField sets a single column of a task.
func (d *Datasource) UpdateTaskField(id string, field model.TaskField, value interface{}) error {
	return d.UpdateTaskFields(id, map[model.TaskField]interface{}{field: value})
}

// UpdateTaskFields sets several columns of a task in one statement and bumps modified_at.
func (d *Datasource) UpdateTaskFields(id string, values map[model.TaskField]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	fields := make([]model.TaskField, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	sets := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	for _, field := range fields {
		column, err := field.Column()
		if err != nil {
			return err
		}
		sets = append(sets, column+" = ?")
		args = append(args, values[field])
	}

	if err := d.acquire("update_task"); err != nil {
		return err
	}
	defer d.release()

	sets = append(sets, "modified_at = ?")
	args = append(args, d.nowMillis(), id)

	_, err := d.Conn.Exec("UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update task %s", id)
	}
	return nil
}

// ListTasks returns up to limit tasks in dispatch order.
func (d *Datasource) ListTasks(limit int) ([]model.TaskRecord, error) {
	if err := d.acquire("list_tasks"); err != nil {
		return nil, err
	}
	defer d.release()

	rows, err := d.Conn.Query("SELECT "+taskColumns+" FROM tasks ORDER BY scheduled_at ASC, rowid ASC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	tasks := []model.TaskRecord{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error occurred while iterating over tasks")
	}
	return tasks, nil
}

// DeleteAllTasks purges the queue and returns how many tasks were removed.
func (d *Datasource) DeleteAllTasks() (int64, error) {
	if err := d.acquire("delete_all_tasks"); err != nil {
		return 0, err
	}
	defer d.release()

	result, err := d.Conn.Exec("DELETE FROM tasks")
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge tasks")
	}
	return result.RowsAffected()
}

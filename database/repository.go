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
	"github.com/jerry-enebeli/beacon/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	task    // Queued network operations
	kvStore // Opaque blobs such as the anonymous buffer and cached criteria
	AddStoreErrorListener(l StoreErrorListener)
	Close() error
}

// task defines methods for handling queued tasks.
type task interface {
	CreateTask(name string, taskType model.TaskType, payload string) (string, error) // Persists a new task and returns its id
	GetTask(id string) (*model.TaskRecord, error)                                    // Retrieves a task, nil when absent
	DeleteTask(id string) (bool, error)                                              // Deletes a task, reports whether it existed
	NextScheduledTask() (*model.TaskRecord, error)                                   // Oldest scheduled task, nil when the queue is empty
	CountTasks() (int, error)                                                        // Number of queued tasks
	UpdateTaskField(id string, field model.TaskField, value interface{}) error       // Updates one column of a task
	UpdateTaskFields(id string, values map[model.TaskField]interface{}) error        // Updates several columns in one statement
	ListTasks(limit int) ([]model.TaskRecord, error)                                 // Tasks in dispatch order
	DeleteAllTasks() (int64, error)                                                  // Purges the queue
}

// kvStore defines methods for handling keyed blobs.
type kvStore interface {
	GetBlob(key string) ([]byte, error)                                   // Returns nil when the key is absent
	PutBlob(key string, value []byte) error                               // Inserts or replaces the value
	DeleteBlob(key string) error                                          // Removes the key
	UpdateBlob(key string, fn func(current []byte) ([]byte, error)) error // Atomic read-modify-write
}

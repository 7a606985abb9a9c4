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

package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type TaskType string

const (
	TaskTypeAPI TaskType = "API"
)

// Request processors reported to the server with every call.
const (
	ProcessorOnline  = "Online"
	ProcessorOffline = "Offline"
)

// TaskRecord is one durable queued network operation. All timestamps are epoch millis.
type TaskRecord struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            TaskType `json:"type"`
	Payload         string   `json:"payload"`
	CreatedAt       int64    `json:"created_at"`
	ModifiedAt      int64    `json:"modified_at"`
	ScheduledAt     int64    `json:"scheduled_at"`
	RequestedAt     int64    `json:"requested_at"`
	LastAttemptedAt int64    `json:"last_attempted_at"`
	Attempts        int      `json:"attempts"`
	Processing      bool     `json:"processing"`
	Failed          bool     `json:"failed"`
	Blocking        bool     `json:"blocking"`
	Error           *string  `json:"error,omitempty"`
}

// TaskField names a mutable column of the tasks table.
type TaskField int

const (
	FieldAttempts TaskField = iota
	FieldProcessing
	FieldFailed
	FieldBlocking
	FieldError
	FieldScheduledAt
	FieldRequestedAt
	FieldLastAttemptedAt
)

var taskFieldColumns = map[TaskField]string{
	FieldAttempts:        "attempts",
	FieldProcessing:      "processing",
	FieldFailed:          "failed",
	FieldBlocking:        "blocking",
	FieldError:           "error",
	FieldScheduledAt:     "scheduled_at",
	FieldRequestedAt:     "requested_at",
	FieldLastAttemptedAt: "last_attempted_at",
}

// Column returns the column backing the field. Unknown fields are rejected so
// that no caller supplied string ever reaches an UPDATE statement.
func (f TaskField) Column() (string, error) {
	column, ok := taskFieldColumns[f]
	if !ok {
		return "", fmt.Errorf("unknown task field %d", int(f))
	}
	return column, nil
}

func (f TaskField) String() string {
	if column, ok := taskFieldColumns[f]; ok {
		return column
	}
	return "unknown"
}

// ApiRequest describes one outbound call. It is what a TaskRecord payload holds.
type ApiRequest struct {
	ApiKey    string                 `json:"api_key"`
	Resource  string                 `json:"resource"`
	Method    string                 `json:"method"`
	Body      map[string]interface{} `json:"body,omitempty"`
	AuthToken string                 `json:"auth_token,omitempty"`
	Processor string                 `json:"processor,omitempty"`
}

// Encode serializes the request into a task payload.
func (r *ApiRequest) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeApiRequest parses a task payload produced by Encode.
func DecodeApiRequest(payload string) (*ApiRequest, error) {
	var req ApiRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

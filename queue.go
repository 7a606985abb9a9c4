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

package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/model"
)

var (
	// ErrQueueUnavailable is returned by Schedule once the task store has failed.
	ErrQueueUnavailable = errors.New("task queue unavailable")
	ErrQueueFull        = errors.New("task queue is full")
)

// ResultHandler receives the outcome of one tracked call. Either function may be nil.
type ResultHandler struct {
	OnSuccess func(body map[string]interface{})
	OnFailure func(err error, body map[string]interface{})
}

func (h *ResultHandler) handle(resp *Response) {
	if h == nil {
		return
	}
	if resp.Success() {
		if h.OnSuccess != nil {
			h.OnSuccess(resp.Body)
		}
		return
	}
	if h.OnFailure != nil {
		h.OnFailure(resp.Err, resp.Body)
	}
}

// TaskManager persists ApiRequests as tasks and owns the runner that delivers them.
type TaskManager struct {
	store   taskStore
	health  queueHealth
	runner  *TaskRunner
	deliver func(func())

	mu       sync.Mutex
	handlers map[string]*ResultHandler
}

// NewTaskManager creates a TaskManager. deliver runs handler callbacks; when
// nil they run on the runner goroutine.
//
// Parameters:
// - store taskStore: Durable task storage.
// - executor requestExecutor: Sends the requests held by tasks.
// - health queueHealth: Gates scheduling and dispatch.
// - cnf config.QueueConfig: Attempt limit and retry intervals.
// - deliver func(func()): Runs result handlers.
//
// Returns:
// - *TaskManager: The manager. Call Start to begin dispatching.
func NewTaskManager(store taskStore, executor requestExecutor, health queueHealth, cnf config.QueueConfig, deliver func(func())) *TaskManager {
	m := &TaskManager{
		store:    store,
		health:   health,
		deliver:  deliver,
		handlers: make(map[string]*ResultHandler),
	}
	m.runner = NewTaskRunner(store, executor, health, cnf, m.complete)
	return m
}

func (m *TaskManager) Start(ctx context.Context) {
	m.runner.Start(ctx)
	m.runner.Wake()
}

func (m *TaskManager) Stop() {
	m.runner.Stop()
}

func (m *TaskManager) Runner() *TaskRunner {
	return m.runner
}

// Schedule persists req as a task and wakes the runner. It never executes the request.
//
// Parameters:
// - ctx context.Context: Used for tracing.
// - req *model.ApiRequest: The request to queue.
// - handler *ResultHandler: Optional, notified once when the task leaves the queue.
//
// Returns:
// - string: The task id.
// - error: ErrQueueUnavailable or ErrQueueFull when the task was not accepted, or a store error.
func (m *TaskManager) Schedule(ctx context.Context, req *model.ApiRequest, handler *ResultHandler) (string, error) {
	_, span := tracer.Start(ctx, "Scheduling task", trace.WithAttributes(attribute.String("resource", req.Resource)))
	defer span.End()

	if !m.health.CanSchedule() {
		if cause := m.health.Err(); cause != nil {
			return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, cause)
		}
		return "", ErrQueueFull
	}

	queued := *req
	queued.Processor = model.ProcessorOffline
	payload, err := queued.Encode()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	id, err := m.store.CreateTask(req.Resource, model.TaskTypeAPI, payload)
	if err != nil {
		m.mu.Unlock()
		span.RecordError(err)
		m.health.OnScheduleError(err)
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if handler != nil {
		m.handlers[id] = handler
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"task_id":  id,
		"resource": req.Resource,
	}).Debug("task scheduled")

	m.runner.Wake()
	return id, nil
}

func (m *TaskManager) complete(task model.TaskRecord, resp *Response) {
	m.mu.Lock()
	handler, ok := m.handlers[task.ID]
	delete(m.handlers, task.ID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if m.deliver == nil {
		handler.handle(resp)
		return
	}
	m.deliver(func() { handler.handle(resp) })
}

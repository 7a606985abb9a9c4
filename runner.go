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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/internal/apierror"
	"github.com/jerry-enebeli/beacon/model"
)

type taskStore interface {
	CreateTask(name string, taskType model.TaskType, payload string) (string, error)
	NextScheduledTask() (*model.TaskRecord, error)
	UpdateTaskField(id string, field model.TaskField, value interface{}) error
	UpdateTaskFields(id string, values map[model.TaskField]interface{}) error
	DeleteTask(id string) (bool, error)
}

type requestExecutor interface {
	Execute(ctx context.Context, req *model.ApiRequest) *Response
}

type queueHealth interface {
	CanSchedule() bool
	CanProcess() bool
	Err() error
	OnScheduleError(err error)
	OnDispatchError(err error)
	OnPurgeError(err error)
}

// TaskRunner drains the task store one task at a time, oldest scheduled first.
type TaskRunner struct {
	store         taskStore
	executor      requestExecutor
	health        queueHealth
	maxAttempts   int
	retryInterval time.Duration
	maxRetryDelay time.Duration
	onComplete    func(task model.TaskRecord, resp *Response)
	now           func() time.Time

	wakeCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewTaskRunner creates a runner. onComplete is called once for every task that
// leaves the queue, whether it succeeded, failed terminally or ran out of attempts.
func NewTaskRunner(store taskStore, executor requestExecutor, health queueHealth, cnf config.QueueConfig, onComplete func(model.TaskRecord, *Response)) *TaskRunner {
	return &TaskRunner{
		store:         store,
		executor:      executor,
		health:        health,
		maxAttempts:   cnf.MaxAttempts,
		retryInterval: time.Duration(cnf.RetryIntervalSec) * time.Second,
		maxRetryDelay: time.Duration(cnf.MaxRetryDelaySec) * time.Second,
		onComplete:    onComplete,
		now:           time.Now,
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

func (r *TaskRunner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	logrus.Info("Task runner started")
}

// Stop waits for the task in flight, if any, to finish.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Task runner stopped")
}

func (r *TaskRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wake asks the runner to look at the queue again. It never blocks.
func (r *TaskRunner) Wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *TaskRunner) run(ctx context.Context) {
	for {
		wait := r.drain(ctx)

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			logrus.Info("Task runner context cancelled")
			stopTimer(timer)
			return
		case <-r.stopCh:
			logrus.Info("Task runner stop signal received")
			stopTimer(timer)
			return
		case <-r.wakeCh:
		case <-timerC:
		}
		stopTimer(timer)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// drain processes due tasks until the queue is empty or the head task is not
// due yet. It returns how long to wait for the head task, or 0 to wait for Wake.
func (r *TaskRunner) drain(ctx context.Context) time.Duration {
	for {
		if ctx.Err() != nil || r.stopping() {
			return 0
		}

		if !r.health.CanProcess() {
			logrus.Debug("task store unhealthy, not dispatching")
			return 0
		}

		task, err := r.store.NextScheduledTask()
		if err != nil {
			r.health.OnDispatchError(err)
			return 0
		}
		if task == nil {
			return 0
		}

		if wait := model.MillisToTime(task.ScheduledAt).Sub(r.now()); wait > 0 {
			return wait
		}

		r.process(ctx, task)
	}
}

func (r *TaskRunner) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *TaskRunner) process(ctx context.Context, task *model.TaskRecord) {
	ctx, span := tracer.Start(ctx, "Processing task", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.name", task.Name),
		attribute.Int("task.attempts", task.Attempts),
	))
	defer span.End()

	now := r.now().UnixMilli()
	err := r.store.UpdateTaskFields(task.ID, map[model.TaskField]interface{}{
		model.FieldProcessing:      true,
		model.FieldRequestedAt:     now,
		model.FieldLastAttemptedAt: now,
	})
	if err != nil {
		span.RecordError(err)
		r.health.OnDispatchError(err)
		return
	}

	req, err := r.decode(task)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"task_id": task.ID,
			"error":   err,
		}).Error("dropping task with unreadable payload")
		r.finish(task, &Response{Err: apierror.NewAPIError(apierror.ErrInvalidRequest, err.Error(), err)})
		return
	}

	resp := r.executor.Execute(ctx, req)
	if ctx.Err() != nil {
		// Interrupted by shutdown; the attempt does not count.
		if err := r.store.UpdateTaskField(task.ID, model.FieldProcessing, false); err != nil {
			logrus.WithError(err).Warn("failed to release interrupted task")
		}
		return
	}

	switch {
	case resp.Success():
		span.AddEvent("task delivered")
		r.finish(task, resp)
	case resp.Retryable():
		r.retry(task, resp)
	default:
		logrus.WithFields(logrus.Fields{
			"task_id": task.ID,
			"name":    task.Name,
			"code":    resp.Code(),
			"error":   resp.Err,
		}).Warn("task failed permanently")
		r.finish(task, resp)
	}
}

func (r *TaskRunner) decode(task *model.TaskRecord) (*model.ApiRequest, error) {
	if task.Type != model.TaskTypeAPI {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "unsupported task type "+string(task.Type), nil)
	}
	return model.DecodeApiRequest(task.Payload)
}

func (r *TaskRunner) retry(task *model.TaskRecord, resp *Response) {
	attempts := task.Attempts + 1
	if attempts >= r.maxAttempts {
		logrus.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"name":     task.Name,
			"attempts": attempts,
			"error":    resp.Err,
		}).Warn("task exceeded max attempts, dropping")
		r.finish(task, resp)
		return
	}

	delay := r.RetryDelay(attempts)
	msg := resp.Err.Error()
	err := r.store.UpdateTaskFields(task.ID, map[model.TaskField]interface{}{
		model.FieldAttempts:    attempts,
		model.FieldFailed:      true,
		model.FieldProcessing:  false,
		model.FieldError:       msg,
		model.FieldScheduledAt: r.now().Add(delay).UnixMilli(),
	})
	if err != nil {
		r.health.OnDispatchError(err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"attempts": attempts,
		"delay":    delay,
		"error":    msg,
	}).Info("task rescheduled")
}

// RetryDelay returns the wait before the next attempt of a task that has
// failed attempts times.
func (r *TaskRunner) RetryDelay(attempts int) time.Duration {
	return exponentialInterval(r.retryInterval, r.maxRetryDelay, attempts)
}

func (r *TaskRunner) finish(task *model.TaskRecord, resp *Response) {
	if _, err := r.store.DeleteTask(task.ID); err != nil {
		r.health.OnPurgeError(err)
	}
	if r.onComplete != nil {
		r.onComplete(*task, resp)
	}
}

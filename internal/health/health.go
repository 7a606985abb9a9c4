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

package health

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// TaskCounter reports the current queue depth.
type TaskCounter interface {
	CountTasks() (int, error)
}

// ErrorNotifier receives the failure that tripped the monitor.
type ErrorNotifier interface {
	NotifyError(err error)
}

// Monitor gates scheduling and processing on the health of the task store.
// Once a store failure is observed the monitor stays errored until the process restarts.
type Monitor struct {
	store     TaskCounter
	maxQueued int
	notifier  ErrorNotifier

	mu      sync.Mutex
	errored bool
	cause   error
}

// NewMonitor creates a monitor admitting at most maxQueued tasks.
func NewMonitor(store TaskCounter, maxQueued int, notifier ErrorNotifier) *Monitor {
	return &Monitor{store: store, maxQueued: maxQueued, notifier: notifier}
}

// CanSchedule reports whether a new task may be enqueued. A failed count is
// handled as a store failure.
func (m *Monitor) CanSchedule() bool {
	if !m.CanProcess() {
		return false
	}

	count, err := m.store.CountTasks()
	if err != nil {
		m.trip("count", err)
		return false
	}

	if count >= m.maxQueued {
		logrus.WithFields(logrus.Fields{
			"queued": count,
			"limit":  m.maxQueued,
		}).Warn("task queue is full, rejecting new task")
		return false
	}
	return true
}

// CanProcess reports whether queued tasks may be dispatched.
func (m *Monitor) CanProcess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.errored
}

// Err returns the failure that tripped the monitor, or nil.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

func (m *Monitor) OnScheduleError(err error) {
	m.trip("schedule", err)
}

func (m *Monitor) OnDispatchError(err error) {
	m.trip("dispatch", err)
}

func (m *Monitor) OnPurgeError(err error) {
	m.trip("purge", err)
}

// OnStoreError matches database.StoreErrorListener.
func (m *Monitor) OnStoreError(op string, err error) {
	m.trip(op, err)
}

func (m *Monitor) trip(op string, err error) {
	m.mu.Lock()
	first := !m.errored
	m.errored = true
	if first {
		m.cause = fmt.Errorf("task store %s failed: %w", op, err)
	}
	cause := m.cause
	m.mu.Unlock()

	if !first {
		return
	}

	logrus.WithFields(logrus.Fields{
		"op":    op,
		"error": err,
	}).Error("task store failure, scheduling and processing disabled")
	if m.notifier != nil {
		m.notifier.NotifyError(cause)
	}
}

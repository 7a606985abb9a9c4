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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakeCounter) CountTasks() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

func (f *fakeCounter) set(count int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count, f.err = count, err
}

type recordingNotifier struct {
	errs []error
}

func (r *recordingNotifier) NotifyError(err error) {
	r.errs = append(r.errs, err)
}

func TestCanSchedule_QueueLimit(t *testing.T) {
	counter := &fakeCounter{count: 999}
	m := NewMonitor(counter, 1000, nil)

	assert.True(t, m.CanSchedule())

	counter.set(1000, nil)
	assert.False(t, m.CanSchedule())
	assert.True(t, m.CanProcess())

	counter.set(10, nil)
	assert.True(t, m.CanSchedule())
}

func TestFatalErrorIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		trip func(m *Monitor)
	}{
		{name: "schedule", trip: func(m *Monitor) { m.OnScheduleError(errors.New("insert failed")) }},
		{name: "dispatch", trip: func(m *Monitor) { m.OnDispatchError(errors.New("select failed")) }},
		{name: "purge", trip: func(m *Monitor) { m.OnPurgeError(errors.New("delete failed")) }},
		{name: "store", trip: func(m *Monitor) { m.OnStoreError("count_tasks", errors.New("closed")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &fakeCounter{}
			notifier := &recordingNotifier{}
			m := NewMonitor(counter, 1000, notifier)

			tt.trip(m)
			assert.False(t, m.CanSchedule())
			assert.False(t, m.CanProcess())

			counter.set(0, nil)
			assert.False(t, m.CanSchedule())
			assert.False(t, m.CanProcess())
			assert.Error(t, m.Err())
			assert.Len(t, notifier.errs, 1)
		})
	}
}

func TestCountFailureTripsMonitor(t *testing.T) {
	notifier := &recordingNotifier{}
	counter := &fakeCounter{err: errors.New("database is locked")}
	m := NewMonitor(counter, 1000, notifier)

	assert.False(t, m.CanSchedule())
	assert.False(t, m.CanProcess())

	m.OnDispatchError(errors.New("second failure"))
	assert.Len(t, notifier.errs, 1)
	assert.Contains(t, m.Err().Error(), "database is locked")
}

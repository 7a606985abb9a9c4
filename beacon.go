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
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/database"
	"github.com/jerry-enebeli/beacon/internal/cache"
	"github.com/jerry-enebeli/beacon/internal/health"
	"github.com/jerry-enebeli/beacon/internal/notification"
	"github.com/jerry-enebeli/beacon/model"
)

var ErrMissingConfiguration = errors.New("beacon configuration is required")

// Handlers are the host application's callbacks. Every field is optional.
// Callbacks run on a dedicated goroutine, never on the caller's or the runner's.
type Handlers struct {
	AuthTokenProvider TokenProvider
	OnAuthFailure     func(model.AuthFailure)
	OnUserCreated     func(userID string)
	OnTokenReady      func(token string)
}

type Option func(*Beacon)

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Beacon) {
		b.client = client
	}
}

// WithCache replaces the criteria cache built from the configuration.
func WithCache(c cache.Cache) Option {
	return func(b *Beacon) {
		b.cache = c
	}
}

func WithNotifier(n *notification.Notifier) Option {
	return func(b *Beacon) {
		b.notifier = n
	}
}

// Beacon owns every component of the delivery core for one project.
type Beacon struct {
	cfg        *config.Configuration
	datasource database.IDataSource
	handlers   Handlers
	client     *http.Client
	cache      cache.Cache
	notifier   *notification.Notifier

	health    *health.Monitor
	auth      *AuthManager
	executor  *Executor
	tasks     *TaskManager
	criteria  *CriteriaStore
	anonymous *AnonymousEventBuffer

	mu      sync.Mutex
	offline bool
	email   string
	userID  string

	callbacks     chan func()
	callbacksDone chan struct{}
	callbackWg    sync.WaitGroup
	work          chan func(context.Context)
	workDone      chan struct{}
	workWg        sync.WaitGroup
	lifeMu        sync.Mutex
	started       bool
	stopped       bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewBeacon wires the store, auth, executor, runner and anonymous buffer together.
//
// Parameters:
// - ds database.IDataSource: The durable store for tasks and blobs.
// - cfg *config.Configuration: The validated configuration.
// - handlers Handlers: Host application callbacks.
// - opts ...Option: Optional overrides.
//
// Returns:
// - *Beacon: The instance. Call Start before tracking.
// - error: An error if the cache cannot be built.
func NewBeacon(ds database.IDataSource, cfg *config.Configuration, handlers Handlers, opts ...Option) (*Beacon, error) {
	if cfg == nil {
		return nil, ErrMissingConfiguration
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Beacon{
		cfg:        cfg,
		datasource: ds,
		handlers:   handlers,
		offline:    cfg.Queue.OfflineProcessing,
		ctx:        ctx,
		cancel:     cancel,

		callbacks:     make(chan func(), 64),
		callbacksDone: make(chan struct{}),
		work:          make(chan func(context.Context), 64),
		workDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.cache == nil {
		c, err := cache.NewCache(cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		b.cache = c
	}
	if b.notifier == nil {
		b.notifier = notification.New(cfg)
	}

	b.health = health.NewMonitor(ds, cfg.Queue.MaxQueuedTasks, b.notifier)
	ds.AddStoreErrorListener(b.health.OnStoreError)

	b.auth = NewAuthManager(AuthOptions{
		Provider:      b.tokenProvider(),
		Policy:        NewRetryPolicy(cfg.Auth),
		RefreshPeriod: time.Duration(cfg.Auth.RefreshPeriodSec) * time.Second,
		OnFailure:     b.onAuthFailure,
		OnTokenReady:  b.onTokenReady,
	})
	b.executor = NewExecutor(cfg, b.auth, b.client)
	b.tasks = NewTaskManager(ds, b.executor, b.health, cfg.Queue, b.deliver)
	b.criteria = NewCriteriaStore(ds, b.cache, b.executor)
	b.anonymous = NewAnonymousEventBuffer(ds, b.criteria, b.executor, AnonymousOptions{
		Enabled:   cfg.Anonymous.Enabled,
		Threshold: cfg.Anonymous.EventThreshold,
		OnPromote: b.promote,
	})
	return b, nil
}

// tokenProvider falls back to the configured static token when the host gave no provider.
func (b *Beacon) tokenProvider() TokenProvider {
	if b.handlers.AuthTokenProvider != nil {
		return b.handlers.AuthTokenProvider
	}
	if token := b.cfg.Auth.StaticToken; token != "" {
		return func(context.Context) (string, error) {
			return token, nil
		}
	}
	return nil
}

// Start launches the callback dispatcher, the online worker and the task runner.
func (b *Beacon) Start(ctx context.Context) {
	b.lifeMu.Lock()
	if b.started || b.stopped {
		b.lifeMu.Unlock()
		return
	}
	b.started = true
	b.lifeMu.Unlock()

	b.callbackWg.Add(1)
	go func() {
		defer b.callbackWg.Done()
		runQueue(b.callbacks, b.callbacksDone, func(fn func()) { fn() })
	}()

	b.workWg.Add(1)
	go func() {
		defer b.workWg.Done()
		runQueue(b.work, b.workDone, func(fn func(context.Context)) { fn(b.ctx) })
	}()

	b.tasks.Start(ctx)
	if b.anonymous.Enabled() {
		b.refreshCriteria()
	}
	logrus.WithField("offline", b.Offline()).Info("beacon started")
}

// refreshCriteria fetches the anonymous criteria on the online worker. A failed
// fetch keeps whatever criteria are already stored.
func (b *Beacon) refreshCriteria() {
	b.submit(func(ctx context.Context) {
		if _, err := b.criteria.Fetch(ctx); err != nil {
			logrus.WithError(err).Warn("failed to fetch anonymous criteria")
		}
	})
}

// runQueue runs jobs until done is closed, then runs whatever is still queued.
func runQueue[T any](jobs chan T, done chan struct{}, run func(T)) {
	for {
		select {
		case job := <-jobs:
			run(job)
		case <-done:
			for {
				select {
				case job := <-jobs:
					run(job)
				default:
					return
				}
			}
		}
	}
}

// Stop drains queued work and callbacks, then stops every component. Tasks
// still in the store are dispatched after the next Start.
func (b *Beacon) Stop() {
	b.lifeMu.Lock()
	if b.stopped {
		b.lifeMu.Unlock()
		return
	}
	b.stopped = true
	b.lifeMu.Unlock()

	b.tasks.Stop()

	close(b.workDone)
	b.workWg.Wait()

	b.auth.Close()

	close(b.callbacksDone)
	b.callbackWg.Wait()

	b.cancel()
	b.notifier.Wait()
	logrus.Info("beacon stopped")
}

func (b *Beacon) running() bool {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.started && !b.stopped
}

// Flush blocks until all work submitted so far ran and its callbacks were delivered.
func (b *Beacon) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !b.submit(func(context.Context) {
		b.deliver(func() { close(done) })
	}) {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit queues fn on the online worker. It reports false when the Beacon is not running.
func (b *Beacon) submit(fn func(context.Context)) bool {
	if !b.running() {
		logrus.Warn("beacon is not running, dropping work")
		return false
	}
	select {
	case b.work <- fn:
		return true
	case <-b.workDone:
		return false
	}
}

// deliver runs fn on the callback goroutine, or inline when that goroutine is gone.
func (b *Beacon) deliver(fn func()) {
	b.lifeMu.Lock()
	started := b.started
	b.lifeMu.Unlock()

	if !started {
		fn()
		return
	}
	select {
	case <-b.callbacksDone:
		fn()
		return
	default:
	}
	select {
	case <-b.callbacksDone:
		fn()
	case b.callbacks <- fn:
	}
}

func (b *Beacon) onAuthFailure(failure model.AuthFailure) {
	logrus.WithFields(logrus.Fields{
		"user_key": failure.UserKey,
		"reason":   failure.Reason.String(),
	}).Warn("auth failure")
	if b.handlers.OnAuthFailure != nil {
		b.deliver(func() { b.handlers.OnAuthFailure(failure) })
	}
}

func (b *Beacon) onTokenReady(token string) {
	if b.handlers.OnTokenReady != nil {
		b.deliver(func() { b.handlers.OnTokenReady(token) })
	}
}

// Health exposes the store health monitor.
func (b *Beacon) Health() *health.Monitor {
	return b.health
}

func (b *Beacon) Auth() *AuthManager {
	return b.auth
}

func (b *Beacon) Tasks() *TaskManager {
	return b.tasks
}

func (b *Beacon) Anonymous() *AnonymousEventBuffer {
	return b.anonymous
}

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/model"
)

var (
	// ErrAuthRequestSkipped is returned by RefreshToken when the retry policy,
	// a missing identity or the duplicate failure guard dropped the request.
	ErrAuthRequestSkipped = errors.New("auth token request skipped")
	ErrNullAuthToken      = errors.New("auth token provider returned an empty token")
)

const maxAuthRetryInterval = 24 * time.Hour

// TokenProvider fetches a fresh JWT for the current identity.
type TokenProvider func(ctx context.Context) (string, error)

// RetryPolicy controls how failed token requests are retried.
type RetryPolicy struct {
	MaxRetry      int
	RetryInterval time.Duration
	Backoff       string
}

// NewRetryPolicy builds the policy from the auth section of the configuration.
func NewRetryPolicy(cnf config.AuthConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetry:      cnf.MaxRetry,
		RetryInterval: time.Duration(cnf.RetryIntervalSec) * time.Second,
		Backoff:       cnf.RetryBackoff,
	}
}

// NextRetryInterval returns the delay before retry number retryCount. With
// exponential backoff it is RetryInterval * 2^(retryCount-1), otherwise RetryInterval.
func (p RetryPolicy) NextRetryInterval(retryCount int) time.Duration {
	if p.Backoff != config.RetryBackoffExponential || retryCount <= 1 {
		return p.RetryInterval
	}
	return exponentialInterval(p.RetryInterval, maxAuthRetryInterval, retryCount)
}

// exponentialInterval returns the n-th interval (n >= 1) of a jitter free
// exponential backoff starting at initial and capped at max.
func exponentialInterval(initial, max time.Duration, n int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	next := b.NextBackOff()
	for i := 1; i < n; i++ {
		next = b.NextBackOff()
	}
	return next
}

type tokenResult struct {
	token string
	err   error
}

// AuthOptions configures an AuthManager.
type AuthOptions struct {
	Provider      TokenProvider
	Policy        RetryPolicy
	RefreshPeriod time.Duration
	OnFailure     func(model.AuthFailure)
	OnTokenReady  func(token string)
}

// AuthManager owns the JWT of the current identity. At most one provider call
// is in flight; requests arriving meanwhile are coalesced into a single
// follow up refresh. Provider calls run on the manager's own goroutine.
type AuthManager struct {
	provider      TokenProvider
	policy        RetryPolicy
	refreshPeriod time.Duration
	onFailure     func(model.AuthFailure)
	onTokenReady  func(string)
	now           func() time.Time

	mu                  sync.Mutex
	email               string
	userID              string
	token               string
	isTokenValid        bool
	pending             bool
	requiresAuthRefresh bool
	retryCount          int
	hasFailedPriorAuth  bool
	retriesPaused       bool
	timer               *time.Timer
	waiters             []chan tokenResult
	generation          int

	jobsMu sync.Mutex
	jobs   chan func(context.Context)
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuthManager starts the manager's worker goroutine. Call Close to stop it.
func NewAuthManager(opts AuthOptions) *AuthManager {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AuthManager{
		provider:      opts.Provider,
		policy:        opts.Policy,
		refreshPeriod: opts.RefreshPeriod,
		onFailure:     opts.OnFailure,
		onTokenReady:  opts.OnTokenReady,
		now:           time.Now,
		jobs:          make(chan func(context.Context), 4),
		ctx:           ctx,
		cancel:        cancel,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for job := range a.jobs {
			job(a.ctx)
		}
	}()
	return a
}

// Close cancels any refresh timer and in-flight provider call and stops the worker.
func (a *AuthManager) Close() {
	a.mu.Lock()
	a.clearRefreshTimerLocked()
	a.generation++
	waiters := a.takeWaitersLocked()
	a.mu.Unlock()
	resolve(waiters, tokenResult{err: ErrAuthRequestSkipped})

	a.jobsMu.Lock()
	if !a.closed {
		a.closed = true
		a.cancel()
		close(a.jobs)
	}
	a.jobsMu.Unlock()
	a.wg.Wait()
}

// SetIdentity switches the identity the token is issued for. The cached token,
// any pending request and the refresh timer belong to the previous identity
// and are discarded.
func (a *AuthManager) SetIdentity(email, userID string) {
	a.mu.Lock()
	a.email = email
	a.userID = userID
	a.resetLocked()
	waiters := a.takeWaitersLocked()
	a.mu.Unlock()

	resolve(waiters, tokenResult{err: ErrAuthRequestSkipped})
}

// ClearToken drops the cached token and cancels the refresh timer.
func (a *AuthManager) ClearToken() {
	a.mu.Lock()
	a.token = ""
	a.isTokenValid = false
	a.clearRefreshTimerLocked()
	a.mu.Unlock()
}

func (a *AuthManager) resetLocked() {
	a.generation++
	a.token = ""
	a.isTokenValid = false
	a.pending = false
	a.requiresAuthRefresh = false
	a.retryCount = 0
	a.hasFailedPriorAuth = false
	a.clearRefreshTimerLocked()
}

// Token returns the cached token, or "" when there is none.
func (a *AuthManager) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Session returns a snapshot of the manager's state.
func (a *AuthManager) Session() model.AuthSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.AuthSession{
		Email:              a.email,
		UserID:             a.userID,
		Token:              a.token,
		IsTokenValid:       a.isTokenValid,
		PendingAuthRequest: a.pending,
		RetryCount:         a.retryCount,
		HasFailedPriorAuth: a.hasFailedPriorAuth,
		RetriesPaused:      a.retriesPaused,
	}
}

// PauseAuthRetries stops or resumes retry driven refreshes. Expiration driven
// refreshes keep running. The retry count is reset either way.
func (a *AuthManager) PauseAuthRetries(pause bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retriesPaused = pause
	a.retryCount = 0
}

func (a *AuthManager) ResetRetryCount() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retryCount = 0
}

// OnRequestSucceeded records that the server accepted a request.
func (a *AuthManager) OnRequestSucceeded() {
	a.mu.Lock()
	a.hasFailedPriorAuth = false
	a.mu.Unlock()
	a.PauseAuthRetries(false)
}

// HandleAuthFailure reports a rejected token to the host application and marks
// it invalid when it is still the cached one.
func (a *AuthManager) HandleAuthFailure(reason model.AuthFailureReason, token string) {
	a.mu.Lock()
	if token != "" && token == a.token {
		a.isTokenValid = false
	}
	a.mu.Unlock()
	a.notifyFailure(reason, token)
}

// RequestNewAuthToken asks the provider for a new token unless the retry
// policy, a missing identity, the duplicate failure guard or a pending request
// prevents it. It does not wait for the result.
func (a *AuthManager) RequestNewAuthToken(hasFailedPriorAuth, ignoreRetryPolicy bool) {
	a.requestNewAuthToken(hasFailedPriorAuth, ignoreRetryPolicy, nil)
}

// RefreshToken requests a new token and waits for the outcome. A caller that
// arrives while a request is pending joins it.
func (a *AuthManager) RefreshToken(ctx context.Context, hasFailedPriorAuth bool) (string, error) {
	waiter := make(chan tokenResult, 1)
	a.requestNewAuthToken(hasFailedPriorAuth, false, waiter)

	select {
	case res := <-waiter:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *AuthManager) requestNewAuthToken(hasFailedPriorAuth, ignoreRetryPolicy bool, waiter chan tokenResult) {
	skip := func(reason string) {
		logrus.WithFields(logrus.Fields{
			"reason":      reason,
			"retry_count": a.retryCount,
		}).Debug("auth token request skipped")
		if waiter != nil {
			waiter <- tokenResult{err: ErrAuthRequestSkipped}
		}
	}

	a.mu.Lock()
	if !ignoreRetryPolicy && (a.retriesPaused || a.retryCount >= a.policy.MaxRetry) {
		skip("retry policy")
		a.mu.Unlock()
		return
	}
	if a.email == "" && a.userID == "" {
		skip("no identity")
		a.mu.Unlock()
		return
	}
	if a.provider == nil {
		skip("no token provider")
		a.mu.Unlock()
		return
	}

	if a.pending {
		if !hasFailedPriorAuth {
			a.requiresAuthRefresh = true
		}
		if waiter != nil {
			a.waiters = append(a.waiters, waiter)
		}
		a.mu.Unlock()
		return
	}

	if a.hasFailedPriorAuth && hasFailedPriorAuth {
		skip("duplicate failure")
		a.mu.Unlock()
		return
	}

	a.hasFailedPriorAuth = hasFailedPriorAuth
	a.pending = true
	a.retryCount++
	if waiter != nil {
		a.waiters = append(a.waiters, waiter)
	}
	gen := a.generation
	a.mu.Unlock()

	if !a.submit(func(ctx context.Context) {
		token, err := a.provider(ctx)
		a.handleProviderResult(gen, token, err)
	}) {
		a.mu.Lock()
		a.pending = false
		waiters := a.takeWaitersLocked()
		a.mu.Unlock()
		resolve(waiters, tokenResult{err: ErrAuthRequestSkipped})
	}
}

func (a *AuthManager) submit(job func(context.Context)) bool {
	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()
	if a.closed {
		return false
	}
	a.jobs <- job
	return true
}

func (a *AuthManager) handleProviderResult(gen int, token string, err error) {
	a.mu.Lock()
	if gen != a.generation {
		// The identity changed while the provider was running.
		a.mu.Unlock()
		return
	}
	a.pending = false
	waiters := a.takeWaitersLocked()

	if err != nil || token == "" {
		a.mu.Unlock()

		reason, cause := model.AuthTokenGenerationError, err
		if err == nil {
			reason, cause = model.AuthTokenNull, ErrNullAuthToken
		}
		logrus.WithFields(logrus.Fields{
			"reason": reason.String(),
			"error":  cause,
		}).Warn("auth token request failed")

		a.notifyFailure(reason, "")
		a.scheduleAuthTokenRefresh(a.nextRetryInterval(), false)
		resolve(waiters, tokenResult{err: cause})
		return
	}

	a.token = token
	a.isTokenValid = true
	a.retryCount = 0
	resync := a.requiresAuthRefresh
	a.requiresAuthRefresh = false
	a.mu.Unlock()

	a.queueExpirationRefresh(token)
	if resync {
		a.scheduleAuthTokenRefresh(a.nextRetryInterval(), false)
	}

	resolve(waiters, tokenResult{token: token})
	if a.onTokenReady != nil {
		a.onTokenReady(token)
	}
}

// queueExpirationRefresh arms the timer that refreshes the token refreshPeriod before it expires.
func (a *AuthManager) queueExpirationRefresh(token string) {
	a.mu.Lock()
	a.clearRefreshTimerLocked()
	a.mu.Unlock()

	exp, err := tokenExpiration(token)
	if err != nil {
		logrus.WithError(err).Error("failed to decode auth token payload")
		a.notifyFailure(model.AuthTokenPayloadInvalid, token)
		a.scheduleAuthTokenRefresh(a.nextRetryInterval(), false)
		return
	}

	trigger := exp.Sub(a.now()) - a.refreshPeriod
	if trigger <= 0 {
		logrus.WithField("expires_at", exp).Warn("auth token expires within the refresh period, not scheduling a refresh")
		return
	}
	a.scheduleAuthTokenRefresh(trigger, true)
}

// scheduleAuthTokenRefresh replaces the refresh timer. Retry driven refreshes are
// dropped while retries are paused; expiration driven ones ignore the retry policy.
func (a *AuthManager) scheduleAuthTokenRefresh(delay time.Duration, isScheduledRefresh bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retriesPaused && !isScheduledRefresh {
		return
	}

	a.clearRefreshTimerLocked()
	gen := a.generation
	a.timer = time.AfterFunc(delay, func() {
		a.mu.Lock()
		stale := gen != a.generation
		a.mu.Unlock()
		if stale {
			return
		}
		a.requestNewAuthToken(false, isScheduledRefresh, nil)
	})
}

func (a *AuthManager) clearRefreshTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *AuthManager) nextRetryInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.NextRetryInterval(a.retryCount)
}

func (a *AuthManager) takeWaitersLocked() []chan tokenResult {
	waiters := a.waiters
	a.waiters = nil
	return waiters
}

func (a *AuthManager) notifyFailure(reason model.AuthFailureReason, token string) {
	if a.onFailure == nil {
		return
	}
	a.mu.Lock()
	userKey := a.email
	if userKey == "" {
		userKey = a.userID
	}
	a.mu.Unlock()

	a.onFailure(model.AuthFailure{
		UserKey:           userKey,
		FailedAuthToken:   token,
		FailedRequestTime: a.now().UnixMilli(),
		Reason:            reason,
	})
}

func resolve(waiters []chan tokenResult, res tokenResult) {
	for _, w := range waiters {
		w <- res
	}
}

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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/internal/apierror"
	"github.com/jerry-enebeli/beacon/model"
)

const (
	trackEventResource    = "events/track"
	updateUserResource    = "users/update"
	trackPurchaseResource = "commerce/trackPurchase"
	updateCartResource    = "commerce/updateCart"
)

var (
	// ErrNoIdentity is reported when a call needs an identity and anonymous tracking is off.
	ErrNoIdentity = errors.New("no email or user id set")
	ErrNotRunning = errors.New("beacon is not running")
)

func invalidInput(err error) error {
	return apierror.NewAPIError(apierror.ErrInvalidRequest, err.Error(), err)
}

// TrackEvent records a custom event.
func (b *Beacon) TrackEvent(name string, fields map[string]interface{}, handler *ResultHandler) {
	record := model.EventRecord{Type: model.EventTypeCustom, EventName: name, DataFields: fields, CreatedAt: model.NowMillis()}
	if err := record.Validate(); err != nil {
		b.fail(handler, invalidInput(err))
		return
	}

	b.route(handler,
		func(ctx context.Context) error { return b.anonymous.TrackEvent(ctx, name, fields) },
		func(identity map[string]interface{}) *model.ApiRequest {
			return eventRequest(identity, record)
		},
	)
}

// UpdateUser deep merges fields into the user's profile.
func (b *Beacon) UpdateUser(fields map[string]interface{}, handler *ResultHandler) {
	if err := validation.Validate(fields, validation.Required); err != nil {
		b.fail(handler, invalidInput(err))
		return
	}

	b.route(handler,
		func(ctx context.Context) error { return b.anonymous.TrackUserUpdate(ctx, fields) },
		func(identity map[string]interface{}) *model.ApiRequest {
			return userUpdateRequest(identity, fields)
		},
	)
}

// TrackPurchase records a purchase. A zero total defaults to the sum of price times quantity.
func (b *Beacon) TrackPurchase(total decimal.Decimal, items []model.CommerceItem, fields map[string]interface{}, handler *ResultHandler) {
	if total.IsZero() {
		total = model.ItemsTotal(items)
	}
	record := model.EventRecord{
		Type:       model.EventTypePurchase,
		Items:      items,
		Total:      total,
		DataFields: fields,
		CreatedAt:  model.NowMillis(),
	}
	if err := record.Validate(); err != nil {
		b.fail(handler, invalidInput(err))
		return
	}

	b.route(handler,
		func(ctx context.Context) error { return b.anonymous.TrackPurchase(ctx, total, items, fields) },
		func(identity map[string]interface{}) *model.ApiRequest {
			return eventRequest(identity, record)
		},
	)
}

// UpdateCart replaces the user's shopping cart.
func (b *Beacon) UpdateCart(items []model.CommerceItem, handler *ResultHandler) {
	record := model.EventRecord{Type: model.EventTypeUpdateCart, Items: items, Total: model.ItemsTotal(items)}
	if err := record.Validate(); err != nil {
		b.fail(handler, invalidInput(err))
		return
	}

	b.route(handler,
		func(ctx context.Context) error { return b.anonymous.TrackUpdateCart(ctx, items) },
		func(identity map[string]interface{}) *model.ApiRequest {
			return eventRequest(identity, record)
		},
	)
}

// StartSession counts a session for an anonymous visitor. Identified users are tracked server side.
func (b *Beacon) StartSession() {
	if len(b.identity()) > 0 || !b.anonymous.Enabled() {
		return
	}
	b.submit(func(ctx context.Context) {
		if len(b.identity()) > 0 {
			return
		}
		if err := b.anonymous.StartSession(ctx); err != nil {
			logrus.WithError(err).Warn("failed to record anonymous session")
		}
	})
}

// SetAnonymousTracking records consent for anonymous tracking. Withdrawing it clears the buffer.
func (b *Beacon) SetAnonymousTracking(enabled bool) {
	if enabled {
		wasEnabled := b.anonymous.Enabled()
		_ = b.anonymous.SetEnabled(b.ctx, true)
		if !wasEnabled {
			b.refreshCriteria()
		}
		return
	}
	b.submit(func(ctx context.Context) {
		if err := b.anonymous.SetEnabled(ctx, false); err != nil {
			logrus.WithError(err).Warn("failed to clear anonymous buffer")
		}
	})
}

// FetchCriteria downloads the anonymous completion criteria. Start and enabling
// anonymous tracking already fetch them once in the background.
func (b *Beacon) FetchCriteria(ctx context.Context) (*model.CriteriaDocument, error) {
	return b.criteria.Fetch(ctx)
}

// SetOfflineProcessing switches between persisting calls as tasks and sending them right away.
func (b *Beacon) SetOfflineProcessing(offline bool) {
	b.mu.Lock()
	b.offline = offline
	b.mu.Unlock()
	logrus.WithField("offline", offline).Info("offline processing changed")
}

func (b *Beacon) Offline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offline
}

// SetEmail identifies the user by email and clears any user id.
func (b *Beacon) SetEmail(email string) {
	b.identify(email, "")
}

// SetUserID identifies the user by user id and clears any email.
func (b *Beacon) SetUserID(userID string) {
	b.identify("", userID)
}

// Logout forgets the identity, its token and the anonymous buffer. Tasks
// already queued are still delivered.
func (b *Beacon) Logout() {
	b.setIdentity("", "")
	b.submit(func(ctx context.Context) {
		if err := b.anonymous.Reset(ctx); err != nil {
			logrus.WithError(err).Warn("failed to reset anonymous buffer")
		}
	})
}

func (b *Beacon) identify(email, userID string) {
	if !b.setIdentity(email, userID) {
		return
	}

	replay := b.cfg.Anonymous.ReplayOnIdentify
	b.submit(func(ctx context.Context) {
		state, err := b.anonymous.Take(ctx)
		if err != nil {
			logrus.WithError(err).Warn("failed to read anonymous buffer")
		}
		if err := b.anonymous.Reset(ctx); err != nil {
			logrus.WithError(err).Warn("failed to reset anonymous buffer")
		}
		if replay && state != nil {
			b.replay(ctx, state)
		}
	})
}

// setIdentity stores the identity and points the auth manager at it. It
// reports whether the identity changed.
func (b *Beacon) setIdentity(email, userID string) bool {
	b.mu.Lock()
	if b.email == email && b.userID == userID {
		b.mu.Unlock()
		return false
	}
	b.email = email
	b.userID = userID
	b.mu.Unlock()

	b.auth.SetIdentity(email, userID)
	if email != "" || userID != "" {
		b.auth.RequestNewAuthToken(false, false)
	}
	return true
}

func (b *Beacon) identity() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.email != "":
		return map[string]interface{}{"email": b.email}
	case b.userID != "":
		return map[string]interface{}{"userId": b.userID}
	default:
		return nil
	}
}

// promote switches to the user the server created for the anonymous visitor
// and replays what was buffered.
func (b *Beacon) promote(ctx context.Context, p Promotion) {
	b.setIdentity("", p.UserID)
	if b.handlers.OnUserCreated != nil {
		b.deliver(func() { b.handlers.OnUserCreated(p.UserID) })
	}
	b.replay(ctx, &p.State)
}

// replay sends buffered anonymous activity through the identified pipeline.
// It runs on the online worker.
func (b *Beacon) replay(ctx context.Context, state *model.AnonymousState) {
	identity := b.identity()
	if len(identity) == 0 {
		return
	}

	if len(state.PendingUserUpdate) > 0 {
		b.dispatchNow(ctx, userUpdateRequest(identity, state.PendingUserUpdate), nil)
	}
	for _, record := range state.Events {
		if record.Type == model.EventTypeUser {
			continue
		}
		b.dispatchNow(ctx, eventRequest(identity, record), nil)
	}

	logrus.WithFields(logrus.Fields{
		"events":  len(state.Events),
		"profile": len(state.PendingUserUpdate) > 0,
	}).Info("replayed anonymous activity")
}

// route sends an identified call through the online or offline pipeline, or
// buffers it when there is no identity. A call made without identity is routed
// again when it runs, since an earlier queued call may have promoted the visitor.
func (b *Beacon) route(handler *ResultHandler, anonymous func(context.Context) error, build func(identity map[string]interface{}) *model.ApiRequest) {
	identity := b.identity()
	if len(identity) == 0 && !b.anonymous.Enabled() {
		b.fail(handler, ErrNoIdentity)
		return
	}

	if !b.submit(func(ctx context.Context) {
		if len(identity) == 0 {
			identity = b.identity()
		}
		if len(identity) > 0 {
			b.dispatchNow(ctx, build(identity), handler)
			return
		}

		if err := anonymous(ctx); err != nil {
			b.fail(handler, err)
			return
		}
		b.succeed(handler, nil)
	}) {
		b.fail(handler, ErrNotRunning)
	}
}

// dispatchNow schedules req as a task in offline mode and executes it otherwise.
// It runs on the online worker.
func (b *Beacon) dispatchNow(ctx context.Context, req *model.ApiRequest, handler *ResultHandler) {
	req.ApiKey = b.cfg.ApiKey
	req.AuthToken = b.auth.Token()

	if b.Offline() {
		if _, err := b.tasks.Schedule(ctx, req, handler); err != nil {
			logrus.WithFields(logrus.Fields{
				"resource": req.Resource,
				"error":    err,
			}).Warn("failed to schedule task")
			b.fail(handler, err)
		}
		return
	}

	req.Processor = model.ProcessorOnline
	resp := b.executor.Execute(ctx, req)
	if handler != nil {
		b.deliver(func() { handler.handle(resp) })
	}
}

func (b *Beacon) fail(handler *ResultHandler, err error) {
	if handler == nil || handler.OnFailure == nil {
		logrus.WithError(err).Debug("tracking call failed")
		return
	}
	b.deliver(func() { handler.OnFailure(err, nil) })
}

func (b *Beacon) succeed(handler *ResultHandler, body map[string]interface{}) {
	if handler == nil || handler.OnSuccess == nil {
		return
	}
	b.deliver(func() { handler.OnSuccess(body) })
}

func eventRequest(identity map[string]interface{}, record model.EventRecord) *model.ApiRequest {
	switch record.Type {
	case model.EventTypePurchase:
		total, _ := record.Total.Float64()
		body := map[string]interface{}{
			"user":  copyValue(identity),
			"items": itemMaps(record.Items),
			"total": total,
		}
		if len(record.DataFields) > 0 {
			body["dataFields"] = MergeFields(nil, record.DataFields)
		}
		if record.CreatedAt > 0 {
			body["createdAt"] = record.CreatedAt / 1000
		}
		return &model.ApiRequest{Resource: trackPurchaseResource, Method: http.MethodPost, Body: body}
	case model.EventTypeUpdateCart:
		return &model.ApiRequest{Resource: updateCartResource, Method: http.MethodPost, Body: map[string]interface{}{
			"user":  copyValue(identity),
			"items": itemMaps(record.Items),
		}}
	default:
		body := MergeFields(nil, identity)
		body["eventName"] = record.EventName
		if len(record.DataFields) > 0 {
			body["dataFields"] = MergeFields(nil, record.DataFields)
		}
		if record.CreatedAt > 0 {
			body["createdAt"] = record.CreatedAt / 1000
		}
		return &model.ApiRequest{Resource: trackEventResource, Method: http.MethodPost, Body: body}
	}
}

func userUpdateRequest(identity, fields map[string]interface{}) *model.ApiRequest {
	body := MergeFields(nil, identity)
	body["dataFields"] = MergeFields(nil, fields)
	body["mergeNestedObjects"] = true
	return &model.ApiRequest{Resource: updateUserResource, Method: http.MethodPost, Body: body}
}

func itemMaps(items []model.CommerceItem) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToMap())
	}
	return out
}

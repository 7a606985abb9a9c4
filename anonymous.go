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
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/database"
	"github.com/jerry-enebeli/beacon/internal/apierror"
	"github.com/jerry-enebeli/beacon/model"
)

const createUserResource = "anonymoususer/events/session"

type anonymousStore interface {
	GetBlob(key string) ([]byte, error)
	DeleteBlob(key string) error
	UpdateBlob(key string, fn func(current []byte) ([]byte, error)) error
}

type criteriaSource interface {
	Load(ctx context.Context) (*model.CriteriaDocument, error)
	Fetch(ctx context.Context) (*model.CriteriaDocument, error)
}

// Promotion is handed to the identified pipeline once the server created a
// user for the anonymous visitor.
type Promotion struct {
	UserID     string
	CriteriaID string
	State      model.AnonymousState
}

type AnonymousOptions struct {
	Enabled   bool
	Threshold int
	OnPromote func(ctx context.Context, p Promotion)
}

// AnonymousEventBuffer records activity of a visitor without identity and
// creates a user for them once their activity matches a server criterion.
type AnonymousEventBuffer struct {
	store     anonymousStore
	criteria  criteriaSource
	executor  requestExecutor
	threshold int
	onPromote func(context.Context, Promotion)
	now       func() time.Time

	mu        sync.Mutex
	enabled   bool
	pushOptIn bool
	inFlight  bool
	promoted  bool
}

func NewAnonymousEventBuffer(store anonymousStore, criteria criteriaSource, executor requestExecutor, opts AnonymousOptions) *AnonymousEventBuffer {
	return &AnonymousEventBuffer{
		store:     store,
		criteria:  criteria,
		executor:  executor,
		threshold: opts.Threshold,
		onPromote: opts.OnPromote,
		now:       time.Now,
		enabled:   opts.Enabled,
	}
}

func (b *AnonymousEventBuffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled records the visitor's consent. Withdrawing it discards everything buffered.
func (b *AnonymousEventBuffer) SetEnabled(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()

	if !enabled {
		return b.Reset(ctx)
	}
	return nil
}

func (b *AnonymousEventBuffer) SetPushOptIn(optIn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushOptIn = optIn
}

func (b *AnonymousEventBuffer) TrackEvent(ctx context.Context, name string, fields map[string]interface{}) error {
	record := model.EventRecord{
		Type:       model.EventTypeCustom,
		EventName:  name,
		DataFields: MergeFields(nil, fields),
		CreatedAt:  b.now().UnixMilli(),
	}
	return b.record(ctx, func(s *model.AnonymousState) {
		s.Events = append(s.Events, record)
	})
}

// TrackUserUpdate deep merges fields into the pending profile update.
func (b *AnonymousEventBuffer) TrackUserUpdate(ctx context.Context, fields map[string]interface{}) error {
	return b.record(ctx, func(s *model.AnonymousState) {
		s.PendingUserUpdate = MergeFields(s.PendingUserUpdate, fields)
	})
}

func (b *AnonymousEventBuffer) TrackPurchase(ctx context.Context, total decimal.Decimal, items []model.CommerceItem, fields map[string]interface{}) error {
	record := model.EventRecord{
		Type:       model.EventTypePurchase,
		DataFields: MergeFields(nil, fields),
		Items:      append([]model.CommerceItem(nil), items...),
		Total:      total,
		CreatedAt:  b.now().UnixMilli(),
	}
	return b.record(ctx, func(s *model.AnonymousState) {
		s.Events = append(s.Events, record)
	})
}

func (b *AnonymousEventBuffer) TrackUpdateCart(ctx context.Context, items []model.CommerceItem) error {
	record := model.EventRecord{
		Type:      model.EventTypeUpdateCart,
		Items:     append([]model.CommerceItem(nil), items...),
		Total:     model.ItemsTotal(items),
		CreatedAt: b.now().UnixMilli(),
	}
	return b.record(ctx, func(s *model.AnonymousState) {
		s.Events = append(s.Events, record)
	})
}

// StartSession counts a new anonymous session. Session bookkeeping survives event eviction.
func (b *AnonymousEventBuffer) StartSession(ctx context.Context) error {
	now := b.now().UnixMilli()
	return b.record(ctx, func(s *model.AnonymousState) {
		s.Session.Start(now)
	})
}

// State returns the buffered state. It is empty when nothing was recorded.
func (b *AnonymousEventBuffer) State(ctx context.Context) (*model.AnonymousState, error) {
	raw, err := b.store.GetBlob(database.KeyAnonymousState)
	if err != nil {
		return nil, err
	}
	return decodeAnonymousState(raw)
}

// Take returns the buffered state and clears it in one step.
func (b *AnonymousEventBuffer) Take(ctx context.Context) (*model.AnonymousState, error) {
	var taken *model.AnonymousState
	err := b.store.UpdateBlob(database.KeyAnonymousState, func(current []byte) ([]byte, error) {
		state, err := decodeAnonymousState(current)
		if err != nil {
			return nil, err
		}
		taken = state
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// Reset clears the buffer, the session bookkeeping and the match state.
func (b *AnonymousEventBuffer) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.inFlight = false
	b.promoted = false
	b.mu.Unlock()

	return b.store.DeleteBlob(database.KeyAnonymousState)
}

func (b *AnonymousEventBuffer) record(ctx context.Context, mutate func(*model.AnonymousState)) error {
	if !b.Enabled() {
		return nil
	}

	var snapshot *model.AnonymousState
	err := b.store.UpdateBlob(database.KeyAnonymousState, func(current []byte) ([]byte, error) {
		state, err := decodeAnonymousState(current)
		if err != nil {
			return nil, err
		}
		mutate(state)
		state.Trim(b.threshold)
		snapshot = state
		return json.Marshal(state)
	})
	if err != nil {
		return err
	}

	b.evaluate(ctx, snapshot)
	return nil
}

func decodeAnonymousState(raw []byte) (*model.AnonymousState, error) {
	state := &model.AnonymousState{}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, err
	}
	return state, nil
}

// evaluate runs the criteria against state and starts a promotion on a match.
// At most one promotion is in flight, and none after one succeeded.
func (b *AnonymousEventBuffer) evaluate(ctx context.Context, state *model.AnonymousState) {
	if !b.armed() {
		return
	}

	doc, err := b.criteria.Load(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to load anonymous criteria")
		return
	}

	criteriaID, ok := MatchCriteria(doc, state)
	if !ok {
		return
	}

	b.mu.Lock()
	if b.inFlight || b.promoted {
		b.mu.Unlock()
		return
	}
	b.inFlight = true
	b.mu.Unlock()

	b.createUser(ctx, criteriaID, state)
}

func (b *AnonymousEventBuffer) armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.inFlight && !b.promoted
}

func (b *AnonymousEventBuffer) createUser(ctx context.Context, criteriaID string, state *model.AnonymousState) {
	b.mu.Lock()
	pushOptIn := b.pushOptIn
	b.mu.Unlock()

	userID := uuid.New().String()
	resp := b.executor.Execute(ctx, &model.ApiRequest{
		Resource: createUserResource,
		Method:   http.MethodPost,
		Body: map[string]interface{}{
			"user": map[string]interface{}{
				"userId":          userID,
				"dataFields":      MergeFields(nil, state.PendingUserUpdate),
				"preferUserId":    true,
				"createNewFields": true,
			},
			"createdAt": b.now().Unix(),
			"anonSessionContext": map[string]interface{}{
				"totalAnonSessionCount": state.Session.SessionNumber,
				"firstAnonSession":      state.Session.FirstSession,
				"lastAnonSession":       state.Session.LastSession,
				"webPushOptIn":          pushOptIn,
				"matchedCriteriaId":     criteriaID,
			},
		},
	})

	switch {
	case resp.Success():
		b.promote(ctx, userID, criteriaID, state)
	case resp.Code() == apierror.ErrConflict:
		logrus.WithField("criteria_id", criteriaID).Warn("anonymous user already exists, refreshing criteria")
		b.disarm()
		if _, err := b.criteria.Fetch(ctx); err != nil {
			logrus.WithError(err).Warn("failed to refresh anonymous criteria")
		}
	default:
		logrus.WithFields(logrus.Fields{
			"criteria_id": criteriaID,
			"error":       resp.Err,
		}).Warn("failed to create anonymous user")
		b.disarm()
	}
}

func (b *AnonymousEventBuffer) disarm() {
	b.mu.Lock()
	b.inFlight = false
	b.mu.Unlock()
}

func (b *AnonymousEventBuffer) promote(ctx context.Context, userID, criteriaID string, fallback *model.AnonymousState) {
	b.mu.Lock()
	b.inFlight = false
	b.promoted = true
	b.mu.Unlock()

	state, err := b.Take(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to clear anonymous buffer after promotion")
		state = fallback
	}
	state.MatchedCriteriaID = criteriaID

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"criteria_id": criteriaID,
		"events":      len(state.Events),
	}).Info("anonymous visitor promoted")

	if b.onPromote != nil {
		b.onPromote(ctx, Promotion{UserID: userID, CriteriaID: criteriaID, State: *state})
	}
}

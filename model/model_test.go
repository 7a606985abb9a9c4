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
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("task")
	assert.True(t, strings.HasPrefix(id, "task_"))

	_, err := uuid.Parse(strings.TrimPrefix(id, "task_"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("task"))
}

func TestMillisRoundTrip(t *testing.T) {
	now := NowMillis()
	assert.WithinDuration(t, time.Now(), MillisToTime(now), time.Second)
}

func TestTaskFieldColumn(t *testing.T) {
	for _, field := range []TaskField{
		FieldAttempts, FieldProcessing, FieldFailed, FieldBlocking,
		FieldError, FieldScheduledAt, FieldRequestedAt, FieldLastAttemptedAt,
	} {
		column, err := field.Column()
		require.NoError(t, err)
		assert.NotEmpty(t, column)
	}

	_, err := TaskField(99).Column()
	assert.Error(t, err)

	column, _ := FieldLastAttemptedAt.Column()
	assert.Equal(t, "last_attempted_at", column)
}

func TestApiRequestPayload(t *testing.T) {
	req := &ApiRequest{
		ApiKey:    "key",
		Resource:  "events/track",
		Method:    "POST",
		Body:      map[string]interface{}{"eventName": "opened"},
		AuthToken: "token",
	}

	payload, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeApiRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, req.Resource, decoded.Resource)
	assert.Equal(t, "opened", decoded.Body["eventName"])
	assert.Equal(t, "token", decoded.AuthToken)

	_, err = DecodeApiRequest("{")
	assert.Error(t, err)
}

func TestAuthFailureReason(t *testing.T) {
	assert.Equal(t, "AUTH_TOKEN_NULL", AuthTokenNull.String())
	assert.Equal(t, "AUTH_TOKEN_PAYLOAD_INVALID", AuthTokenPayloadInvalid.String())
	assert.Equal(t, "AUTH_TOKEN_GENERIC_ERROR", AuthFailureReason(99).String())

	assert.Equal(t, AuthTokenPayloadInvalid, AuthFailureReasonFromCode("InvalidJwtPayload"))
	assert.Equal(t, AuthTokenMissing, AuthFailureReasonFromCode("BadAuthorizationHeader"))
	assert.Equal(t, AuthTokenUserKeyInvalid, AuthFailureReasonFromCode("JwtUserIdentifiersMismatched"))
	assert.Equal(t, AuthTokenGenericError, AuthFailureReasonFromCode("SomethingElse"))

	assert.True(t, IsJwtErrorCode("InvalidJwtPayload"))
	assert.False(t, IsJwtErrorCode("BadApiKey"))
}

func TestCommerceItemsTotal(t *testing.T) {
	items := []CommerceItem{
		{ID: "1", Name: "shoe", Price: mustDecimal(t, "19.99"), Quantity: 2},
		{ID: "2", Name: "sock", Price: mustDecimal(t, "0.01"), Quantity: 3},
	}
	assert.Equal(t, "40.01", ItemsTotal(items).String())
	assert.Equal(t, "0", ItemsTotal(nil).String())
}

func TestSessionMetaStart(t *testing.T) {
	var meta SessionMeta
	meta.Start(1000)
	meta.Start(2000)
	meta.Start(3000)

	assert.Equal(t, 3, meta.SessionNumber)
	assert.Equal(t, int64(1000), meta.FirstSession)
	assert.Equal(t, int64(3000), meta.LastSession)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "0", Stringify(float64(0)))
	assert.Equal(t, "19.99", Stringify(19.99))
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "", Stringify(nil))
}

func TestAnonymousStateTrim(t *testing.T) {
	state := AnonymousState{}
	for i := 0; i < 7; i++ {
		state.Events = append(state.Events, EventRecord{Type: EventTypeCustom, CreatedAt: int64(i)})
	}
	state.Trim(5)
	require.Len(t, state.Events, 5)
	assert.Equal(t, int64(2), state.Events[0].CreatedAt)
	assert.Equal(t, int64(6), state.Events[4].CreatedAt)

	state.Trim(10)
	assert.Len(t, state.Events, 5)
}

func TestEventRecordValidate(t *testing.T) {
	item := CommerceItem{ID: "sku-1", Name: "Mug", Price: decimal.NewFromInt(8), Quantity: 1}

	tests := []struct {
		name    string
		record  EventRecord
		wantErr bool
	}{
		{name: "custom event", record: EventRecord{Type: EventTypeCustom, EventName: "opened"}},
		{name: "custom event without name", record: EventRecord{Type: EventTypeCustom}, wantErr: true},
		{name: "unknown type", record: EventRecord{Type: "pageView", EventName: "x"}, wantErr: true},
		{name: "purchase", record: EventRecord{Type: EventTypePurchase, Items: []CommerceItem{item}, Total: decimal.NewFromInt(8)}},
		{name: "purchase without items", record: EventRecord{Type: EventTypePurchase}, wantErr: true},
		{name: "negative total", record: EventRecord{Type: EventTypePurchase, Items: []CommerceItem{item}, Total: decimal.NewFromInt(-1)}, wantErr: true},
		{name: "item without quantity", record: EventRecord{Type: EventTypeUpdateCart, Items: []CommerceItem{{ID: "a", Name: "b"}}}, wantErr: true},
		{name: "item with negative price", record: EventRecord{Type: EventTypeUpdateCart, Items: []CommerceItem{{ID: "a", Name: "b", Quantity: 1, Price: decimal.NewFromInt(-3)}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

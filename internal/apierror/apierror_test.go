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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/beacon/internal/apierror"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInvalidRequest, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInvalidRequest, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INVALID_REQUEST: Something went wrong", apiErr.Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		transport  error
		expected   apierror.ErrorCode
		serverCode string
	}{
		{name: "OK with JSON", status: http.StatusOK, body: `{"msg":"ok"}`},
		{name: "OK with empty body", status: http.StatusOK, body: ""},
		{name: "OK with garbage", status: http.StatusOK, body: "<html>", expected: apierror.ErrInvalidRequest},
		{name: "OK with non JSON text", status: http.StatusOK, body: "not json", expected: apierror.ErrInvalidRequest},
		{name: "Invalid JWT payload", status: http.StatusUnauthorized, body: `{"code":"InvalidJwtPayload"}`, expected: apierror.ErrAuthFailure, serverCode: "InvalidJwtPayload"},
		{name: "Bad authorization header", status: http.StatusUnauthorized, body: `{"code":"BadAuthorizationHeader"}`, expected: apierror.ErrAuthFailure, serverCode: "BadAuthorizationHeader"},
		{name: "Mismatched identifiers", status: http.StatusUnauthorized, body: `{"code":"JwtUserIdentifiersMismatched"}`, expected: apierror.ErrAuthFailure, serverCode: "JwtUserIdentifiersMismatched"},
		{name: "Bad API key", status: http.StatusUnauthorized, body: `{"code":"BadApiKey","msg":"Invalid API key"}`, expected: apierror.ErrInvalidApiKey, serverCode: "BadApiKey"},
		{name: "Conflict", status: http.StatusConflict, body: `{}`, expected: apierror.ErrConflict},
		{name: "Bad request", status: http.StatusBadRequest, body: `{"code":"BadParams"}`, expected: apierror.ErrInvalidRequest, serverCode: "BadParams"},
		{name: "Server error", status: http.StatusBadGateway, body: "", expected: apierror.ErrRetryable},
		{name: "Transport error", transport: errors.New("connection refused"), expected: apierror.ErrRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := apierror.Classify(tt.status, []byte(tt.body), tt.transport)
			if tt.expected == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var apiErr apierror.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.expected, apiErr.Code)
			assert.Equal(t, tt.serverCode, apiErr.ServerCode)
		})
	}
}

func TestClassify_MessageFallsBackToStatusText(t *testing.T) {
	err := apierror.Classify(http.StatusNotFound, nil, nil)
	assert.EqualError(t, err, "INVALID_REQUEST: Not Found")

	err = apierror.Classify(http.StatusUnauthorized, []byte(`{"msg":"Invalid API key"}`), nil)
	assert.EqualError(t, err, "INVALID_API_KEY: Invalid API key")
}

func TestRetryable(t *testing.T) {
	assert.True(t, apierror.IsRetryable(apierror.Classify(http.StatusServiceUnavailable, nil, nil)))
	assert.True(t, apierror.IsRetryable(errors.New("dial tcp: timeout")))
	assert.False(t, apierror.IsRetryable(apierror.Classify(http.StatusBadRequest, nil, nil)))
	assert.False(t, apierror.IsRetryable(apierror.Classify(http.StatusOK, []byte("not json"), nil)))
	assert.False(t, apierror.IsRetryable(nil))

	wrapped := fmt.Errorf("send: %w", apierror.Classify(http.StatusConflict, nil, nil))
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(wrapped))
	assert.Equal(t, apierror.ErrorCode(""), apierror.CodeOf(errors.New("plain")))
}

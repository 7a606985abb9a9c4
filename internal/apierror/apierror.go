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

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/model"
)

type ErrorCode string

const (
	ErrAuthFailure    ErrorCode = "AUTH_FAILURE"
	ErrInvalidApiKey  ErrorCode = "INVALID_API_KEY"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrRetryable      ErrorCode = "RETRYABLE"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
)

type APIError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code,omitempty"`
	ServerCode string                 `json:"server_code,omitempty"`
	Body       map[string]interface{} `json:"body,omitempty"`
	Details    interface{}            `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the same request may succeed if sent again later.
func (e APIError) Retryable() bool {
	return e.Code == ErrRetryable || e.Code == ErrAuthFailure
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.WithField("code", code).Debug(message)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the code of an APIError anywhere in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsRetryable reports whether err is worth retrying. Errors that are not
// APIErrors are treated as transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// DecodeBody parses a JSON object response. An empty body decodes to an empty map.
func DecodeBody(body []byte) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if len(body) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Classify maps the outcome of one call onto the error taxonomy. It returns nil
// for a 2xx response with an empty or JSON object body.
//
// Parameters:
// - statusCode int: The HTTP status, ignored when transportErr is set.
// - body []byte: The raw response body.
// - transportErr error: The error returned by the transport, if any.
//
// Returns:
// - error: nil on success, otherwise an APIError.
func Classify(statusCode int, body []byte, transportErr error) error {
	if transportErr != nil {
		return APIError{Code: ErrRetryable, Message: transportErr.Error(), Details: transportErr}
	}

	payload, decodeErr := DecodeBody(body)
	serverCode, message := describe(payload, statusCode)

	newErr := func(code ErrorCode) APIError {
		return APIError{
			Code:       code,
			Message:    message,
			StatusCode: statusCode,
			ServerCode: serverCode,
			Body:       payload,
		}
	}

	switch {
	case statusCode < http.StatusMultipleChoices:
		if decodeErr != nil {
			apiErr := newErr(ErrInvalidRequest)
			apiErr.Message = "could not parse response body"
			apiErr.Details = decodeErr
			return apiErr
		}
		return nil
	case statusCode == http.StatusUnauthorized:
		if model.IsJwtErrorCode(serverCode) {
			return newErr(ErrAuthFailure)
		}
		return newErr(ErrInvalidApiKey)
	case statusCode == http.StatusConflict:
		return newErr(ErrConflict)
	case statusCode >= http.StatusInternalServerError:
		return newErr(ErrRetryable)
	default:
		return newErr(ErrInvalidRequest)
	}
}

func describe(payload map[string]interface{}, statusCode int) (string, string) {
	var code, message string
	if payload != nil {
		code, _ = payload["code"].(string)
		message, _ = payload["msg"].(string)
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return code, message
}
